// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/repolens/repolens/internal/database"
	"github.com/repolens/repolens/internal/logging"
	"github.com/repolens/repolens/internal/models"
	"github.com/repolens/repolens/internal/models/bitbucket"
)

// BitbucketService mirrors Bitbucket workspaces, projects, repositories,
// commits and pull requests into the database.
type BitbucketService struct {
	client    *BitbucketClient
	db        *database.DB
	batchSize int
}

// NewBitbucketService wires the Bitbucket client to the database.
func NewBitbucketService(client *BitbucketClient, db *database.DB, batchSize int) *BitbucketService {
	return &BitbucketService{
		client:    client,
		db:        db,
		batchSize: batchSize,
	}
}

// add folds another batch outcome into the summary, keeping the duration
// of the whole run with the caller.
func (s *Summary) add(other Summary) {
	s.Total += other.Total
	s.Successful += other.Successful
	s.Failed += other.Failed
}

// ensureWorkspace returns the local id of a workspace, mirroring it from
// the API when it has not been synced yet.
func (s *BitbucketService) ensureWorkspace(ctx context.Context, slug string) (uuid.UUID, error) {
	ws, err := s.db.GetWorkspaceBySlug(ctx, slug)
	if err == nil {
		return ws.ID, nil
	}
	if !errors.Is(err, database.ErrWorkspaceNotFound) {
		return uuid.Nil, err
	}

	remote, err := s.client.GetWorkspace(ctx, slug)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to fetch workspace %s: %w", slug, err)
	}
	return s.db.UpsertWorkspace(ctx, models.WorkspaceFromBitbucket(*remote))
}

// SyncWorkspace mirrors a workspace with its projects and repository
// metadata. Commits and pull requests are synced per repository.
func (s *BitbucketService) SyncWorkspace(ctx context.Context, slug string) (Summary, error) {
	logging.Info().Str("workspace", slug).Msg("Syncing workspace")

	remote, err := s.client.GetWorkspace(ctx, slug)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to fetch workspace %s: %w", slug, err)
	}
	workspaceID, err := s.db.UpsertWorkspace(ctx, models.WorkspaceFromBitbucket(*remote))
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Total: 1, Successful: 1}

	projects, err := s.client.GetWorkspaceProjects(ctx, slug)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch projects of %s: %w", slug, err)
	}
	projectIDs := make(map[string]uuid.UUID, len(projects))
	projectBatch, err := runBatch(ctx, "project", projects, s.batchSize,
		func(ctx context.Context, p bitbucket.Project) error {
			id, err := s.db.UpsertProject(ctx, models.ProjectFromBitbucket(p, workspaceID))
			if err != nil {
				return err
			}
			projectIDs[p.Key] = id
			return nil
		})
	summary.add(projectBatch)
	if err != nil {
		return summary, err
	}

	repos, err := s.client.GetWorkspaceRepositories(ctx, slug)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch repositories of %s: %w", slug, err)
	}
	repoBatch, err := runBatch(ctx, "repository", repos, s.batchSize,
		func(ctx context.Context, r bitbucket.Repository) error {
			_, err := s.db.UpsertRepository(ctx, models.RepositoryFromBitbucket(r, workspaceID, s.projectID(projectIDs, r)))
			return err
		})
	summary.add(repoBatch)
	if err != nil {
		return summary, err
	}

	// Member count is informational; its failure never fails the sync.
	members, err := s.client.CountWorkspaceMembers(ctx, slug)
	if err != nil {
		logging.Warn().Err(err).Str("workspace", slug).Msg("Failed to count workspace members")
		members = 0
	}
	if err := s.db.UpdateWorkspaceAggregates(ctx, workspaceID, members); err != nil {
		return summary, err
	}

	return summary, nil
}

func (s *BitbucketService) projectID(ids map[string]uuid.UUID, r bitbucket.Repository) *uuid.UUID {
	if r.Project == nil {
		return nil
	}
	if id, ok := ids[r.Project.Key]; ok {
		return &id
	}
	return nil
}

// SyncProjectRepositories mirrors one project and its repositories,
// including each repository's commits and pull requests.
func (s *BitbucketService) SyncProjectRepositories(ctx context.Context, workspace, projectKey string) (Summary, error) {
	logging.Info().
		Str("workspace", workspace).
		Str("project", projectKey).
		Msg("Syncing project repositories")

	workspaceID, err := s.ensureWorkspace(ctx, workspace)
	if err != nil {
		return Summary{}, err
	}

	remote, err := s.client.GetProject(ctx, workspace, projectKey)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to fetch project %s: %w", projectKey, err)
	}
	projectID, err := s.db.UpsertProject(ctx, models.ProjectFromBitbucket(*remote, workspaceID))
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Total: 1, Successful: 1}

	repos, err := s.client.GetProjectRepositories(ctx, workspace, projectKey)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch repositories of project %s: %w", projectKey, err)
	}
	batch, err := runBatch(ctx, "repository", repos, s.batchSize,
		func(ctx context.Context, r bitbucket.Repository) error {
			repoID, err := s.db.UpsertRepository(ctx, models.RepositoryFromBitbucket(r, workspaceID, &projectID))
			if err != nil {
				return err
			}
			detail, err := s.syncRepositoryDetail(ctx, workspace, r.Slug, repoID)
			summary.add(detail)
			return err
		})
	summary.add(batch)
	if err != nil {
		return summary, err
	}

	if err := s.db.UpdateProjectAggregates(ctx, projectID); err != nil {
		return summary, err
	}
	return summary, nil
}

// SyncRepository mirrors one repository with its commits and pull
// requests.
func (s *BitbucketService) SyncRepository(ctx context.Context, workspace, slug string) (Summary, error) {
	logging.Info().
		Str("workspace", workspace).
		Str("repository", slug).
		Msg("Syncing repository")

	workspaceID, err := s.ensureWorkspace(ctx, workspace)
	if err != nil {
		return Summary{}, err
	}

	remote, err := s.client.GetRepository(ctx, workspace, slug)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to fetch repository %s: %w", slug, err)
	}

	var projectID *uuid.UUID
	if remote.Project != nil {
		project, err := s.db.GetProjectByKey(ctx, workspaceID, remote.Project.Key)
		switch {
		case err == nil:
			projectID = &project.ID
		case errors.Is(err, database.ErrProjectNotFound):
			id, err := s.db.UpsertProject(ctx, models.ProjectFromBitbucket(*remote.Project, workspaceID))
			if err != nil {
				return Summary{}, err
			}
			projectID = &id
		default:
			return Summary{}, err
		}
	}

	repoID, err := s.db.UpsertRepository(ctx, models.RepositoryFromBitbucket(*remote, workspaceID, projectID))
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Total: 1, Successful: 1}

	detail, err := s.syncRepositoryDetail(ctx, workspace, slug, repoID)
	summary.add(detail)
	return summary, err
}

// syncRepositoryDetail mirrors the commits and pull requests of one
// repository that already has a local row.
func (s *BitbucketService) syncRepositoryDetail(ctx context.Context, workspace, slug string, repoID uuid.UUID) (Summary, error) {
	var summary Summary

	commits, err := s.client.GetRepositoryCommits(ctx, workspace, slug)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch commits of %s: %w", slug, err)
	}
	commitBatch, err := runBatch(ctx, "commit", commits, s.batchSize,
		func(ctx context.Context, c bitbucket.Commit) error {
			return s.db.UpsertCommit(ctx, models.CommitFromBitbucket(c, repoID))
		})
	summary.add(commitBatch)
	if err != nil {
		return summary, err
	}

	prs, err := s.client.GetRepositoryPullRequests(ctx, workspace, slug)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch pull requests of %s: %w", slug, err)
	}
	prBatch, err := runBatch(ctx, "pull_request", prs, s.batchSize,
		func(ctx context.Context, pr bitbucket.PullRequest) error {
			return s.db.UpsertPullRequest(ctx, models.PullRequestFromBitbucket(pr, repoID))
		})
	summary.add(prBatch)
	return summary, err
}

// SyncAll mirrors a workspace and then the commits and pull requests of
// every repository it contains.
func (s *BitbucketService) SyncAll(ctx context.Context, workspace string) (Summary, error) {
	summary, err := s.SyncWorkspace(ctx, workspace)
	if err != nil {
		return summary, err
	}

	ws, err := s.db.GetWorkspaceBySlug(ctx, workspace)
	if err != nil {
		return summary, err
	}
	repos, err := s.db.ListRepositories(ctx, ws.ID)
	if err != nil {
		return summary, err
	}

	for _, repo := range repos {
		detail, err := s.syncRepositoryDetail(ctx, workspace, repo.Slug, repo.ID)
		summary.add(detail)
		if err != nil {
			// One broken repository must not abort the workspace run.
			logging.Error().Err(err).
				Str("repository", repo.Slug).
				Msg("Repository detail sync failed")
			summary.Failed++
		}
	}
	return summary, nil
}
