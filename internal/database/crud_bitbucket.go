// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/repolens/repolens/internal/metrics"
	"github.com/repolens/repolens/internal/models"
)

// Bitbucket entity errors
var (
	ErrWorkspaceNotFound  = errors.New("workspace not found")
	ErrProjectNotFound    = errors.New("project not found")
	ErrRepositoryNotFound = errors.New("repository not found")
)

// UpsertWorkspace inserts or refreshes a workspace keyed on its slug and
// returns the persisted surrogate id. Identity fields (slug, uuid) keep
// their first-write values; aggregates are managed separately by
// UpdateWorkspaceAggregates.
func (db *DB) UpsertWorkspace(ctx context.Context, w *models.Workspace) (uuid.UUID, error) {
	query := `INSERT INTO workspaces (
		id, bitbucket_uuid, bitbucket_id, slug, name, is_private,
		description, website, location,
		total_repositories, total_projects, total_members,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (slug) DO UPDATE SET
		name = EXCLUDED.name,
		is_private = EXCLUDED.is_private,
		description = EXCLUDED.description,
		website = EXCLUDED.website,
		location = EXCLUDED.location,
		updated_at = EXCLUDED.updated_at`

	stmt, err := db.prepareCached(ctx, query)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := stmt.ExecContext(ctx,
		w.ID.String(), w.BitbucketUUID, w.BitbucketID, w.Slug, w.Name, w.IsPrivate,
		w.Description, w.Website, w.Location,
		w.TotalRepositories, w.TotalProjects, w.TotalMembers,
		w.CreatedAt, w.UpdatedAt,
	); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("upsert", "workspaces").Inc()
		return uuid.Nil, fmt.Errorf("failed to upsert workspace %s: %w", w.Slug, err)
	}
	metrics.DBOperationsTotal.WithLabelValues("upsert", "workspaces").Inc()

	return db.idByNaturalKey(ctx, `SELECT id FROM workspaces WHERE slug = ?`, w.Slug)
}

// GetWorkspaceBySlug fetches one workspace or ErrWorkspaceNotFound.
func (db *DB) GetWorkspaceBySlug(ctx context.Context, slug string) (*models.Workspace, error) {
	query := `SELECT
		id, bitbucket_uuid, bitbucket_id, slug, name, is_private,
		description, website, location,
		total_repositories, total_projects, total_members,
		created_at, updated_at
	FROM workspaces WHERE slug = ?`

	var (
		w                               models.Workspace
		id                              string
		description, website, location sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, query, slug).Scan(
		&id, &w.BitbucketUUID, &w.BitbucketID, &w.Slug, &w.Name, &w.IsPrivate,
		&description, &website, &location,
		&w.TotalRepositories, &w.TotalProjects, &w.TotalMembers,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace %s: %w", slug, err)
	}

	w.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("workspace %s has malformed id %q: %w", slug, id, err)
	}
	w.Description = description.String
	w.Website = website.String
	w.Location = location.String
	return &w, nil
}

// UpdateWorkspaceAggregates recomputes the repository and project counters
// from mirrored rows and stores the member count reported by the API.
func (db *DB) UpdateWorkspaceAggregates(ctx context.Context, workspaceID uuid.UUID, totalMembers int) error {
	query := `UPDATE workspaces SET
		total_repositories = (SELECT COUNT(*) FROM repositories WHERE workspace_id = ?),
		total_projects = (SELECT COUNT(*) FROM projects WHERE workspace_id = ?),
		total_members = ?
	WHERE id = ?`

	id := workspaceID.String()
	if _, err := db.conn.ExecContext(ctx, query, id, id, totalMembers, id); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("update", "workspaces").Inc()
		return fmt.Errorf("failed to update workspace aggregates: %w", err)
	}
	metrics.DBOperationsTotal.WithLabelValues("update", "workspaces").Inc()
	return nil
}

// UpsertProject inserts or refreshes a project keyed on its Bitbucket UUID
// and returns the persisted surrogate id.
func (db *DB) UpsertProject(ctx context.Context, p *models.Project) (uuid.UUID, error) {
	query := `INSERT INTO projects (
		id, workspace_id, bitbucket_uuid, bitbucket_id, key, name, is_private,
		description, avatar_url,
		total_repositories, total_commits, total_pull_requests,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (bitbucket_uuid) DO UPDATE SET
		name = EXCLUDED.name,
		is_private = EXCLUDED.is_private,
		description = EXCLUDED.description,
		avatar_url = EXCLUDED.avatar_url,
		updated_at = EXCLUDED.updated_at`

	stmt, err := db.prepareCached(ctx, query)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := stmt.ExecContext(ctx,
		p.ID.String(), p.WorkspaceID.String(), p.BitbucketUUID, p.BitbucketID, p.Key, p.Name, p.IsPrivate,
		p.Description, p.AvatarURL,
		p.TotalRepositories, p.TotalCommits, p.TotalPullRequests,
		p.CreatedAt, p.UpdatedAt,
	); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("upsert", "projects").Inc()
		return uuid.Nil, fmt.Errorf("failed to upsert project %s: %w", p.Key, err)
	}
	metrics.DBOperationsTotal.WithLabelValues("upsert", "projects").Inc()

	return db.idByNaturalKey(ctx, `SELECT id FROM projects WHERE bitbucket_uuid = ?`, p.BitbucketUUID)
}

// GetProjectByKey fetches a project inside a workspace or
// ErrProjectNotFound. Project keys are only unique per workspace.
func (db *DB) GetProjectByKey(ctx context.Context, workspaceID uuid.UUID, key string) (*models.Project, error) {
	query := `SELECT
		id, workspace_id, bitbucket_uuid, bitbucket_id, key, name, is_private,
		description, avatar_url,
		total_repositories, total_commits, total_pull_requests,
		created_at, updated_at
	FROM projects WHERE workspace_id = ? AND key = ?`

	row := db.conn.QueryRowContext(ctx, query, workspaceID.String(), key)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", key, err)
	}
	return p, nil
}

// UpdateProjectAggregates recomputes a project's repository, commit, and
// pull request counters from mirrored rows.
func (db *DB) UpdateProjectAggregates(ctx context.Context, projectID uuid.UUID) error {
	query := `UPDATE projects SET
		total_repositories = (SELECT COUNT(*) FROM repositories WHERE project_id = ?),
		total_commits = (SELECT COUNT(*) FROM commits c
			JOIN repositories r ON c.repository_id = r.id WHERE r.project_id = ?),
		total_pull_requests = (SELECT COUNT(*) FROM pull_requests pr
			JOIN repositories r ON pr.repository_id = r.id WHERE r.project_id = ?)
	WHERE id = ?`

	id := projectID.String()
	if _, err := db.conn.ExecContext(ctx, query, id, id, id, id); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("update", "projects").Inc()
		return fmt.Errorf("failed to update project aggregates: %w", err)
	}
	metrics.DBOperationsTotal.WithLabelValues("update", "projects").Inc()
	return nil
}

// UpsertRepository inserts or refreshes a repository keyed on its Bitbucket
// UUID and returns the persisted surrogate id.
func (db *DB) UpsertRepository(ctx context.Context, r *models.Repository) (uuid.UUID, error) {
	query := `INSERT INTO repositories (
		id, workspace_id, project_id, bitbucket_uuid, bitbucket_id,
		slug, name, is_private, description, language,
		avatar_url, website, size_bytes,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (bitbucket_uuid) DO UPDATE SET
		project_id = EXCLUDED.project_id,
		name = EXCLUDED.name,
		is_private = EXCLUDED.is_private,
		description = EXCLUDED.description,
		language = EXCLUDED.language,
		avatar_url = EXCLUDED.avatar_url,
		website = EXCLUDED.website,
		size_bytes = EXCLUDED.size_bytes,
		updated_at = EXCLUDED.updated_at`

	var projectID any
	if r.ProjectID != nil {
		projectID = r.ProjectID.String()
	}

	stmt, err := db.prepareCached(ctx, query)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := stmt.ExecContext(ctx,
		r.ID.String(), r.WorkspaceID.String(), projectID, r.BitbucketUUID, r.BitbucketID,
		r.Slug, r.Name, r.IsPrivate, r.Description, r.Language,
		r.AvatarURL, r.Website, r.SizeBytes,
		r.CreatedAt, r.UpdatedAt,
	); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("upsert", "repositories").Inc()
		return uuid.Nil, fmt.Errorf("failed to upsert repository %s: %w", r.Slug, err)
	}
	metrics.DBOperationsTotal.WithLabelValues("upsert", "repositories").Inc()

	return db.idByNaturalKey(ctx, `SELECT id FROM repositories WHERE bitbucket_uuid = ?`, r.BitbucketUUID)
}

// GetRepositoryBySlug fetches a repository inside a workspace or
// ErrRepositoryNotFound.
func (db *DB) GetRepositoryBySlug(ctx context.Context, workspaceID uuid.UUID, slug string) (*models.Repository, error) {
	query := repositorySelect + ` WHERE workspace_id = ? AND slug = ?`

	row := db.conn.QueryRowContext(ctx, query, workspaceID.String(), slug)
	r, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRepositoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %s: %w", slug, err)
	}
	return r, nil
}

// FindRepositoryBySlug looks a repository up by slug across all
// workspaces. With several matches the oldest mirrored row wins.
func (db *DB) FindRepositoryBySlug(ctx context.Context, slug string) (*models.Repository, error) {
	query := repositorySelect + ` WHERE slug = ? ORDER BY created_at LIMIT 1`

	row := db.conn.QueryRowContext(ctx, query, slug)
	r, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRepositoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find repository %s: %w", slug, err)
	}
	return r, nil
}

// ListRepositories returns every mirrored repository in a workspace,
// ordered by slug. The linker walks this list to match SonarCloud project
// keys.
func (db *DB) ListRepositories(ctx context.Context, workspaceID uuid.UUID) ([]*models.Repository, error) {
	query := repositorySelect + ` WHERE workspace_id = ? ORDER BY slug`

	rows, err := db.conn.QueryContext(ctx, query, workspaceID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// UpsertCommit inserts or refreshes a commit keyed on its hash.
func (db *DB) UpsertCommit(ctx context.Context, c *models.Commit) error {
	query := `INSERT INTO commits (
		id, repository_id, hash, bitbucket_id, message,
		author_name, author_email, commit_date, author_date, is_merge,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (hash) DO UPDATE SET
		message = EXCLUDED.message,
		author_name = EXCLUDED.author_name,
		author_email = EXCLUDED.author_email,
		is_merge = EXCLUDED.is_merge,
		updated_at = EXCLUDED.updated_at`

	stmt, err := db.prepareCached(ctx, query)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx,
		c.ID.String(), c.RepositoryID.String(), c.Hash, c.BitbucketID, c.Message,
		c.AuthorName, c.AuthorEmail, c.CommitDate, c.AuthorDate, c.IsMerge,
		c.CreatedAt, c.UpdatedAt,
	); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("upsert", "commits").Inc()
		return fmt.Errorf("failed to upsert commit %s: %w", c.Hash, err)
	}
	metrics.DBOperationsTotal.WithLabelValues("upsert", "commits").Inc()
	return nil
}

// UpsertPullRequest inserts or refreshes a pull request keyed on
// (repository, upstream id). Upstream pull request ids restart at 1 per
// repository, so the repository scopes the conflict target.
func (db *DB) UpsertPullRequest(ctx context.Context, pr *models.PullRequest) error {
	query := `INSERT INTO pull_requests (
		id, repository_id, bitbucket_id, title, description, state,
		created_date, updated_date, closed_date, merged_date,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (repository_id, bitbucket_id) DO UPDATE SET
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		state = EXCLUDED.state,
		updated_date = EXCLUDED.updated_date,
		closed_date = COALESCE(EXCLUDED.closed_date, pull_requests.closed_date),
		merged_date = COALESCE(EXCLUDED.merged_date, pull_requests.merged_date),
		updated_at = EXCLUDED.updated_at`

	stmt, err := db.prepareCached(ctx, query)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx,
		pr.ID.String(), pr.RepositoryID.String(), pr.BitbucketID, pr.Title, pr.Description, string(pr.State),
		pr.CreatedDate, pr.UpdatedDate, nullableTime(pr.ClosedDate), nullableTime(pr.MergedDate),
		pr.CreatedAt, pr.UpdatedAt,
	); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("upsert", "pull_requests").Inc()
		return fmt.Errorf("failed to upsert pull request %s: %w", pr.BitbucketID, err)
	}
	metrics.DBOperationsTotal.WithLabelValues("upsert", "pull_requests").Inc()
	return nil
}

const repositorySelect = `SELECT
	id, workspace_id, project_id, bitbucket_uuid, bitbucket_id,
	slug, name, is_private, description, language,
	avatar_url, website, size_bytes,
	created_at, updated_at
FROM repositories`

// scanner abstracts *sql.Row and *sql.Rows for the shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(s scanner) (*models.Repository, error) {
	var (
		r                                models.Repository
		id, workspaceID                  string
		projectID                        sql.NullString
		description, language            sql.NullString
		avatarURL, website               sql.NullString
	)
	if err := s.Scan(
		&id, &workspaceID, &projectID, &r.BitbucketUUID, &r.BitbucketID,
		&r.Slug, &r.Name, &r.IsPrivate, &description, &language,
		&avatarURL, &website, &r.SizeBytes,
		&r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("malformed repository id %q: %w", id, err)
	}
	if r.WorkspaceID, err = uuid.Parse(workspaceID); err != nil {
		return nil, fmt.Errorf("malformed workspace id %q: %w", workspaceID, err)
	}
	if projectID.Valid {
		pid, err := uuid.Parse(projectID.String)
		if err != nil {
			return nil, fmt.Errorf("malformed project id %q: %w", projectID.String, err)
		}
		r.ProjectID = &pid
	}
	r.Description = description.String
	r.Language = language.String
	r.AvatarURL = avatarURL.String
	r.Website = website.String
	return &r, nil
}

func scanProject(s scanner) (*models.Project, error) {
	var (
		p                      models.Project
		id, workspaceID        string
		bitbucketID            sql.NullString
		description, avatarURL sql.NullString
	)
	if err := s.Scan(
		&id, &workspaceID, &p.BitbucketUUID, &bitbucketID, &p.Key, &p.Name, &p.IsPrivate,
		&description, &avatarURL,
		&p.TotalRepositories, &p.TotalCommits, &p.TotalPullRequests,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("malformed project id %q: %w", id, err)
	}
	if p.WorkspaceID, err = uuid.Parse(workspaceID); err != nil {
		return nil, fmt.Errorf("malformed workspace id %q: %w", workspaceID, err)
	}
	p.BitbucketID = bitbucketID.String
	p.Description = description.String
	p.AvatarURL = avatarURL.String
	return &p, nil
}

// idByNaturalKey resolves the surrogate id that actually survived the
// upsert (the first-write id on conflict, the new id on insert).
func (db *DB) idByNaturalKey(ctx context.Context, query string, args ...any) (uuid.UUID, error) {
	var id string
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve upserted row id: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed row id %q: %w", id, err)
	}
	return parsed, nil
}

// nullableTime maps a *time.Time onto a driver-friendly NULL.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
