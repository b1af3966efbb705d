// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"context"
	"errors"
	"strings"

	"github.com/repolens/repolens/internal/database"
	"github.com/repolens/repolens/internal/logging"
)

// Linker connects SonarCloud projects to mirrored Bitbucket repositories.
//
// The heuristic takes the tail of the SonarCloud project key after the
// last colon (keys are commonly "org:repo-slug") and matches it verbatim
// against repository slugs. Overrides pin specific project keys to
// repository slugs and always win over the heuristic.
type Linker struct {
	db        *database.DB
	overrides map[string]string
}

// NewLinker builds a linker. overrides maps SonarCloud project keys to
// Bitbucket repository slugs.
func NewLinker(db *database.DB, overrides map[string]string) *Linker {
	return &Linker{db: db, overrides: overrides}
}

// LinkResult reports one linker run over the unlinked projects.
type LinkResult struct {
	Examined  int `json:"examined"`
	Linked    int `json:"linked"`
	Unmatched int `json:"unmatched"`
}

// Run links every unlinked SonarCloud project whose key resolves to a
// mirrored repository. Already-linked projects are never touched.
func (l *Linker) Run(ctx context.Context) (LinkResult, error) {
	projects, err := l.db.ListUnlinkedSonarProjects(ctx)
	if err != nil {
		return LinkResult{}, err
	}

	result := LinkResult{Examined: len(projects)}
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		slug := l.slugFor(project.Key)
		repo, err := l.db.FindRepositoryBySlug(ctx, slug)
		if errors.Is(err, database.ErrRepositoryNotFound) {
			result.Unmatched++
			logging.Debug().
				Str("project", project.Key).
				Str("slug", slug).
				Msg("No repository matches SonarCloud project")
			continue
		}
		if err != nil {
			return result, err
		}

		if err := l.db.LinkSonarProject(ctx, project.Key, repo.ID); err != nil {
			return result, err
		}
		result.Linked++
		logging.Info().
			Str("project", project.Key).
			Str("repository", repo.Slug).
			Msg("Linked SonarCloud project to repository")
	}

	logging.Info().
		Int("examined", result.Examined).
		Int("linked", result.Linked).
		Int("unmatched", result.Unmatched).
		Msg("Linker run complete")
	return result, nil
}

// slugFor resolves the repository slug a project key should link to.
func (l *Linker) slugFor(projectKey string) string {
	if slug, ok := l.overrides[projectKey]; ok {
		return slug
	}
	if i := strings.LastIndex(projectKey, ":"); i >= 0 {
		return projectKey[i+1:]
	}
	return projectKey
}
