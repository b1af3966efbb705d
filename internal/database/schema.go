// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

/*
schema.go - Database Schema Management

Mirror tables, one per upstream entity:

  Bitbucket:  workspaces -> projects -> repositories -> {commits,
              pull_requests}
  SonarCloud: organizations -> sonar_projects -> {sonar_issues,
              sonar_hotspots, sonar_quality_gates, sonar_metrics}

sonar_projects.bitbucket_repository_id is the nullable cross-link column
the linker fills when a SonarCloud project key matches a repository slug.

Every table carries a surrogate UUID id plus the upstream natural key with
a UNIQUE constraint; upserts conflict on the natural key so surrogate ids
and created_at survive re-syncs.
*/
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/repolens/repolens/internal/logging"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// Migrate creates all tables and indexes if they do not exist.
func (db *DB) Migrate() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := db.createIndexes(ctx); err != nil {
		return err
	}

	logging.Info().Msg("Database schema ready")
	return nil
}

func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id VARCHAR PRIMARY KEY,
			bitbucket_uuid VARCHAR NOT NULL UNIQUE,
			bitbucket_id VARCHAR NOT NULL,
			slug VARCHAR NOT NULL UNIQUE,
			name VARCHAR NOT NULL,
			is_private BOOLEAN NOT NULL DEFAULT true,
			description VARCHAR,
			website VARCHAR,
			location VARCHAR,
			total_repositories INTEGER NOT NULL DEFAULT 0,
			total_projects INTEGER NOT NULL DEFAULT 0,
			total_members INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS projects (
			id VARCHAR PRIMARY KEY,
			workspace_id VARCHAR NOT NULL,
			bitbucket_uuid VARCHAR NOT NULL UNIQUE,
			bitbucket_id VARCHAR,
			key VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			is_private BOOLEAN NOT NULL DEFAULT true,
			description VARCHAR,
			avatar_url VARCHAR,
			total_repositories INTEGER NOT NULL DEFAULT 0,
			total_commits INTEGER NOT NULL DEFAULT 0,
			total_pull_requests INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (workspace_id) REFERENCES workspaces(id)
		)`,

		`CREATE TABLE IF NOT EXISTS repositories (
			id VARCHAR PRIMARY KEY,
			workspace_id VARCHAR NOT NULL,
			project_id VARCHAR,
			bitbucket_uuid VARCHAR NOT NULL UNIQUE,
			bitbucket_id VARCHAR,
			slug VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			is_private BOOLEAN NOT NULL DEFAULT true,
			description VARCHAR,
			language VARCHAR,
			avatar_url VARCHAR,
			website VARCHAR,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (workspace_id) REFERENCES workspaces(id)
		)`,

		`CREATE TABLE IF NOT EXISTS commits (
			id VARCHAR PRIMARY KEY,
			repository_id VARCHAR NOT NULL,
			hash VARCHAR NOT NULL UNIQUE,
			bitbucket_id VARCHAR NOT NULL,
			message VARCHAR NOT NULL,
			author_name VARCHAR,
			author_email VARCHAR,
			commit_date TIMESTAMP NOT NULL,
			author_date TIMESTAMP NOT NULL,
			is_merge BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (repository_id) REFERENCES repositories(id)
		)`,

		`CREATE TABLE IF NOT EXISTS pull_requests (
			id VARCHAR PRIMARY KEY,
			repository_id VARCHAR NOT NULL,
			bitbucket_id VARCHAR NOT NULL,
			title VARCHAR NOT NULL,
			description VARCHAR,
			state VARCHAR NOT NULL DEFAULT 'OPEN',
			created_date TIMESTAMP NOT NULL,
			updated_date TIMESTAMP NOT NULL,
			closed_date TIMESTAMP,
			merged_date TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (repository_id, bitbucket_id),
			FOREIGN KEY (repository_id) REFERENCES repositories(id)
		)`,

		`CREATE TABLE IF NOT EXISTS organizations (
			id VARCHAR PRIMARY KEY,
			key VARCHAR NOT NULL UNIQUE,
			name VARCHAR NOT NULL,
			description VARCHAR,
			url VARCHAR,
			sonarcloud_id VARCHAR,
			avatar_url VARCHAR,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sonar_projects (
			id VARCHAR PRIMARY KEY,
			organization_id VARCHAR NOT NULL,
			key VARCHAR NOT NULL UNIQUE,
			name VARCHAR NOT NULL,
			description VARCHAR,
			visibility VARCHAR,
			sonarcloud_id VARCHAR,
			qualifier VARCHAR,
			last_analysis_date TIMESTAMP,
			revision VARCHAR,
			bitbucket_repository_id VARCHAR,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (organization_id) REFERENCES organizations(id)
		)`,

		`CREATE TABLE IF NOT EXISTS sonar_issues (
			id VARCHAR PRIMARY KEY,
			project_id VARCHAR NOT NULL,
			key VARCHAR NOT NULL UNIQUE,
			rule VARCHAR NOT NULL,
			severity VARCHAR NOT NULL,
			type VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			component VARCHAR,
			line INTEGER,
			start_line INTEGER,
			end_line INTEGER,
			start_offset INTEGER,
			end_offset INTEGER,
			message VARCHAR NOT NULL,
			effort VARCHAR,
			debt VARCHAR,
			author VARCHAR,
			assignee VARCHAR,
			creation_date TIMESTAMP,
			update_date TIMESTAMP,
			close_date TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (project_id) REFERENCES sonar_projects(id)
		)`,

		`CREATE TABLE IF NOT EXISTS sonar_hotspots (
			id VARCHAR PRIMARY KEY,
			project_id VARCHAR NOT NULL,
			key VARCHAR NOT NULL UNIQUE,
			rule VARCHAR,
			status VARCHAR NOT NULL,
			resolution VARCHAR,
			component VARCHAR,
			line INTEGER,
			start_line INTEGER,
			end_line INTEGER,
			start_offset INTEGER,
			end_offset INTEGER,
			message VARCHAR,
			security_category VARCHAR,
			vulnerability_probability VARCHAR,
			author VARCHAR,
			assignee VARCHAR,
			creation_date TIMESTAMP,
			update_date TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (project_id) REFERENCES sonar_projects(id)
		)`,

		`CREATE TABLE IF NOT EXISTS sonar_quality_gates (
			id VARCHAR PRIMARY KEY,
			project_id VARCHAR NOT NULL,
			key VARCHAR NOT NULL UNIQUE,
			name VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			conditions_count INTEGER NOT NULL DEFAULT 0,
			ignored_conditions BOOLEAN NOT NULL DEFAULT false,
			analysis_date TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (project_id) REFERENCES sonar_projects(id)
		)`,

		`CREATE TABLE IF NOT EXISTS sonar_metrics (
			id VARCHAR PRIMARY KEY,
			project_id VARCHAR NOT NULL,
			key VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			value DOUBLE,
			formatted_value VARCHAR,
			type VARCHAR,
			domain VARCHAR,
			analysis_date TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (project_id, key),
			FOREIGN KEY (project_id) REFERENCES sonar_projects(id)
		)`,
	}
}

func (db *DB) createIndexes(ctx context.Context) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_projects_workspace ON projects(workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_key ON projects(key)`,
		`CREATE INDEX IF NOT EXISTS idx_repositories_workspace ON repositories(workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_repositories_project ON repositories(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_repositories_slug ON repositories(slug)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_repository ON commits(repository_id)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_date ON commits(commit_date)`,
		`CREATE INDEX IF NOT EXISTS idx_pull_requests_repository ON pull_requests(repository_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pull_requests_state ON pull_requests(state)`,
		`CREATE INDEX IF NOT EXISTS idx_sonar_projects_org ON sonar_projects(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sonar_projects_repo ON sonar_projects(bitbucket_repository_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sonar_issues_project ON sonar_issues(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sonar_issues_severity ON sonar_issues(severity)`,
		`CREATE INDEX IF NOT EXISTS idx_sonar_hotspots_project ON sonar_hotspots(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sonar_metrics_project ON sonar_metrics(project_id)`,
	}

	for _, query := range indexes {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
