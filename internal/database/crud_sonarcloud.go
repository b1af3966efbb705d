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

	"github.com/google/uuid"

	"github.com/repolens/repolens/internal/metrics"
	"github.com/repolens/repolens/internal/models"
)

// SonarCloud entity errors
var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrSonarProjectNotFound = errors.New("sonarcloud project not found")
)

// UpsertOrganization inserts or refreshes an organization keyed on its key
// and returns the persisted surrogate id.
func (db *DB) UpsertOrganization(ctx context.Context, o *models.Organization) (uuid.UUID, error) {
	query := `INSERT INTO organizations (
		id, key, name, description, url, sonarcloud_id, avatar_url,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET
		name = EXCLUDED.name,
		description = EXCLUDED.description,
		url = EXCLUDED.url,
		avatar_url = EXCLUDED.avatar_url,
		updated_at = EXCLUDED.updated_at`

	stmt, err := db.prepareCached(ctx, query)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := stmt.ExecContext(ctx,
		o.ID.String(), o.Key, o.Name, o.Description, o.URL, o.SonarCloudID, o.AvatarURL,
		o.CreatedAt, o.UpdatedAt,
	); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("upsert", "organizations").Inc()
		return uuid.Nil, fmt.Errorf("failed to upsert organization %s: %w", o.Key, err)
	}
	metrics.DBOperationsTotal.WithLabelValues("upsert", "organizations").Inc()

	return db.idByNaturalKey(ctx, `SELECT id FROM organizations WHERE key = ?`, o.Key)
}

// GetOrganizationByKey fetches one organization or ErrOrganizationNotFound.
func (db *DB) GetOrganizationByKey(ctx context.Context, key string) (*models.Organization, error) {
	query := `SELECT
		id, key, name, description, url, sonarcloud_id, avatar_url,
		created_at, updated_at
	FROM organizations WHERE key = ?`

	var (
		o                               models.Organization
		id                              string
		description, url                sql.NullString
		sonarcloudID, avatarURL         sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, query, key).Scan(
		&id, &o.Key, &o.Name, &description, &url, &sonarcloudID, &avatarURL,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization %s: %w", key, err)
	}

	if o.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("malformed organization id %q: %w", id, err)
	}
	o.Description = description.String
	o.URL = url.String
	o.SonarCloudID = sonarcloudID.String
	o.AvatarURL = avatarURL.String
	return &o, nil
}

// UpsertSonarProject inserts or refreshes a project keyed on its SonarCloud
// key and returns the persisted surrogate id. The bitbucket_repository_id
// link is owned by the linker and never touched here.
func (db *DB) UpsertSonarProject(ctx context.Context, p *models.SonarProject) (uuid.UUID, error) {
	query := `INSERT INTO sonar_projects (
		id, organization_id, key, name, description, visibility,
		sonarcloud_id, qualifier, last_analysis_date, revision,
		bitbucket_repository_id, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET
		name = EXCLUDED.name,
		description = EXCLUDED.description,
		visibility = EXCLUDED.visibility,
		qualifier = EXCLUDED.qualifier,
		last_analysis_date = COALESCE(EXCLUDED.last_analysis_date, sonar_projects.last_analysis_date),
		revision = EXCLUDED.revision,
		updated_at = EXCLUDED.updated_at`

	var repoID any
	if p.BitbucketRepositoryID != nil {
		repoID = p.BitbucketRepositoryID.String()
	}

	stmt, err := db.prepareCached(ctx, query)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := stmt.ExecContext(ctx,
		p.ID.String(), p.OrganizationID.String(), p.Key, p.Name, p.Description, p.Visibility,
		p.SonarCloudID, p.Qualifier, nullableTime(p.LastAnalysisDate), p.Revision,
		repoID, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("upsert", "sonar_projects").Inc()
		return uuid.Nil, fmt.Errorf("failed to upsert sonarcloud project %s: %w", p.Key, err)
	}
	metrics.DBOperationsTotal.WithLabelValues("upsert", "sonar_projects").Inc()

	return db.idByNaturalKey(ctx, `SELECT id FROM sonar_projects WHERE key = ?`, p.Key)
}

// GetSonarProjectByKey fetches one project or ErrSonarProjectNotFound.
func (db *DB) GetSonarProjectByKey(ctx context.Context, key string) (*models.SonarProject, error) {
	row := db.conn.QueryRowContext(ctx, sonarProjectSelect+` WHERE key = ?`, key)
	p, err := scanSonarProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSonarProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sonarcloud project %s: %w", key, err)
	}
	return p, nil
}

// ListUnlinkedSonarProjects returns projects without a Bitbucket link,
// ordered by key. The linker iterates these.
func (db *DB) ListUnlinkedSonarProjects(ctx context.Context) ([]*models.SonarProject, error) {
	rows, err := db.conn.QueryContext(ctx,
		sonarProjectSelect+` WHERE bitbucket_repository_id IS NULL ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlinked sonarcloud projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.SonarProject
	for rows.Next() {
		p, err := scanSonarProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sonarcloud project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// LinkSonarProject points a SonarCloud project at a mirrored Bitbucket
// repository.
func (db *DB) LinkSonarProject(ctx context.Context, projectKey string, repositoryID uuid.UUID) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE sonar_projects SET bitbucket_repository_id = ? WHERE key = ?`,
		repositoryID.String(), projectKey)
	if err != nil {
		metrics.DBErrorsTotal.WithLabelValues("update", "sonar_projects").Inc()
		return fmt.Errorf("failed to link sonarcloud project %s: %w", projectKey, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrSonarProjectNotFound
	}
	metrics.DBOperationsTotal.WithLabelValues("update", "sonar_projects").Inc()
	return nil
}

// UpsertSonarIssue inserts or refreshes an issue keyed on its key.
func (db *DB) UpsertSonarIssue(ctx context.Context, i *models.SonarIssue) error {
	query := `INSERT INTO sonar_issues (
		id, project_id, key, rule, severity, type, status,
		component, line, start_line, end_line, start_offset, end_offset,
		message, effort, debt, author, assignee,
		creation_date, update_date, close_date,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET
		rule = EXCLUDED.rule,
		severity = EXCLUDED.severity,
		type = EXCLUDED.type,
		status = EXCLUDED.status,
		component = EXCLUDED.component,
		line = EXCLUDED.line,
		start_line = EXCLUDED.start_line,
		end_line = EXCLUDED.end_line,
		start_offset = EXCLUDED.start_offset,
		end_offset = EXCLUDED.end_offset,
		message = EXCLUDED.message,
		effort = EXCLUDED.effort,
		debt = EXCLUDED.debt,
		author = EXCLUDED.author,
		assignee = EXCLUDED.assignee,
		update_date = COALESCE(EXCLUDED.update_date, sonar_issues.update_date),
		close_date = COALESCE(EXCLUDED.close_date, sonar_issues.close_date),
		updated_at = EXCLUDED.updated_at`

	stmt, err := db.prepareCached(ctx, query)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx,
		i.ID.String(), i.ProjectID.String(), i.Key, i.Rule, i.Severity, i.Type, i.Status,
		i.Component, i.Line, i.StartLine, i.EndLine, i.StartOffset, i.EndOffset,
		i.Message, i.Effort, i.Debt, i.Author, i.Assignee,
		nullableTime(i.CreationDate), nullableTime(i.UpdateDate), nullableTime(i.CloseDate),
		i.CreatedAt, i.UpdatedAt,
	); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("upsert", "sonar_issues").Inc()
		return fmt.Errorf("failed to upsert issue %s: %w", i.Key, err)
	}
	metrics.DBOperationsTotal.WithLabelValues("upsert", "sonar_issues").Inc()
	return nil
}

// UpsertSonarHotspot inserts or refreshes a security hotspot keyed on its
// key. A NULL incoming resolution keeps the stored one.
func (db *DB) UpsertSonarHotspot(ctx context.Context, h *models.SonarHotspot) error {
	query := `INSERT INTO sonar_hotspots (
		id, project_id, key, rule, status, resolution,
		component, line, start_line, end_line, start_offset, end_offset,
		message, security_category, vulnerability_probability,
		author, assignee, creation_date, update_date,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET
		rule = EXCLUDED.rule,
		status = EXCLUDED.status,
		resolution = COALESCE(NULLIF(EXCLUDED.resolution, ''), sonar_hotspots.resolution),
		component = EXCLUDED.component,
		line = EXCLUDED.line,
		start_line = EXCLUDED.start_line,
		end_line = EXCLUDED.end_line,
		start_offset = EXCLUDED.start_offset,
		end_offset = EXCLUDED.end_offset,
		message = EXCLUDED.message,
		security_category = EXCLUDED.security_category,
		vulnerability_probability = EXCLUDED.vulnerability_probability,
		author = EXCLUDED.author,
		assignee = EXCLUDED.assignee,
		update_date = COALESCE(EXCLUDED.update_date, sonar_hotspots.update_date),
		updated_at = EXCLUDED.updated_at`

	stmt, err := db.prepareCached(ctx, query)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx,
		h.ID.String(), h.ProjectID.String(), h.Key, h.Rule, h.Status, h.Resolution,
		h.Component, h.Line, h.StartLine, h.EndLine, h.StartOffset, h.EndOffset,
		h.Message, h.SecurityCategory, h.VulnerabilityProbability,
		h.Author, h.Assignee, nullableTime(h.CreationDate), nullableTime(h.UpdateDate),
		h.CreatedAt, h.UpdatedAt,
	); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("upsert", "sonar_hotspots").Inc()
		return fmt.Errorf("failed to upsert hotspot %s: %w", h.Key, err)
	}
	metrics.DBOperationsTotal.WithLabelValues("upsert", "sonar_hotspots").Inc()
	return nil
}

// UpsertSonarQualityGate inserts or refreshes a project's quality gate
// verdict keyed on the derived gate key (one row per project).
func (db *DB) UpsertSonarQualityGate(ctx context.Context, qg *models.SonarQualityGate) error {
	query := `INSERT INTO sonar_quality_gates (
		id, project_id, key, name, status,
		conditions_count, ignored_conditions, analysis_date,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET
		name = EXCLUDED.name,
		status = EXCLUDED.status,
		conditions_count = EXCLUDED.conditions_count,
		ignored_conditions = EXCLUDED.ignored_conditions,
		analysis_date = COALESCE(EXCLUDED.analysis_date, sonar_quality_gates.analysis_date),
		updated_at = EXCLUDED.updated_at`

	stmt, err := db.prepareCached(ctx, query)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx,
		qg.ID.String(), qg.ProjectID.String(), qg.Key, qg.Name, qg.Status,
		qg.ConditionsCount, qg.IgnoredConditions, nullableTime(qg.AnalysisDate),
		qg.CreatedAt, qg.UpdatedAt,
	); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("upsert", "sonar_quality_gates").Inc()
		return fmt.Errorf("failed to upsert quality gate %s: %w", qg.Key, err)
	}
	metrics.DBOperationsTotal.WithLabelValues("upsert", "sonar_quality_gates").Inc()
	return nil
}

// UpsertSonarMetric inserts or refreshes one measured value keyed on
// (project, metric key).
func (db *DB) UpsertSonarMetric(ctx context.Context, m *models.SonarMetric) error {
	query := `INSERT INTO sonar_metrics (
		id, project_id, key, name, value, formatted_value,
		type, domain, analysis_date,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (project_id, key) DO UPDATE SET
		name = EXCLUDED.name,
		value = EXCLUDED.value,
		formatted_value = EXCLUDED.formatted_value,
		type = EXCLUDED.type,
		domain = EXCLUDED.domain,
		analysis_date = COALESCE(EXCLUDED.analysis_date, sonar_metrics.analysis_date),
		updated_at = EXCLUDED.updated_at`

	var value any
	if m.Value != nil {
		value = *m.Value
	}

	stmt, err := db.prepareCached(ctx, query)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx,
		m.ID.String(), m.ProjectID.String(), m.Key, m.Name, value, m.FormattedValue,
		m.Type, m.Domain, nullableTime(m.AnalysisDate),
		m.CreatedAt, m.UpdatedAt,
	); err != nil {
		metrics.DBErrorsTotal.WithLabelValues("upsert", "sonar_metrics").Inc()
		return fmt.Errorf("failed to upsert metric %s: %w", m.Key, err)
	}
	metrics.DBOperationsTotal.WithLabelValues("upsert", "sonar_metrics").Inc()
	return nil
}

const sonarProjectSelect = `SELECT
	id, organization_id, key, name, description, visibility,
	sonarcloud_id, qualifier, last_analysis_date, revision,
	bitbucket_repository_id, created_at, updated_at
FROM sonar_projects`

func scanSonarProject(s scanner) (*models.SonarProject, error) {
	var (
		p                       models.SonarProject
		id, organizationID      string
		description, visibility sql.NullString
		sonarcloudID, qualifier sql.NullString
		lastAnalysis            sql.NullTime
		revision, repoID        sql.NullString
	)
	if err := s.Scan(
		&id, &organizationID, &p.Key, &p.Name, &description, &visibility,
		&sonarcloudID, &qualifier, &lastAnalysis, &revision,
		&repoID, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("malformed sonar project id %q: %w", id, err)
	}
	if p.OrganizationID, err = uuid.Parse(organizationID); err != nil {
		return nil, fmt.Errorf("malformed organization id %q: %w", organizationID, err)
	}
	if repoID.Valid {
		rid, err := uuid.Parse(repoID.String)
		if err != nil {
			return nil, fmt.Errorf("malformed repository link %q: %w", repoID.String, err)
		}
		p.BitbucketRepositoryID = &rid
	}
	if lastAnalysis.Valid {
		t := lastAnalysis.Time
		p.LastAnalysisDate = &t
	}
	p.Description = description.String
	p.Visibility = visibility.String
	p.SonarCloudID = sonarcloudID.String
	p.Qualifier = qualifier.String
	p.Revision = revision.String
	return &p, nil
}
