// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/repolens/repolens/internal/database"
	"github.com/repolens/repolens/internal/logging"
	"github.com/repolens/repolens/internal/models"
	"github.com/repolens/repolens/internal/models/sonarcloud"
)

// SonarCloudService mirrors the configured SonarCloud organization with
// its projects, issues, security hotspots, quality gates and measures.
type SonarCloudService struct {
	client    *SonarCloudClient
	db        *database.DB
	batchSize int
}

// NewSonarCloudService wires the SonarCloud client to the database.
func NewSonarCloudService(client *SonarCloudClient, db *database.DB, batchSize int) *SonarCloudService {
	return &SonarCloudService{
		client:    client,
		db:        db,
		batchSize: batchSize,
	}
}

// SyncOrganization mirrors the organization row and all its projects,
// then the quality data of each project.
func (s *SonarCloudService) SyncOrganization(ctx context.Context) (Summary, error) {
	orgKey := s.client.Organization()
	logging.Info().Str("organization", orgKey).Msg("Syncing SonarCloud organization")

	remote, err := s.client.GetOrganization(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to fetch organization %s: %w", orgKey, err)
	}
	orgID, err := s.db.UpsertOrganization(ctx, models.OrganizationFromSonarCloud(*remote))
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Total: 1, Successful: 1}

	projects, err := s.client.GetProjects(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch projects of %s: %w", orgKey, err)
	}
	batch, err := runBatch(ctx, "sonar_project", projects, s.batchSize,
		func(ctx context.Context, p sonarcloud.Project) error {
			projectID, err := s.db.UpsertSonarProject(ctx, models.SonarProjectFromSonarCloud(p, orgID))
			if err != nil {
				return err
			}
			detail, err := s.syncProjectDetail(ctx, p.Key, projectID)
			summary.add(detail)
			return err
		})
	summary.add(batch)
	return summary, err
}

// SyncProject mirrors one SonarCloud project and its quality data.
func (s *SonarCloudService) SyncProject(ctx context.Context, projectKey string) (Summary, error) {
	logging.Info().Str("project", projectKey).Msg("Syncing SonarCloud project")

	orgID, err := s.ensureOrganization(ctx)
	if err != nil {
		return Summary{}, err
	}

	remote, err := s.client.GetProject(ctx, projectKey)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to fetch project %s: %w", projectKey, err)
	}
	projectID, err := s.db.UpsertSonarProject(ctx, models.SonarProjectFromSonarCloud(*remote, orgID))
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Total: 1, Successful: 1}

	detail, err := s.syncProjectDetail(ctx, projectKey, projectID)
	summary.add(detail)
	return summary, err
}

func (s *SonarCloudService) ensureOrganization(ctx context.Context) (uuid.UUID, error) {
	org, err := s.db.GetOrganizationByKey(ctx, s.client.Organization())
	if err == nil {
		return org.ID, nil
	}
	if !errors.Is(err, database.ErrOrganizationNotFound) {
		return uuid.Nil, err
	}

	remote, err := s.client.GetOrganization(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to fetch organization %s: %w", s.client.Organization(), err)
	}
	return s.db.UpsertOrganization(ctx, models.OrganizationFromSonarCloud(*remote))
}

// syncProjectDetail mirrors the issues, hotspots, quality gate and
// measures of one project that already has a local row.
func (s *SonarCloudService) syncProjectDetail(ctx context.Context, projectKey string, projectID uuid.UUID) (Summary, error) {
	var summary Summary

	issues, err := s.client.GetIssues(ctx, projectKey)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch issues of %s: %w", projectKey, err)
	}
	issueBatch, err := runBatch(ctx, "sonar_issue", issues, s.batchSize,
		func(ctx context.Context, i sonarcloud.Issue) error {
			return s.db.UpsertSonarIssue(ctx, models.SonarIssueFromSonarCloud(i, projectID))
		})
	summary.add(issueBatch)
	if err != nil {
		return summary, err
	}

	hotspots, err := s.client.GetHotspots(ctx, projectKey)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch hotspots of %s: %w", projectKey, err)
	}
	hotspotBatch, err := runBatch(ctx, "sonar_hotspot", hotspots, s.batchSize,
		func(ctx context.Context, h sonarcloud.Hotspot) error {
			return s.db.UpsertSonarHotspot(ctx, models.SonarHotspotFromSonarCloud(h, projectID))
		})
	summary.add(hotspotBatch)
	if err != nil {
		return summary, err
	}

	if err := s.syncQualityGate(ctx, projectKey, projectID); err != nil {
		// Quality gates are absent for never-analyzed projects.
		logging.Warn().Err(err).Str("project", projectKey).Msg("Quality gate sync failed")
		summary.Total++
		summary.Failed++
	} else {
		summary.Total++
		summary.Successful++
	}

	measureBatch, err := s.syncMeasures(ctx, projectKey, projectID)
	summary.add(measureBatch)
	return summary, err
}

func (s *SonarCloudService) syncQualityGate(ctx context.Context, projectKey string, projectID uuid.UUID) error {
	status, err := s.client.GetQualityGate(ctx, projectKey)
	if err != nil {
		return err
	}
	return s.db.UpsertSonarQualityGate(ctx, models.QualityGateFromSonarCloud(*status, projectKey, projectID))
}

func (s *SonarCloudService) syncMeasures(ctx context.Context, projectKey string, projectID uuid.UUID) (Summary, error) {
	resp, err := s.client.GetMeasures(ctx, projectKey)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to fetch measures of %s: %w", projectKey, err)
	}

	definitions := make(map[string]*sonarcloud.MetricDefinition, len(resp.Metrics))
	for i := range resp.Metrics {
		definitions[resp.Metrics[i].Key] = &resp.Metrics[i]
	}

	// The project's last analysis date stamps every measure row.
	var analysisDate *time.Time
	if project, err := s.db.GetSonarProjectByKey(ctx, projectKey); err == nil {
		analysisDate = project.LastAnalysisDate
	}

	return runBatch(ctx, "sonar_metric", resp.Component.Measures, s.batchSize,
		func(ctx context.Context, m sonarcloud.Measure) error {
			return s.db.UpsertSonarMetric(ctx, models.MetricFromSonarCloud(m, definitions[m.Metric], analysisDate, projectID))
		})
}
