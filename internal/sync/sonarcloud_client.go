// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/repolens/repolens/internal/config"
	"github.com/repolens/repolens/internal/models/sonarcloud"
	"github.com/repolens/repolens/internal/ratelimit"
)

// SonarCloudClient talks to the SonarCloud Web API.
type SonarCloudClient struct {
	*restClient
	organization string
	metricKeys   []string
	pageSize     int
}

// NewSonarCloudClient builds a client from the SonarCloud section of the
// configuration. pageSize comes from the sync section.
func NewSonarCloudClient(cfg config.SonarCloudConfig, pageSize int) *SonarCloudClient {
	return &SonarCloudClient{
		restClient: &restClient{
			api:     "sonarcloud",
			baseURL: strings.TrimRight(cfg.BaseURL, "/"),
			httpClient: &http.Client{
				Timeout: cfg.Timeout,
			},
			limiter: ratelimit.New(ratelimit.Config{
				Name:          "sonarcloud",
				MaxRequests:   cfg.RateLimit,
				Window:        cfg.RateWindow,
				BurstLimit:    cfg.BurstLimit,
				RetryAttempts: cfg.RetryAttempts,
			}),
			breaker: newCircuitBreaker("sonarcloud"),
			authorize: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer "+cfg.Token)
			},
		},
		organization: cfg.Organization,
		metricKeys:   cfg.MetricKeys,
		pageSize:     pageSize,
	}
}

// Organization returns the configured organization key.
func (c *SonarCloudClient) Organization() string {
	return c.organization
}

// MetricKeys returns the configured measure keys fetched per project.
func (c *SonarCloudClient) MetricKeys() []string {
	return c.metricKeys
}

// searchPages walks a SonarCloud p/ps-paginated listing. fetch is called
// with successive page numbers and returns one page of items plus the
// paging block; the walk stops when the collected count reaches
// paging.total or a page comes back empty.
func searchPages[T any](c *SonarCloudClient, fetch func(page int) ([]T, sonarcloud.Paging, error)) ([]T, error) {
	var all []T
	for page := 1; page <= maxPages; page++ {
		items, paging, err := fetch(page)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) == 0 || (paging.Total > 0 && len(all) >= paging.Total) {
			return all, nil
		}
	}
	return all, fmt.Errorf("pagination exceeded %d pages", maxPages)
}

func (c *SonarCloudClient) pagedQuery(page int, extra url.Values) url.Values {
	query := url.Values{}
	for k, vs := range extra {
		query[k] = vs
	}
	query.Set("p", strconv.Itoa(page))
	query.Set("ps", strconv.Itoa(c.pageSize))
	return query
}

// GetOrganization fetches the configured organization.
func (c *SonarCloudClient) GetOrganization(ctx context.Context) (*sonarcloud.Organization, error) {
	query := url.Values{}
	query.Set("organizations", c.organization)

	resp, err := getJSON[sonarcloud.OrganizationSearchResponse](ctx, c.restClient,
		c.endpoint("organizations/search", query))
	if err != nil {
		return nil, err
	}
	if len(resp.Organizations) == 0 {
		return nil, fmt.Errorf("organization %q not found", c.organization)
	}
	return &resp.Organizations[0], nil
}

// GetProjects fetches all projects of the configured organization.
func (c *SonarCloudClient) GetProjects(ctx context.Context) ([]sonarcloud.Project, error) {
	extra := url.Values{}
	extra.Set("organization", c.organization)

	return searchPages(c, func(page int) ([]sonarcloud.Project, sonarcloud.Paging, error) {
		resp, err := getJSON[sonarcloud.ProjectSearchResponse](ctx, c.restClient,
			c.endpoint("projects/search", c.pagedQuery(page, extra)))
		if err != nil {
			return nil, sonarcloud.Paging{}, err
		}
		return resp.Components, resp.Paging, nil
	})
}

// GetProject fetches a single project component by key.
func (c *SonarCloudClient) GetProject(ctx context.Context, projectKey string) (*sonarcloud.Project, error) {
	query := url.Values{}
	query.Set("component", projectKey)

	resp, err := getJSON[sonarcloud.ComponentShowResponse](ctx, c.restClient,
		c.endpoint("components/show", query))
	if err != nil {
		return nil, err
	}
	return &resp.Component, nil
}

// GetIssues fetches all issues of one project.
func (c *SonarCloudClient) GetIssues(ctx context.Context, projectKey string) ([]sonarcloud.Issue, error) {
	extra := url.Values{}
	extra.Set("componentKeys", projectKey)
	extra.Set("organization", c.organization)

	return searchPages(c, func(page int) ([]sonarcloud.Issue, sonarcloud.Paging, error) {
		resp, err := getJSON[sonarcloud.IssueSearchResponse](ctx, c.restClient,
			c.endpoint("issues/search", c.pagedQuery(page, extra)))
		if err != nil {
			return nil, sonarcloud.Paging{}, err
		}
		return resp.Issues, resp.Paging, nil
	})
}

// GetHotspots fetches all security hotspots of one project.
func (c *SonarCloudClient) GetHotspots(ctx context.Context, projectKey string) ([]sonarcloud.Hotspot, error) {
	extra := url.Values{}
	extra.Set("projectKey", projectKey)

	return searchPages(c, func(page int) ([]sonarcloud.Hotspot, sonarcloud.Paging, error) {
		resp, err := getJSON[sonarcloud.HotspotSearchResponse](ctx, c.restClient,
			c.endpoint("hotspots/search", c.pagedQuery(page, extra)))
		if err != nil {
			return nil, sonarcloud.Paging{}, err
		}
		return resp.Hotspots, resp.Paging, nil
	})
}

// GetQualityGate fetches the quality gate status of one project.
func (c *SonarCloudClient) GetQualityGate(ctx context.Context, projectKey string) (*sonarcloud.ProjectStatus, error) {
	query := url.Values{}
	query.Set("projectKey", projectKey)

	resp, err := getJSON[sonarcloud.QualityGateResponse](ctx, c.restClient,
		c.endpoint("qualitygates/project_status", query))
	if err != nil {
		return nil, err
	}
	return &resp.ProjectStatus, nil
}

// GetMeasures fetches the configured metric measures of one project,
// including metric definitions for name, type and domain.
func (c *SonarCloudClient) GetMeasures(ctx context.Context, projectKey string) (*sonarcloud.MeasuresResponse, error) {
	query := url.Values{}
	query.Set("component", projectKey)
	query.Set("metricKeys", strings.Join(c.metricKeys, ","))
	query.Set("additionalFields", "metrics")

	return getJSON[sonarcloud.MeasuresResponse](ctx, c.restClient,
		c.endpoint("measures/component", query))
}
