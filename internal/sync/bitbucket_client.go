// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/repolens/repolens/internal/config"
	"github.com/repolens/repolens/internal/logging"
	"github.com/repolens/repolens/internal/models/bitbucket"
	"github.com/repolens/repolens/internal/ratelimit"
)

// BitbucketClient talks to the Bitbucket Cloud 2.0 API.
type BitbucketClient struct {
	*restClient
	pageSize int
}

// NewBitbucketClient builds a client from the Bitbucket section of the
// configuration. pageSize comes from the sync section.
func NewBitbucketClient(cfg config.BitbucketConfig, pageSize int) *BitbucketClient {
	return &BitbucketClient{
		restClient: &restClient{
			api:     "bitbucket",
			baseURL: strings.TrimRight(cfg.BaseURL, "/"),
			httpClient: &http.Client{
				Timeout: cfg.Timeout,
			},
			limiter: ratelimit.New(ratelimit.Config{
				Name:          "bitbucket",
				MaxRequests:   cfg.RateLimit,
				Window:        cfg.RateWindow,
				BurstLimit:    cfg.BurstLimit,
				RetryAttempts: cfg.RetryAttempts,
			}),
			breaker: newCircuitBreaker("bitbucket"),
			authorize: func(req *http.Request) {
				req.SetBasicAuth(cfg.Username, cfg.AppPassword)
			},
		},
		pageSize: pageSize,
	}
}

// getAllPages walks a paginated Bitbucket listing from page one until a
// page comes back empty or shorter than the requested page length.
func getAllPages[T any](ctx context.Context, c *BitbucketClient, path string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("pagelen", strconv.Itoa(c.pageSize))

	var all []T
	for page := 1; page <= maxPages; page++ {
		query.Set("page", strconv.Itoa(page))

		envelope, err := getJSON[bitbucket.Paginated[T]](ctx, c.restClient, c.endpoint(path, query))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d of %s: %w", page, path, err)
		}

		all = append(all, envelope.Values...)
		if len(envelope.Values) == 0 || len(envelope.Values) < c.pageSize {
			return all, nil
		}
	}
	return all, fmt.Errorf("pagination of %s exceeded %d pages", path, maxPages)
}

// GetWorkspace fetches a single workspace by slug.
func (c *BitbucketClient) GetWorkspace(ctx context.Context, workspace string) (*bitbucket.Workspace, error) {
	return getJSON[bitbucket.Workspace](ctx, c.restClient,
		c.endpoint("workspaces/"+url.PathEscape(workspace), nil))
}

// CountWorkspaceMembers returns the total member count of a workspace.
// Only the envelope size is used; a single minimal page is requested.
func (c *BitbucketClient) CountWorkspaceMembers(ctx context.Context, workspace string) (int, error) {
	query := url.Values{}
	query.Set("pagelen", "1")

	envelope, err := getJSON[bitbucket.Paginated[bitbucket.User]](ctx, c.restClient,
		c.endpoint("workspaces/"+url.PathEscape(workspace)+"/members", query))
	if err != nil {
		return 0, err
	}
	return envelope.Size, nil
}

// GetWorkspaceProjects fetches all projects of a workspace.
func (c *BitbucketClient) GetWorkspaceProjects(ctx context.Context, workspace string) ([]bitbucket.Project, error) {
	return getAllPages[bitbucket.Project](ctx, c,
		"workspaces/"+url.PathEscape(workspace)+"/projects", nil)
}

// GetProject fetches a single project by key.
func (c *BitbucketClient) GetProject(ctx context.Context, workspace, key string) (*bitbucket.Project, error) {
	return getJSON[bitbucket.Project](ctx, c.restClient,
		c.endpoint("workspaces/"+url.PathEscape(workspace)+"/projects/"+url.PathEscape(key), nil))
}

// GetWorkspaceRepositories fetches all repositories of a workspace.
func (c *BitbucketClient) GetWorkspaceRepositories(ctx context.Context, workspace string) ([]bitbucket.Repository, error) {
	return getAllPages[bitbucket.Repository](ctx, c,
		"repositories/"+url.PathEscape(workspace), nil)
}

// GetProjectRepositories fetches the repositories belonging to one project.
func (c *BitbucketClient) GetProjectRepositories(ctx context.Context, workspace, projectKey string) ([]bitbucket.Repository, error) {
	query := url.Values{}
	query.Set("q", fmt.Sprintf(`project.key="%s"`, projectKey))
	return getAllPages[bitbucket.Repository](ctx, c,
		"repositories/"+url.PathEscape(workspace), query)
}

// GetRepository fetches a single repository by slug.
func (c *BitbucketClient) GetRepository(ctx context.Context, workspace, slug string) (*bitbucket.Repository, error) {
	return getJSON[bitbucket.Repository](ctx, c.restClient,
		c.endpoint("repositories/"+url.PathEscape(workspace)+"/"+url.PathEscape(slug), nil))
}

// GetRepositoryCommits fetches all commits of a repository.
func (c *BitbucketClient) GetRepositoryCommits(ctx context.Context, workspace, slug string) ([]bitbucket.Commit, error) {
	return getAllPages[bitbucket.Commit](ctx, c,
		"repositories/"+url.PathEscape(workspace)+"/"+url.PathEscape(slug)+"/commits", nil)
}

// GetRepositoryPullRequests fetches all pull requests of a repository in
// every state. Bitbucket answers 400 for repositories where pull requests
// are unavailable; that is treated as an empty list, not a failure.
func (c *BitbucketClient) GetRepositoryPullRequests(ctx context.Context, workspace, slug string) ([]bitbucket.PullRequest, error) {
	query := url.Values{}
	query["state"] = []string{"OPEN", "MERGED", "DECLINED", "SUPERSEDED"}

	prs, err := getAllPages[bitbucket.PullRequest](ctx, c,
		"repositories/"+url.PathEscape(workspace)+"/"+url.PathEscape(slug)+"/pullrequests", query)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusBadRequest {
			logging.Debug().
				Str("workspace", workspace).
				Str("repository", slug).
				Msg("Pull requests unavailable for repository, treating as empty")
			return nil, nil
		}
		return nil, err
	}
	return prs, nil
}
