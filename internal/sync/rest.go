// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/repolens/repolens/internal/logging"
	"github.com/repolens/repolens/internal/metrics"
	"github.com/repolens/repolens/internal/ratelimit"
)

const userAgent = "RepoLens/1.0"

// maxPages bounds paginated listings so a misbehaving upstream cannot
// spin a fetcher forever.
const maxPages = 10000

// restClient is the shared GET transport under both API clients. Every
// request passes through the sliding-window rate limiter and the circuit
// breaker, and every response feeds its rate-limit headers back into the
// limiter.
type restClient struct {
	api        string
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]

	// authorize attaches the API's credentials to an outgoing request.
	authorize func(*http.Request)
}

// LimiterStatus exposes the rate limiter snapshot for the ops endpoint.
func (c *restClient) LimiterStatus() ratelimit.Status {
	return c.limiter.Status()
}

// get fetches one URL through the limiter and breaker and returns the
// raw response body.
func (c *restClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := c.limiter.Execute(ctx, func(ctx context.Context) error {
		b, err := c.breaker.Execute(func() ([]byte, error) {
			return c.doRequest(ctx, rawURL)
		})
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

func (c *restClient) doRequest(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APIRequestDuration.WithLabelValues(c.api).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(c.api, "error").Inc()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer closeQuietly(resp.Body)

	c.limiter.UpdateFromHeaders(resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.APIRequestsTotal.WithLabelValues(c.api, "error").Inc()
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       readBodyForError(resp.Body),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(c.api, "error").Inc()
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	metrics.APIRequestsTotal.WithLabelValues(c.api, "success").Inc()
	return body, nil
}

// endpoint joins the base URL with a path and query parameters.
func (c *restClient) endpoint(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// getJSON fetches one URL and decodes its body into T.
func getJSON[T any](ctx context.Context, c *restClient, rawURL string) (*T, error) {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		logging.Debug().Err(err).Msg("Failed to close response body")
	}
}
