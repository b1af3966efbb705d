// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks the parts of the configuration every command needs.
// Credentials are validated separately per command: a SonarCloud-only sync
// must not fail because Bitbucket credentials are absent.
func (c *Config) Validate() error {
	if err := c.validateClientTuning("bitbucket", c.Bitbucket.BaseURL, c.Bitbucket.Timeout,
		c.Bitbucket.RateLimit, c.Bitbucket.RateWindow, c.Bitbucket.BurstLimit, c.Bitbucket.RetryAttempts); err != nil {
		return err
	}
	if err := c.validateClientTuning("sonarcloud", c.SonarCloud.BaseURL, c.SonarCloud.Timeout,
		c.SonarCloud.RateLimit, c.SonarCloud.RateWindow, c.SonarCloud.BurstLimit, c.SonarCloud.RetryAttempts); err != nil {
		return err
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be at least 1, got %d", c.Sync.BatchSize)
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 100 {
		return fmt.Errorf("sync.page_size must be between 1 and 100, got %d", c.Sync.PageSize)
	}
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("sync.interval must be at least 1m, got %s", c.Sync.Interval)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestsPerMinute < 1 {
		return fmt.Errorf("server.requests_per_minute must be at least 1, got %d", c.Server.RequestsPerMinute)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}

// validateClientTuning checks the shared HTTP client knobs for one API.
func (c *Config) validateClientTuning(name, baseURL string, timeout time.Duration,
	rateLimit int, rateWindow time.Duration, burstLimit, retryAttempts int) error {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s.base_url %q is not a valid URL", name, baseURL)
	}
	if timeout <= 0 {
		return fmt.Errorf("%s.timeout must be positive, got %s", name, timeout)
	}
	if rateLimit < 1 {
		return fmt.Errorf("%s.rate_limit must be at least 1, got %d", name, rateLimit)
	}
	if rateWindow <= 0 {
		return fmt.Errorf("%s.rate_window must be positive, got %s", name, rateWindow)
	}
	if burstLimit < 1 {
		return fmt.Errorf("%s.burst_limit must be at least 1, got %d", name, burstLimit)
	}
	if burstLimit > rateLimit {
		return fmt.Errorf("%s.burst_limit (%d) cannot exceed %s.rate_limit (%d)", name, burstLimit, name, rateLimit)
	}
	if retryAttempts < 1 {
		return fmt.Errorf("%s.retry_attempts must be at least 1, got %d", name, retryAttempts)
	}
	return nil
}

// ValidateBitbucket checks the credentials Bitbucket commands require.
func (c *Config) ValidateBitbucket() error {
	if c.Bitbucket.Username == "" {
		return fmt.Errorf("BITBUCKET_USERNAME is required")
	}
	if c.Bitbucket.AppPassword == "" {
		return fmt.Errorf("BITBUCKET_APP_PASSWORD is required")
	}
	return nil
}

// ValidateSonarCloud checks the credentials SonarCloud commands require.
func (c *Config) ValidateSonarCloud() error {
	if c.SonarCloud.Token == "" {
		return fmt.Errorf("SONARCLOUD_TOKEN is required")
	}
	if c.SonarCloud.Organization == "" {
		return fmt.Errorf("SONARCLOUD_ORGANIZATION is required")
	}
	return nil
}
