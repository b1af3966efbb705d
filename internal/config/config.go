// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

// Package config provides centralized configuration management for RepoLens.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (BITBUCKET_USERNAME, SONARCLOUD_TOKEN, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
package config

import "time"

// Config is the root configuration for all RepoLens commands.
type Config struct {
	Bitbucket  BitbucketConfig  `koanf:"bitbucket"`
	SonarCloud SonarCloudConfig `koanf:"sonarcloud"`
	Database   DatabaseConfig   `koanf:"database"`
	Sync       SyncConfig       `koanf:"sync"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// BitbucketConfig holds Bitbucket Cloud API credentials and client tuning.
//
// Environment Variables:
//   - BITBUCKET_USERNAME: Bitbucket account username
//   - BITBUCKET_APP_PASSWORD: app password with repository read scope
//   - BITBUCKET_WORKSPACE: default workspace slug for sync commands
//   - BITBUCKET_API_BASE_URL: API root (default https://api.bitbucket.org/2.0)
type BitbucketConfig struct {
	Username    string        `koanf:"username"`
	AppPassword string        `koanf:"app_password"`
	Workspace   string        `koanf:"workspace"`
	BaseURL     string        `koanf:"base_url"`
	Timeout     time.Duration `koanf:"timeout"`

	// RateLimit is the local request ceiling per window. Bitbucket Cloud
	// allows 1000 API requests per hour for most authenticated endpoints.
	RateLimit     int           `koanf:"rate_limit"`
	RateWindow    time.Duration `koanf:"rate_window"`
	BurstLimit    int           `koanf:"burst_limit"`
	RetryAttempts int           `koanf:"retry_attempts"`
}

// SonarCloudConfig holds SonarCloud Web API credentials and client tuning.
//
// Environment Variables:
//   - SONARCLOUD_TOKEN: user token, sent as a bearer token
//   - SONARCLOUD_ORGANIZATION: default organization key
//   - SONARCLOUD_API_BASE_URL: API root (default https://sonarcloud.io/api)
type SonarCloudConfig struct {
	Token        string        `koanf:"token"`
	Organization string        `koanf:"organization"`
	BaseURL      string        `koanf:"base_url"`
	Timeout      time.Duration `koanf:"timeout"`

	RateLimit     int           `koanf:"rate_limit"`
	RateWindow    time.Duration `koanf:"rate_window"`
	BurstLimit    int           `koanf:"burst_limit"`
	RetryAttempts int           `koanf:"retry_attempts"`

	// MetricKeys is the list of measures fetched per project.
	MetricKeys []string `koanf:"metric_keys"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB memory usage (e.g. "2GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads controls DuckDB parallelism. 0 = runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// SyncConfig tunes the batch sync engine and the serve-mode scheduler.
type SyncConfig struct {
	// BatchSize is the number of upserts per chunk. The engine pauses
	// one second between chunks to keep database write pressure bounded.
	BatchSize int `koanf:"batch_size"`

	// PageSize is the upstream page size for paginated listings.
	PageSize int `koanf:"page_size"`

	// Interval is the periodic full-sync cadence in serve mode.
	Interval time.Duration `koanf:"interval"`

	// LinkOverrides pins SonarCloud project keys to Bitbucket repository
	// slugs, bypassing the key-tail heuristic for the listed projects.
	// Example: LINK_OVERRIDES="org:billing-api=billing,org:web=frontend"
	LinkOverrides map[string]string `koanf:"link_overrides"`
}

// ServerConfig holds the serve-mode ops HTTP endpoint settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// RequestsPerMinute is the per-IP request ceiling on the ops endpoint.
	RequestsPerMinute int `koanf:"requests_per_minute"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig controls the global zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Bitbucket: BitbucketConfig{
			BaseURL:       "https://api.bitbucket.org/2.0",
			Timeout:       30 * time.Second,
			RateLimit:     1000,
			RateWindow:    time.Hour,
			BurstLimit:    10,
			RetryAttempts: 1,
		},
		SonarCloud: SonarCloudConfig{
			BaseURL:       "https://sonarcloud.io/api",
			Timeout:       30 * time.Second,
			RateLimit:     1000,
			RateWindow:    time.Hour,
			BurstLimit:    10,
			RetryAttempts: 1,
			MetricKeys: []string{
				"ncloc", "coverage", "bugs", "vulnerabilities", "code_smells",
				"security_hotspots", "duplicated_lines_density", "sqale_index",
				"reliability_rating", "security_rating", "sqale_rating",
			},
		},
		Database: DatabaseConfig{
			Path:      "/data/repolens.duckdb",
			MaxMemory: "2GB",
			Threads:   0,
		},
		Sync: SyncConfig{
			BatchSize: 10,
			PageSize:  100,
			Interval:  6 * time.Hour,
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8419,
			RequestsPerMinute: 120,
			ShutdownTimeout:   10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
