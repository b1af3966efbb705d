// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Bitbucket.BaseURL != "https://api.bitbucket.org/2.0" {
		t.Errorf("bitbucket base URL = %q", cfg.Bitbucket.BaseURL)
	}
	if cfg.Bitbucket.RateLimit != 1000 {
		t.Errorf("rate limit = %d, want 1000", cfg.Bitbucket.RateLimit)
	}
	if cfg.Bitbucket.RateWindow != time.Hour {
		t.Errorf("rate window = %s, want 1h", cfg.Bitbucket.RateWindow)
	}
	if cfg.Sync.BatchSize != 10 {
		t.Errorf("batch size = %d, want 10", cfg.Sync.BatchSize)
	}
	if cfg.Sync.PageSize != 100 {
		t.Errorf("page size = %d, want 100", cfg.Sync.PageSize)
	}
	if len(cfg.SonarCloud.MetricKeys) == 0 {
		t.Error("default metric keys missing")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BITBUCKET_USERNAME", "deploy-bot")
	t.Setenv("BITBUCKET_APP_PASSWORD", "secret")
	t.Setenv("BITBUCKET_WORKSPACE", "acme")
	t.Setenv("SONARCLOUD_TOKEN", "tok")
	t.Setenv("DATABASE_PATH", "/tmp/test.duckdb")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Bitbucket.Username != "deploy-bot" {
		t.Errorf("username = %q", cfg.Bitbucket.Username)
	}
	if cfg.Bitbucket.Workspace != "acme" {
		t.Errorf("workspace = %q", cfg.Bitbucket.Workspace)
	}
	if cfg.SonarCloud.Token != "tok" {
		t.Errorf("token = %q", cfg.SonarCloud.Token)
	}
	if cfg.Database.Path != "/tmp/test.duckdb" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Sync.BatchSize != 25 {
		t.Errorf("batch size = %d, want 25", cfg.Sync.BatchSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoadSharedAPIEnv(t *testing.T) {
	t.Setenv("API_RATE_LIMIT", "500")
	t.Setenv("API_TIMEOUT", "45s")
	t.Setenv("SONARCLOUD_RATE_LIMIT", "200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Bitbucket.RateLimit != 500 {
		t.Errorf("bitbucket rate limit = %d, want 500 from API_RATE_LIMIT", cfg.Bitbucket.RateLimit)
	}
	if cfg.SonarCloud.RateLimit != 200 {
		t.Errorf("sonarcloud rate limit = %d, want per-client 200 to win", cfg.SonarCloud.RateLimit)
	}
	if cfg.Bitbucket.Timeout != 45*time.Second {
		t.Errorf("bitbucket timeout = %v, want 45s from API_TIMEOUT", cfg.Bitbucket.Timeout)
	}
	if cfg.SonarCloud.Timeout != 45*time.Second {
		t.Errorf("sonarcloud timeout = %v, want 45s from API_TIMEOUT", cfg.SonarCloud.Timeout)
	}
}

func TestLoadMetricKeysFromEnv(t *testing.T) {
	t.Setenv("SONARCLOUD_METRIC_KEYS", "ncloc, coverage ,bugs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := []string{"ncloc", "coverage", "bugs"}
	if len(cfg.SonarCloud.MetricKeys) != len(want) {
		t.Fatalf("metric keys = %v, want %v", cfg.SonarCloud.MetricKeys, want)
	}
	for i, key := range want {
		if cfg.SonarCloud.MetricKeys[i] != key {
			t.Errorf("metric key[%d] = %q, want %q", i, cfg.SonarCloud.MetricKeys[i], key)
		}
	}
}

func TestLoadLinkOverridesFromEnv(t *testing.T) {
	t.Setenv("LINK_OVERRIDES", "acme_billing-api=billing, acme_web=frontend")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if got := cfg.Sync.LinkOverrides["acme_billing-api"]; got != "billing" {
		t.Errorf("override[acme_billing-api] = %q, want billing", got)
	}
	if got := cfg.Sync.LinkOverrides["acme_web"]; got != "frontend" {
		t.Errorf("override[acme_web] = %q, want frontend", got)
	}
}

func TestLoadMalformedLinkOverrides(t *testing.T) {
	t.Setenv("LINK_OVERRIDES", "no-equals-sign")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed LINK_OVERRIDES")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
bitbucket:
  workspace: file-workspace
sync:
  batch_size: 42
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Bitbucket.Workspace != "file-workspace" {
		t.Errorf("workspace = %q, want file-workspace", cfg.Bitbucket.Workspace)
	}
	if cfg.Sync.BatchSize != 42 {
		t.Errorf("batch size = %d, want 42", cfg.Sync.BatchSize)
	}
	// Untouched keys keep their defaults.
	if cfg.Sync.PageSize != 100 {
		t.Errorf("page size = %d, want default 100", cfg.Sync.PageSize)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  path: /from/file.duckdb\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DATABASE_PATH", "/from/env.duckdb")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Path != "/from/env.duckdb" {
		t.Errorf("database path = %q, env should win over file", cfg.Database.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"zero batch size", func(c *Config) { c.Sync.BatchSize = 0 }, "batch_size"},
		{"page size too large", func(c *Config) { c.Sync.PageSize = 500 }, "page_size"},
		{"bad base URL", func(c *Config) { c.Bitbucket.BaseURL = "not a url" }, "base_url"},
		{"zero rate limit", func(c *Config) { c.SonarCloud.RateLimit = 0 }, "rate_limit"},
		{"burst exceeds rate limit", func(c *Config) { c.Bitbucket.BurstLimit = 2000 }, "burst_limit"},
		{"negative timeout", func(c *Config) { c.Bitbucket.Timeout = -time.Second }, "timeout"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "format"},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"zero retry attempts", func(c *Config) { c.Bitbucket.RetryAttempts = 0 }, "retry_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCredentials(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.ValidateBitbucket(); err == nil {
		t.Error("expected error for missing Bitbucket credentials")
	}
	if err := cfg.ValidateSonarCloud(); err == nil {
		t.Error("expected error for missing SonarCloud token")
	}

	cfg.Bitbucket.Username = "u"
	cfg.Bitbucket.AppPassword = "p"
	cfg.SonarCloud.Token = "t"
	cfg.SonarCloud.Organization = "o"

	if err := cfg.ValidateBitbucket(); err != nil {
		t.Errorf("ValidateBitbucket() error: %v", err)
	}
	if err := cfg.ValidateSonarCloud(); err != nil {
		t.Errorf("ValidateSonarCloud() error: %v", err)
	}
}
