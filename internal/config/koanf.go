// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/repolens/config.yaml",
	"/etc/repolens/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables (highest priority), then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Shared API_* values go in first so the per-client environment
	// variables loaded below override them.
	applySharedAPIEnv(k)

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Comma-separated env values for list- and map-typed keys.
	if err := processListFields(k); err != nil {
		return nil, fmt.Errorf("failed to process list fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envMappings maps flat environment variable names to koanf config paths.
// Unlisted variables are ignored so unrelated process environment does not
// leak into the configuration.
var envMappings = map[string]string{
	"bitbucket_username":       "bitbucket.username",
	"bitbucket_app_password":   "bitbucket.app_password",
	"bitbucket_workspace":      "bitbucket.workspace",
	"bitbucket_api_base_url":   "bitbucket.base_url",
	"bitbucket_timeout":        "bitbucket.timeout",
	"bitbucket_rate_limit":     "bitbucket.rate_limit",
	"bitbucket_rate_window":    "bitbucket.rate_window",
	"bitbucket_burst_limit":    "bitbucket.burst_limit",
	"bitbucket_retry_attempts": "bitbucket.retry_attempts",

	"sonarcloud_token":          "sonarcloud.token",
	"sonarcloud_organization":   "sonarcloud.organization",
	"sonarcloud_api_base_url":   "sonarcloud.base_url",
	"sonarcloud_timeout":        "sonarcloud.timeout",
	"sonarcloud_rate_limit":     "sonarcloud.rate_limit",
	"sonarcloud_rate_window":    "sonarcloud.rate_window",
	"sonarcloud_burst_limit":    "sonarcloud.burst_limit",
	"sonarcloud_retry_attempts": "sonarcloud.retry_attempts",
	"sonarcloud_metric_keys":    "sonarcloud.metric_keys",

	// API_* variables apply the same value to both clients.
	"api_rate_limit":     "",
	"api_burst_limit":    "",
	"api_timeout":        "",
	"api_retry_attempts": "",

	"database_path":       "database.path",
	"database_max_memory": "database.max_memory",
	"database_threads":    "database.threads",

	"batch_size":     "sync.batch_size",
	"page_size":      "sync.page_size",
	"sync_interval":  "sync.interval",
	"link_overrides": "sync.link_overrides",

	"server_host":                "server.host",
	"server_port":                "server.port",
	"server_requests_per_minute": "server.requests_per_minute",
	"server_shutdown_timeout":    "server.shutdown_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// sharedAPIMappings expands an API_* variable to its per-client paths.
var sharedAPIMappings = map[string][]string{
	"api_rate_limit":     {"bitbucket.rate_limit", "sonarcloud.rate_limit"},
	"api_burst_limit":    {"bitbucket.burst_limit", "sonarcloud.burst_limit"},
	"api_timeout":        {"bitbucket.timeout", "sonarcloud.timeout"},
	"api_retry_attempts": {"bitbucket.retry_attempts", "sonarcloud.retry_attempts"},
}

// envTransformFunc transforms environment variable names to koanf paths.
//
// Examples:
//   - BITBUCKET_APP_PASSWORD -> bitbucket.app_password
//   - DATABASE_PATH -> database.path
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	lower := strings.ToLower(key)
	if path, ok := envMappings[lower]; ok && path != "" {
		return path
	}
	return "" // unmapped variables are dropped by the provider
}

// applySharedAPIEnv copies API_* variables onto both client config sections.
// It runs before the per-client env provider, so BITBUCKET_* and
// SONARCLOUD_* variables still win.
func applySharedAPIEnv(k *koanf.Koanf) {
	for envKey, paths := range sharedAPIMappings {
		value := os.Getenv(strings.ToUpper(envKey))
		if value == "" {
			continue
		}
		for _, path := range paths {
			_ = k.Set(path, value)
		}
	}
}

// processListFields converts comma-separated string env values into the
// slice and map shapes the Config struct expects.
func processListFields(k *koanf.Koanf) error {
	if raw := k.String("sonarcloud.metric_keys"); raw != "" && strings.Contains(raw, ",") {
		var keys []string
		for _, item := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				keys = append(keys, trimmed)
			}
		}
		if err := k.Set("sonarcloud.metric_keys", keys); err != nil {
			return err
		}
	}

	// LINK_OVERRIDES="sonarKey=repoSlug,sonarKey2=repoSlug2"
	if raw, ok := k.Get("sync.link_overrides").(string); ok && raw != "" {
		overrides := make(map[string]string)
		for _, item := range strings.Split(raw, ",") {
			trimmed := strings.TrimSpace(item)
			if trimmed == "" {
				continue
			}
			parts := strings.SplitN(trimmed, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("malformed link override %q, want sonarKey=repoSlug", trimmed)
			}
			overrides[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
		if err := k.Set("sync.link_overrides", overrides); err != nil {
			return err
		}
	}

	return nil
}
