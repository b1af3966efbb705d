// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

// Package main is the RepoLens command line entry point.
//
// RepoLens mirrors Bitbucket Cloud metadata (workspaces, projects,
// repositories, commits, pull requests) and SonarCloud code-quality data
// (organizations, projects, issues, security hotspots, quality gates,
// metrics) into a local DuckDB database, and links SonarCloud projects to
// the repositories they analyze.
//
// # Commands
//
//	repolens migrate                      create or update the database schema
//	repolens check                        verify configuration and upstream connectivity
//	repolens sync workspace [slug]        mirror a workspace with all repository details
//	repolens sync project <key>           mirror one project and its repositories
//	repolens sync repository <slug>       mirror one repository with commits and PRs
//	repolens sync sonarcloud [projectKey] mirror the SonarCloud organization or one project
//	repolens link                         link SonarCloud projects to repositories
//	repolens serve                        run periodic syncs with the ops HTTP server
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (BITBUCKET_USERNAME, SONARCLOUD_TOKEN, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Exit Codes
//
// 0 on success, 1 on configuration or sync failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/repolens/repolens/internal/api"
	"github.com/repolens/repolens/internal/config"
	"github.com/repolens/repolens/internal/database"
	"github.com/repolens/repolens/internal/logging"
	"github.com/repolens/repolens/internal/ratelimit"
	"github.com/repolens/repolens/internal/supervisor"
	"github.com/repolens/repolens/internal/sync"
)

const usage = `RepoLens mirrors Bitbucket and SonarCloud metadata into DuckDB.

Usage:
  repolens migrate
  repolens check
  repolens sync workspace [slug]
  repolens sync project <key>
  repolens sync repository <slug>
  repolens sync sonarcloud [projectKey]
  repolens link
  repolens serve
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		} else {
			logging.Error().Err(err).Msg("Command failed")
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, cfg *config.Config, command string, args []string) error {
	switch command {
	case "migrate":
		return runMigrate(cfg)
	case "check":
		return runCheck(ctx, cfg)
	case "sync":
		return runSync(ctx, cfg, args)
	case "link":
		return runLink(ctx, cfg)
	case "serve":
		return runServe(ctx, cfg)
	default:
		return errUsage
	}
}

// openDatabase opens the configured DuckDB file and ensures the schema.
func openDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		closeDatabase(db)
		return nil, err
	}
	return db, nil
}

func closeDatabase(db *database.DB) {
	if err := db.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing database")
	}
}

func runMigrate(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	logging.Info().Str("path", cfg.Database.Path).Msg("Migration complete")
	return nil
}

// runCheck verifies credentials and upstream reachability for every
// configured API.
func runCheck(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateBitbucket(); err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := db.Ping(ctx); err != nil {
		closeDatabase(db)
		return fmt.Errorf("database check failed: %w", err)
	}
	closeDatabase(db)
	logging.Info().Str("path", cfg.Database.Path).Msg("Database reachable")

	bb := sync.NewBitbucketClient(cfg.Bitbucket, cfg.Sync.PageSize)
	if cfg.Bitbucket.Workspace == "" {
		return errors.New("bitbucket.workspace is required for check")
	}
	ws, err := bb.GetWorkspace(ctx, cfg.Bitbucket.Workspace)
	if err != nil {
		return fmt.Errorf("bitbucket check failed: %w", err)
	}
	logging.Info().Str("workspace", ws.Slug).Str("name", ws.Name).Msg("Bitbucket reachable")

	if cfg.SonarCloud.Token == "" {
		logging.Info().Msg("SonarCloud not configured, skipping")
		return nil
	}
	if err := cfg.ValidateSonarCloud(); err != nil {
		return err
	}
	sc := sync.NewSonarCloudClient(cfg.SonarCloud, cfg.Sync.PageSize)
	org, err := sc.GetOrganization(ctx)
	if err != nil {
		return fmt.Errorf("sonarcloud check failed: %w", err)
	}
	logging.Info().Str("organization", org.Key).Str("name", org.Name).Msg("SonarCloud reachable")

	return nil
}

func runSync(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return errUsage
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	var summary sync.Summary
	switch args[0] {
	case "workspace":
		if err := cfg.ValidateBitbucket(); err != nil {
			return err
		}
		slug, err := workspaceArg(cfg, args[1:])
		if err != nil {
			return err
		}
		service := newBitbucketService(cfg, db)
		summary, err = service.SyncAll(ctx, slug)
		if err != nil {
			return err
		}

	case "project":
		if err := cfg.ValidateBitbucket(); err != nil {
			return err
		}
		if len(args) < 2 {
			return errUsage
		}
		slug, err := workspaceArg(cfg, nil)
		if err != nil {
			return err
		}
		service := newBitbucketService(cfg, db)
		summary, err = service.SyncProjectRepositories(ctx, slug, args[1])
		if err != nil {
			return err
		}

	case "repository":
		if err := cfg.ValidateBitbucket(); err != nil {
			return err
		}
		if len(args) < 2 {
			return errUsage
		}
		slug, err := workspaceArg(cfg, nil)
		if err != nil {
			return err
		}
		service := newBitbucketService(cfg, db)
		summary, err = service.SyncRepository(ctx, slug, args[1])
		if err != nil {
			return err
		}

	case "sonarcloud":
		if err := cfg.ValidateSonarCloud(); err != nil {
			return err
		}
		service := sync.NewSonarCloudService(
			sync.NewSonarCloudClient(cfg.SonarCloud, cfg.Sync.PageSize), db, cfg.Sync.BatchSize)
		var err error
		if len(args) >= 2 {
			summary, err = service.SyncProject(ctx, args[1])
		} else {
			summary, err = service.SyncOrganization(ctx)
		}
		if err != nil {
			return err
		}

	default:
		return errUsage
	}

	logging.Info().
		Int("total", summary.Total).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Float64("success_percent", summary.SuccessPercent()).
		Dur("duration", summary.Duration).
		Msg("Sync finished")
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d items failed", summary.Failed, summary.Total)
	}
	return nil
}

func runLink(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	linker := sync.NewLinker(db, cfg.Sync.LinkOverrides)
	result, err := linker.Run(ctx)
	if err != nil {
		return err
	}
	logging.Info().
		Int("examined", result.Examined).
		Int("linked", result.Linked).
		Int("unmatched", result.Unmatched).
		Msg("Link finished")
	return nil
}

// runServe starts the supervised serve mode: periodic full syncs plus the
// ops HTTP server, until SIGINT or SIGTERM.
func runServe(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateBitbucket(); err != nil {
		return err
	}
	if err := cfg.ValidateSonarCloud(); err != nil {
		return err
	}
	if cfg.Bitbucket.Workspace == "" {
		return errors.New("bitbucket.workspace is required for serve")
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	bbClient := sync.NewBitbucketClient(cfg.Bitbucket, cfg.Sync.PageSize)
	scClient := sync.NewSonarCloudClient(cfg.SonarCloud, cfg.Sync.PageSize)

	manager := sync.NewManager(
		sync.NewBitbucketService(bbClient, db, cfg.Sync.BatchSize),
		sync.NewSonarCloudService(scClient, db, cfg.Sync.BatchSize),
		sync.NewLinker(db, cfg.Sync.LinkOverrides),
		cfg.Bitbucket.Workspace,
		cfg.Sync.Interval,
	)

	server := api.NewServer(cfg.Server, db, manager, func() []ratelimit.Status {
		return []ratelimit.Status{bbClient.LimiterStatus(), scClient.LimiterStatus()}
	})

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddSyncService(manager)
	tree.AddAPIService(server)

	logging.Info().
		Str("workspace", cfg.Bitbucket.Workspace).
		Dur("interval", cfg.Sync.Interval).
		Msg("Starting RepoLens in serve mode")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("Shutdown complete")
	return nil
}

func newBitbucketService(cfg *config.Config, db *database.DB) *sync.BitbucketService {
	return sync.NewBitbucketService(
		sync.NewBitbucketClient(cfg.Bitbucket, cfg.Sync.PageSize), db, cfg.Sync.BatchSize)
}

// workspaceArg resolves the workspace slug from the argument list or the
// configured default.
func workspaceArg(cfg *config.Config, args []string) (string, error) {
	if len(args) >= 1 && args[0] != "" {
		return args[0], nil
	}
	if cfg.Bitbucket.Workspace != "" {
		return cfg.Bitbucket.Workspace, nil
	}
	return "", errors.New("workspace slug required (argument or BITBUCKET_WORKSPACE)")
}
