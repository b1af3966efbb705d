// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

/*
Package sync mirrors Bitbucket Cloud and SonarCloud metadata into the
local database.

Architecture:

	BitbucketClient ──┐
	                  ├── restClient ── ratelimit.Limiter ── gobreaker
	SonarCloudClient ─┘

	BitbucketService   workspace -> projects -> repositories -> commits, PRs
	SonarCloudService  organization -> projects -> issues, hotspots, gates, measures
	Linker             sonar_projects.key tail -> repositories.slug
	Manager            full-run orchestration, interval scheduling in serve mode

Every upstream request is admitted by a sliding-window rate limiter that
honors the server's X-RateLimit-* response headers, and guarded by a
circuit breaker per API. Entity writes run in batches; a failed item is
counted and logged, never fatal to the run.

Thread safety: the Manager serializes sync execution with syncMu and
protects its status snapshot with mu. Clients and services are safe for
concurrent use.
*/
package sync
