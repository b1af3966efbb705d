// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

// Package metrics defines the Prometheus collectors exported on the ops
// server's /metrics endpoint. Collectors are registered at package init via
// promauto; callers just increment.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestsTotal counts upstream API requests by api (bitbucket,
	// sonarcloud) and outcome (success, error).
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repolens",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total upstream API requests by API and outcome",
		},
		[]string{"api", "outcome"},
	)

	// APIRequestDuration tracks upstream request latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "repolens",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Upstream API request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"api"},
	)

	// RateLimiterWaitsTotal counts admissions that were refused and had to
	// wait before proceeding.
	RateLimiterWaitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repolens",
			Subsystem: "ratelimit",
			Name:      "waits_total",
			Help:      "Total rate limiter admission waits by API",
		},
		[]string{"api"},
	)

	// RateLimiterWaitSecondsTotal accumulates time spent waiting for
	// admission.
	RateLimiterWaitSecondsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repolens",
			Subsystem: "ratelimit",
			Name:      "wait_seconds_total",
			Help:      "Total seconds spent waiting for rate limiter admission",
		},
		[]string{"api"},
	)

	// RateLimiterWindowUsage reports the current sliding-window occupancy.
	RateLimiterWindowUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "repolens",
			Subsystem: "ratelimit",
			Name:      "window_usage",
			Help:      "Requests currently counted in the sliding window",
		},
		[]string{"api"},
	)

	// RateLimiterRetriesTotal counts operation retries after failures.
	RateLimiterRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repolens",
			Subsystem: "ratelimit",
			Name:      "retries_total",
			Help:      "Total operation retries by API",
		},
		[]string{"api"},
	)

	// CircuitBreakerState reports breaker state (0=closed, 1=half-open,
	// 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "repolens",
			Subsystem: "circuit",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerTransitionsTotal counts breaker state changes.
	CircuitBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repolens",
			Subsystem: "circuit",
			Name:      "breaker_transitions_total",
			Help:      "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// SyncOperationsTotal counts entity upserts by entity type and outcome.
	SyncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repolens",
			Subsystem: "sync",
			Name:      "operations_total",
			Help:      "Total entity sync operations by entity and outcome",
		},
		[]string{"entity", "outcome"},
	)

	// SyncDurationSeconds tracks the duration of full sync runs.
	SyncDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "repolens",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"scope"},
	)

	// SyncLastSuccessTimestamp records the unix time of the last successful
	// sync per scope, for alerting on staleness.
	SyncLastSuccessTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "repolens",
			Subsystem: "sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful sync per scope",
		},
		[]string{"scope"},
	)

	// DBOperationsTotal counts database statements by operation and table.
	DBOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repolens",
			Subsystem: "db",
			Name:      "operations_total",
			Help:      "Total database operations by statement type and table",
		},
		[]string{"operation", "table"},
	)

	// DBErrorsTotal counts database statement failures.
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repolens",
			Subsystem: "db",
			Name:      "errors_total",
			Help:      "Total database operation failures by statement type and table",
		},
		[]string{"operation", "table"},
	)

	// HTTPRequestsTotal counts ops-server HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repolens",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total ops server HTTP requests by path and status code",
		},
		[]string{"path", "code"},
	)
)
