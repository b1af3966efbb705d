// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/repolens/repolens/internal/logging"
	"github.com/repolens/repolens/internal/metrics"
)

// newCircuitBreaker builds the breaker guarding one upstream API.
//
// The breaker opens after at least 10 requests with a failure ratio of 60%
// or more within a one-minute interval, stays open for two minutes, then
// allows three probe requests in half-open state.
func newCircuitBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitionsTotal.WithLabelValues(
				name, stateToString(from), stateToString(to)).Inc()

			event := logging.Warn()
			if to == gobreaker.StateClosed {
				event = logging.Info()
			}
			event.
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state changed")
		},
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(gobreaker.StateClosed))
	return gobreaker.NewCircuitBreaker[[]byte](settings)
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half_open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
