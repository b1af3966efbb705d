// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"context"
	"time"

	"github.com/repolens/repolens/internal/logging"
	"github.com/repolens/repolens/internal/metrics"
)

// interChunkPause is the delay between batch chunks, keeping database
// write pressure bounded during large syncs.
const interChunkPause = time.Second

// Summary reports the outcome of one batch run. A failed item never
// aborts the batch; it is counted and the run continues.
type Summary struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// SuccessPercent returns the share of successful items on a 0-100 scale,
// 100 for an empty batch.
func (s Summary) SuccessPercent() float64 {
	if s.Total == 0 {
		return 100.0
	}
	return float64(s.Successful) / float64(s.Total) * 100.0
}

// runBatch processes items in chunks of chunkSize, calling process for
// each item and pausing between chunks. Item failures are logged and
// counted; the batch stops early only on context cancellation.
func runBatch[T any](ctx context.Context, entity string, items []T, chunkSize int, process func(context.Context, T) error) (Summary, error) {
	if chunkSize <= 0 {
		chunkSize = 1
	}

	start := time.Now()
	summary := Summary{Total: len(items)}

	for offset := 0; offset < len(items); offset += chunkSize {
		end := offset + chunkSize
		if end > len(items) {
			end = len(items)
		}

		for _, item := range items[offset:end] {
			if err := ctx.Err(); err != nil {
				summary.Duration = time.Since(start)
				return summary, err
			}

			if err := process(ctx, item); err != nil {
				summary.Failed++
				metrics.SyncOperationsTotal.WithLabelValues(entity, "failure").Inc()
				logging.Error().Err(err).
					Str("entity", entity).
					Msg("Batch item failed")
				continue
			}
			summary.Successful++
			metrics.SyncOperationsTotal.WithLabelValues(entity, "success").Inc()
		}

		if end < len(items) {
			if err := pause(ctx, interChunkPause); err != nil {
				summary.Duration = time.Since(start)
				return summary, err
			}
		}
	}

	summary.Duration = time.Since(start)
	logging.Info().
		Str("entity", entity).
		Int("total", summary.Total).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Float64("success_percent", summary.SuccessPercent()).
		Dur("duration", summary.Duration).
		Msg("Batch complete")
	return summary, nil
}

// pause sleeps for d unless the context is cancelled first.
func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
