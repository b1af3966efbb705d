// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRunBatchCountsFailures(t *testing.T) {
	items := make([]int, 10)
	for i := range items {
		items[i] = i
	}

	summary, err := runBatch(context.Background(), "test", items, len(items),
		func(_ context.Context, item int) error {
			if item == 3 || item == 7 {
				return fmt.Errorf("item %d broken", item)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Total != 10 {
		t.Errorf("expected total 10, got %d", summary.Total)
	}
	if summary.Successful != 8 {
		t.Errorf("expected 8 successful, got %d", summary.Successful)
	}
	if summary.Failed != 2 {
		t.Errorf("expected 2 failed, got %d", summary.Failed)
	}
	if pct := summary.SuccessPercent(); pct != 80.0 {
		t.Errorf("expected success percent 80, got %f", pct)
	}
}

func TestRunBatchEmpty(t *testing.T) {
	summary, err := runBatch(context.Background(), "test", nil, 10,
		func(_ context.Context, _ int) error {
			t.Error("process called for empty batch")
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 0 {
		t.Errorf("expected total 0, got %d", summary.Total)
	}
	if pct := summary.SuccessPercent(); pct != 100.0 {
		t.Errorf("expected success percent 100 for empty batch, got %f", pct)
	}
}

func TestRunBatchStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var processed int
	_, err := runBatch(ctx, "test", []int{1, 2, 3, 4, 5}, 5,
		func(_ context.Context, _ int) error {
			processed++
			if processed == 2 {
				cancel()
			}
			return nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if processed != 2 {
		t.Errorf("expected 2 items processed before cancellation, got %d", processed)
	}
}

func TestRunBatchContinuesAfterFailure(t *testing.T) {
	var order []int
	summary, err := runBatch(context.Background(), "test", []int{1, 2, 3}, 3,
		func(_ context.Context, item int) error {
			order = append(order, item)
			if item == 1 {
				return errors.New("first item broken")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("expected all 3 items processed, got %v", order)
	}
	if summary.Failed != 1 || summary.Successful != 2 {
		t.Errorf("expected 1 failed and 2 successful, got %+v", summary)
	}
}
