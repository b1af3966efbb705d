// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

// blockingService runs until its context is cancelled.
type blockingService struct {
	started chan struct{}
}

func newBlockingService() *blockingService {
	return &blockingService{started: make(chan struct{}, 1)}
}

func (s *blockingService) Serve(ctx context.Context) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree := NewTree(TreeConfig{})
	if tree.root == nil || tree.sync == nil || tree.api == nil {
		t.Fatal("all supervisors should be constructed")
	}
}

func TestTreeLifecycle(t *testing.T) {
	tree := NewTree(TreeConfig{
		FailureBackoff:  100 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})

	syncSvc := newBlockingService()
	apiSvc := newBlockingService()
	tree.AddSyncService(syncSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- tree.Serve(ctx)
	}()

	for _, started := range []chan struct{}{syncSvc.started, apiSvc.started} {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("service did not start")
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected serve error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancellation")
	}
}
