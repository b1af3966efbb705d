// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/repolens/repolens/internal/config"
	"github.com/repolens/repolens/internal/ratelimit"
	synceng "github.com/repolens/repolens/internal/sync"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubManager struct {
	status     synceng.SyncStatus
	triggerErr error
}

func (m stubManager) Status() synceng.SyncStatus        { return m.status }
func (m stubManager) TriggerSync(context.Context) error { return m.triggerErr }

func newTestServer(t *testing.T, db Pinger, manager SyncStatusProvider) *httptest.Server {
	t.Helper()
	s := NewServer(config.ServerConfig{
		Host:              "127.0.0.1",
		Port:              0,
		RequestsPerMinute: 1000,
		ShutdownTimeout:   time.Second,
	}, db, manager, func() []ratelimit.Status {
		return []ratelimit.Status{{Name: "bitbucket", WindowCapacity: 1000}}
	})

	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := newTestServer(t, stubPinger{}, stubManager{})

		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("unhealthy database", func(t *testing.T) {
		srv := newTestServer(t, stubPinger{err: errors.New("connection lost")}, stubManager{})

		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", resp.StatusCode)
		}
	})
}

func TestStatusEndpoint(t *testing.T) {
	manager := stubManager{status: synceng.SyncStatus{
		LastSummary: synceng.Summary{Total: 10, Successful: 9, Failed: 1},
	}}
	srv := newTestServer(t, stubPinger{}, manager)

	resp, err := http.Get(srv.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Sync.LastSummary.Total != 10 {
		t.Errorf("expected total 10, got %d", body.Sync.LastSummary.Total)
	}
	if len(body.RateLimiters) != 1 || body.RateLimiters[0].Name != "bitbucket" {
		t.Errorf("unexpected rate limiter snapshot %+v", body.RateLimiters)
	}
}

func TestTriggerSyncEndpoint(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		srv := newTestServer(t, stubPinger{}, stubManager{})

		resp, err := http.Post(srv.URL+"/api/v1/sync/trigger", "application/json", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("expected 202, got %d", resp.StatusCode)
		}
	})

	t.Run("conflict while running", func(t *testing.T) {
		srv := newTestServer(t, stubPinger{}, stubManager{triggerErr: synceng.ErrSyncInProgress})

		resp, err := http.Post(srv.URL+"/api/v1/sync/trigger", "application/json", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("expected 409, got %d", resp.StatusCode)
		}
	})
}

func TestPerIPRateLimit(t *testing.T) {
	limiter := newIPRateLimiter(2)

	if !limiter.allow("10.0.0.1") || !limiter.allow("10.0.0.1") {
		t.Fatal("first two requests should be allowed")
	}
	if limiter.allow("10.0.0.1") {
		t.Error("third request within the burst should be rejected")
	}
	if !limiter.allow("10.0.0.2") {
		t.Error("a different IP must have its own budget")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := newIPRateLimiter(10)
	limiter.allow("10.0.0.1")

	limiter.mu.Lock()
	limiter.limiters["10.0.0.1"].lastAccess = time.Now().Add(-2 * time.Hour)
	limiter.mu.Unlock()

	limiter.cleanup()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.limiters) != 0 {
		t.Errorf("expected stale entry removed, got %d entries", len(limiter.limiters))
	}
}

func TestRateLimiterCleanupLoop(t *testing.T) {
	limiter := newIPRateLimiter(10)
	limiter.allow("10.0.0.1")

	limiter.mu.Lock()
	limiter.limiters["10.0.0.1"].lastAccess = time.Now().Add(-2 * time.Hour)
	limiter.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go limiter.startCleanup(ctx, 10*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		limiter.mu.Lock()
		remaining := len(limiter.limiters)
		limiter.mu.Unlock()
		if remaining == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("cleanup loop did not evict stale entry, %d remaining", remaining)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
