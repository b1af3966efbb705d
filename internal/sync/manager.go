// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/repolens/repolens/internal/logging"
	"github.com/repolens/repolens/internal/metrics"
)

// ErrSyncInProgress is returned by TriggerSync while a run is active.
var ErrSyncInProgress = errors.New("sync already in progress")

// Manager orchestrates full sync runs: Bitbucket workspace, SonarCloud
// organization, then the linker. In serve mode it runs on a fixed
// interval as a supervised service.
type Manager struct {
	bitbucket *BitbucketService
	sonar     *SonarCloudService
	linker    *Linker
	workspace string
	interval  time.Duration

	// syncMu serializes sync execution; mu protects the snapshot.
	syncMu sync.Mutex
	mu     sync.RWMutex

	lastSync    time.Time
	lastSummary Summary
	lastLink    LinkResult
	lastErr     error
}

// NewManager wires the three sync stages together. workspace is the
// Bitbucket workspace slug mirrored on each run.
func NewManager(bitbucket *BitbucketService, sonar *SonarCloudService, linker *Linker, workspace string, interval time.Duration) *Manager {
	return &Manager{
		bitbucket: bitbucket,
		sonar:     sonar,
		linker:    linker,
		workspace: workspace,
		interval:  interval,
	}
}

// Serve runs an immediate full sync and then one per interval until the
// context is cancelled. It satisfies the suture service contract; sync
// failures are logged and recorded, never returned, so the supervisor
// does not restart the service on upstream flakiness.
func (m *Manager) Serve(ctx context.Context) error {
	logging.Info().
		Str("workspace", m.workspace).
		Dur("interval", m.interval).
		Msg("Sync manager started")

	m.runFullSync(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Sync manager stopping")
			return ctx.Err()
		case <-ticker.C:
			m.runFullSync(ctx)
		}
	}
}

// TriggerSync starts a full sync in the background unless one is already
// running. The outcome lands in the status snapshot.
func (m *Manager) TriggerSync(ctx context.Context) error {
	if !m.syncMu.TryLock() {
		return ErrSyncInProgress
	}
	go func() {
		defer m.syncMu.Unlock()
		if err := m.fullSyncLocked(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Triggered sync failed")
		}
	}()
	return nil
}

func (m *Manager) runFullSync(ctx context.Context) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	if err := m.fullSyncLocked(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Full sync failed")
	}
}

func (m *Manager) fullSyncLocked(ctx context.Context) error {
	start := time.Now()
	var summary Summary
	var linkResult LinkResult

	bbSummary, err := m.bitbucket.SyncAll(ctx, m.workspace)
	summary.add(bbSummary)

	if err == nil {
		var scSummary Summary
		scSummary, err = m.sonar.SyncOrganization(ctx)
		summary.add(scSummary)
	}

	if err == nil {
		linkResult, err = m.linker.Run(ctx)
	}

	summary.Duration = time.Since(start)
	metrics.SyncDurationSeconds.WithLabelValues("full").Observe(summary.Duration.Seconds())
	if err == nil {
		metrics.SyncLastSuccessTimestamp.WithLabelValues("full").Set(float64(time.Now().Unix()))
	}

	m.mu.Lock()
	m.lastSync = time.Now()
	m.lastSummary = summary
	m.lastLink = linkResult
	m.lastErr = err
	m.mu.Unlock()

	if err != nil {
		return err
	}
	logging.Info().
		Int("total", summary.Total).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("linked", linkResult.Linked).
		Dur("duration", summary.Duration).
		Msg("Full sync complete")
	return nil
}

// SyncStatus is the snapshot exposed on the ops endpoint.
type SyncStatus struct {
	LastSync    time.Time  `json:"last_sync"`
	LastSummary Summary    `json:"last_summary"`
	LastLink    LinkResult `json:"last_link"`
	LastError   string     `json:"last_error,omitempty"`
	InProgress  bool       `json:"in_progress"`
}

// Status returns the outcome of the most recent full sync.
func (m *Manager) Status() SyncStatus {
	inProgress := !m.syncMu.TryLock()
	if !inProgress {
		m.syncMu.Unlock()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	status := SyncStatus{
		LastSync:    m.lastSync,
		LastSummary: m.lastSummary,
		LastLink:    m.lastLink,
		InProgress:  inProgress,
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}

// LastSyncTime returns when the last full sync finished.
func (m *Manager) LastSyncTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}
