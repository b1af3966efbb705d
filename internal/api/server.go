// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

// Package api provides the ops HTTP server exposed in serve mode: health,
// sync status and Prometheus metrics. The surface is unauthenticated and
// meant for same-host monitoring; a per-IP rate limit guards it.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/repolens/repolens/internal/config"
	"github.com/repolens/repolens/internal/logging"
	"github.com/repolens/repolens/internal/metrics"
	"github.com/repolens/repolens/internal/ratelimit"
	synceng "github.com/repolens/repolens/internal/sync"
)

// Pinger is the database health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SyncStatusProvider exposes the sync manager's snapshot and trigger.
type SyncStatusProvider interface {
	Status() synceng.SyncStatus
	TriggerSync(ctx context.Context) error
}

// Server is the ops HTTP endpoint.
type Server struct {
	cfg     config.ServerConfig
	db      Pinger
	manager SyncStatusProvider

	// limiterStatuses reports each API rate limiter for /api/v1/status.
	limiterStatuses func() []ratelimit.Status

	ipLimiter  *ipRateLimiter
	httpServer *http.Server
}

// NewServer wires the ops endpoint. limiterStatuses may return any number
// of limiter snapshots (one per upstream API).
func NewServer(cfg config.ServerConfig, db Pinger, manager SyncStatusProvider, limiterStatuses func() []ratelimit.Status) *Server {
	s := &Server{
		cfg:             cfg,
		db:              db,
		manager:         manager,
		limiterStatuses: limiterStatuses,
		ipLimiter:       newIPRateLimiter(cfg.RequestsPerMinute),
	}
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(countRequests)
	r.Use(s.ipLimiter.middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/v1/status", s.handleStatus)
	r.Post("/api/v1/sync/trigger", s.handleTriggerSync)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Serve runs the HTTP server until the context is cancelled, then shuts
// down gracefully within the configured timeout. It satisfies the suture
// service contract.
func (s *Server) Serve(ctx context.Context) error {
	go s.ipLimiter.startCleanup(ctx, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.httpServer.Addr).Msg("Ops server listening")
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown failed: %w", err)
	}
	logging.Info().Msg("Ops server stopped")
	return ctx.Err()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the /api/v1/status body.
type statusResponse struct {
	Sync         synceng.SyncStatus `json:"sync"`
	RateLimiters []ratelimit.Status `json:"rate_limiters"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, statusResponse{
		Sync:         s.manager.Status(),
		RateLimiters: s.limiterStatuses(),
	})
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	// The sync outlives the request; it runs on the background context.
	if err := s.manager.TriggerSync(context.Background()); err != nil {
		if errors.Is(err, synceng.ErrSyncInProgress) {
			writeJSONResponse(w, http.StatusConflict, map[string]string{"status": "sync already in progress"})
			return
		}
		writeJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "sync triggered"})
}

func writeJSONResponse(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

// countRequests records per-path request counts.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(ww.Status())).Inc()
	})
}
