// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/jeranaias/sessionguard/internal/session"
	"github.com/jeranaias/sessionguard/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:9464"

	// Version is the server version.
	Version = "0.3.0"
)

// StatusSource reports the session status.
type StatusSource interface {
	Status() session.Status
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP status server.
type Server struct {
	addr    string
	router  *http.ServeMux
	status  StatusSource
	metrics http.Handler
	started time.Time

	mu     sync.Mutex
	server *http.Server
}

// New creates a Server listening on addr. If addr is empty, DefaultAddr is used.
func New(addr string, status StatusSource) *Server {
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		addr:    addr,
		router:  http.NewServeMux(),
		status:  status,
		metrics: telemetry.Handler(),
		started: time.Now(),
	}

	s.setupRoutes()
	return s
}

// WithMetricsHandler replaces the /metrics handler.
func (s *Server) WithMetricsHandler(h http.Handler) *Server {
	s.metrics = h
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /session", s.handleSession)
	s.router.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.ServeHTTP(w, r)
	})
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		SessionHeadersMiddleware(s.status),
	)(s.router)
}

// ============================================================================
// HANDLERS
// ============================================================================

// HealthResponse is the /health response body.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	UptimeSecs int64  `json:"uptime_secs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    Version,
		UptimeSecs: int64(time.Since(s.started).Seconds()),
	})
}

// SessionResponse is the /session response body.
type SessionResponse struct {
	State         string     `json:"state"`
	Active        bool       `json:"active"`
	RemainingSecs int64      `json:"remaining_secs"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
	Degraded      bool       `json:"degraded"`
}

// NewSessionResponse converts a coordinator status to its wire form.
func NewSessionResponse(st session.Status) SessionResponse {
	resp := SessionResponse{
		State:         st.State.String(),
		Active:        st.State.Active(),
		RemainingSecs: int64(st.Remaining / time.Second),
		Degraded:      st.Degraded,
	}
	if !st.LastActivity.IsZero() {
		last := st.LastActivity.UTC()
		resp.LastActivity = &last
	}
	return resp
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.writeError(w, http.StatusServiceUnavailable, "session coordinator not running")
		return
	}
	s.writeJSON(w, http.StatusOK, NewSessionResponse(s.status.Status()))
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start listens and serves until Shutdown is called.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	log.Printf("SERVER_START | addr=%s version=%s", s.addr, Version)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
