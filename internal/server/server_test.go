// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sessionguard/internal/session"
)

type staticStatus session.Status

func (s staticStatus) Status() session.Status { return session.Status(s) }

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	srv := New("", nil)
	require.Equal(t, DefaultAddr, srv.Addr())

	rec := do(t, srv.Handler(), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, Version, body.Version)
}

func TestServer_Session(t *testing.T) {
	last := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	srv := New("", staticStatus{
		State:        session.Warning,
		Remaining:    90*time.Second + 400*time.Millisecond,
		LastActivity: last,
	})

	rec := do(t, srv.Handler(), http.MethodGet, "/session")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "warning", rec.Header().Get("X-Session-State"))
	require.Equal(t, "90", rec.Header().Get("X-Session-Expires-In"))

	var body SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "warning", body.State)
	require.True(t, body.Active)
	require.Equal(t, int64(90), body.RemainingSecs)
	require.NotNil(t, body.LastActivity)
	require.True(t, last.Equal(*body.LastActivity))
}

func TestServer_SessionInactiveOmitsLastActivity(t *testing.T) {
	srv := New("", staticStatus{State: session.Inactive})
	rec := do(t, srv.Handler(), http.MethodGet, "/session")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "last_activity")
	require.Contains(t, rec.Body.String(), `"active":false`)
}

func TestServer_SessionWithoutCoordinator(t *testing.T) {
	rec := do(t, New("", nil).Handler(), http.MethodGet, "/session")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RejectsWrongMethod(t *testing.T) {
	rec := do(t, New("", nil).Handler(), http.MethodPost, "/session")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "sessionguard_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := New("", nil).WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	rec := do(t, srv.Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "sessionguard_test_total 1"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, http.MethodGet, "/")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	do(t, h, http.MethodGet, "/")
	require.Equal(t, []string{"a", "b", "handler"}, order)
}
