// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reset sources recorded on TrackerResets.
const (
	SourceInteraction = "interaction"
	SourceExplicit    = "explicit"
	SourceRemote      = "remote"
	SourceVisibility  = "visibility"
	SourceRehydrate   = "rehydrate"
)

var (
	// TrackerResets counts accepted tracker resets by source.
	TrackerResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_tracker_resets_total",
			Help: "Inactivity countdown resets accepted by the tracker.",
		},
		[]string{"source"},
	)

	// TrackerWarnings counts warning callbacks.
	TrackerWarnings = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessionguard_tracker_warnings_total",
		Help: "Inactivity warnings fired.",
	})

	// TrackerTimeouts counts terminal timeouts.
	TrackerTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessionguard_tracker_timeouts_total",
		Help: "Inactivity timeouts fired.",
	})

	// StoreErrors counts shared-record failures by operation.
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_store_errors_total",
			Help: "Shared activity record operations that failed.",
		},
		[]string{"op"},
	)

	// SessionState is the numeric coordinator state.
	SessionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessionguard_session_state",
		Help: "Session coordinator state: 0 inactive, 1 tracking, 2 warning, 3 expired.",
	})

	registerOnce sync.Once
)

// Register adds every collector to reg. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(TrackerResets, TrackerWarnings, TrackerTimeouts, StoreErrors, SessionState)
	})
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
