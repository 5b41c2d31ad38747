// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry exposes Prometheus metrics for inactivity tracking.
//
// Collectors are package-level so the tracker, the coordinator and the stores
// can record without threading a registry through every constructor. Call
// Register once at startup and serve Handler on the metrics endpoint.
//
// # Metrics
//
//   - sessionguard_tracker_resets_total{source}: accepted resets by origin
//   - sessionguard_tracker_warnings_total: warning callbacks fired
//   - sessionguard_tracker_timeouts_total: terminal timeouts fired
//   - sessionguard_store_errors_total{op}: shared-record failures
//   - sessionguard_session_state: current coordinator state (0 inactive .. 3 expired)
//
// # Privacy
//
// Metrics carry no user identifiers and no timestamps of user activity.
package telemetry
