// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes session status and metrics over HTTP.
//
// # Endpoints
//
//   - GET /health  - Liveness and version
//   - GET /session - Current coordinator state and time remaining
//   - GET /metrics - Prometheus metrics
//
// The server is read-only: it never resets or extends a session, so
// polling it does not count as user activity.
//
// # Usage
//
//	srv := server.New("127.0.0.1:9464", coordinator)
//	go func() {
//		if err := srv.Start(); err != nil {
//			log.Printf("SERVER_ERROR | %v", err)
//		}
//	}()
//	defer srv.Shutdown(context.Background())
package server
