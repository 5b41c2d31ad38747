// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the non-interactive
// commands of sessionguard.
//
// # Commands
//
//   - tui (default): run the portal
//   - status: show the shared activity record and time remaining
//   - clear: delete the shared activity record
//   - enroll: generate and save a TOTP secret
//   - version, help
//
// # Global Flags
//
//   - --config PATH: load configuration from PATH
//   - --store BACKEND: override store.backend
//   - --json: machine-readable output
package cli
