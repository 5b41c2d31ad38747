// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for sessionguard.
//
// Supports both TOML and JSON configuration formats, with defaults,
// .env files, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - SessionConfig: Inactivity timeout, warning offsets and sign-out timing
//   - RoutesConfig: Which routes are tracked and where expiry lands
//   - StoreConfig: Shared activity record backend
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SESSIONGUARD_*), including .env files
//   - ~/.sessionguard/config.toml
//   - ~/.sessionguard/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access the global instance:
//
//	cfg := config.Global()
//	timeout := cfg.Timeout()
package config
