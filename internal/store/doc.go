// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides backends for the shared last-activity record.
//
// Every backend implements the same small key/value contract: Get, Set,
// Delete, and Watch, where Watch reports only changes made by other
// instances. Each backend stamps its writes with a writer ID so it can
// recognise and skip its own change notifications.
//
// # Backends
//
//   - memory:   in-process bus; one MemoryStore per simulated instance
//   - file:     one JSON file per key in a profile directory, fsnotify for changes
//   - sqlite:   shared SQLite database, polled for changes
//   - redis:    SET plus PUBLISH/SUBSCRIBE on a per-key channel
//   - postgres: upsert plus LISTEN/NOTIFY
//
// # Usage
//
//	st, err := store.Open(ctx, store.Options{Backend: "file", Path: dir})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
package store
