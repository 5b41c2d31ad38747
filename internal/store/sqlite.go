// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// sqliteSchema holds one row per key. version increases on every write so
// pollers can tell a new write from a repeat of the same value.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	writer     TEXT NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL
)`

const sqliteUpsert = `
INSERT INTO kv (key, value, writer, deleted, version, updated_at)
VALUES (?, ?, ?, ?, 1, ?)
ON CONFLICT(key) DO UPDATE SET
	value = excluded.value,
	writer = excluded.writer,
	deleted = excluded.deleted,
	version = kv.version + 1,
	updated_at = excluded.updated_at`

// SQLiteStore shares the record through a SQLite database file that every
// instance opens. Changes are discovered by polling.
type SQLiteStore struct {
	db     *sql.DB
	writer string
	poll   time.Duration

	mu      sync.Mutex
	nextID  int
	cancels map[int]context.CancelFunc
	closed  bool
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path, writer string, poll time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("sqlite store: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=2000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: set pragma: %w", err)
		}
	}

	s, err := NewSQLiteStoreFromDB(db, writer, poll)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an already open database and creates the schema.
func NewSQLiteStoreFromDB(db *sql.DB, writer string, poll time.Duration) (*SQLiteStore, error) {
	if writer == "" {
		writer = NewWriterID()
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("sqlite store: initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, writer: writer, poll: poll}, nil
}

type sqliteRow struct {
	value   string
	writer  string
	deleted bool
	version int64
}

func (s *SQLiteStore) row(ctx context.Context, key string) (sqliteRow, bool, error) {
	var r sqliteRow
	err := s.db.QueryRowContext(ctx,
		"SELECT value, writer, deleted, version FROM kv WHERE key = ?", key,
	).Scan(&r.value, &r.writer, &r.deleted, &r.version)
	if errors.Is(err, sql.ErrNoRows) {
		return sqliteRow{}, false, nil
	}
	if err != nil {
		return sqliteRow{}, false, fmt.Errorf("sqlite store: read %q: %w", key, err)
	}
	return r, true, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	r, ok, err := s.row(ctx, key)
	if err != nil || !ok || r.deleted {
		return "", false, err
	}
	return r.value, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	return s.upsert(ctx, key, value, false)
}

// Delete implements Store. The row is kept as a tombstone so pollers see it.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.upsert(ctx, key, "", true)
}

func (s *SQLiteStore) upsert(ctx context.Context, key, value string, deleted bool) error {
	_, err := s.db.ExecContext(ctx, sqliteUpsert, key, value, s.writer, deleted, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite store: write %q: %w", key, err)
	}
	return nil
}

// Watch implements Store. The current version is read before Watch returns;
// only later writes by other instances are reported.
func (s *SQLiteStore) Watch(key string, fn func(value string, ok bool)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	base, _, err := s.row(readCtx, key)
	readCancel()
	if err != nil {
		cancel()
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, errors.New("sqlite store: closed")
	}
	if s.cancels == nil {
		s.cancels = make(map[int]context.CancelFunc)
	}
	id := s.nextID
	s.nextID++
	s.cancels[id] = cancel
	s.mu.Unlock()

	go s.pollLoop(ctx, key, base.version, fn)

	return func() {
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
		cancel()
	}, nil
}

// Watches returns the number of running watches.
func (s *SQLiteStore) Watches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}

func (s *SQLiteStore) pollLoop(ctx context.Context, key string, seen int64, fn func(string, bool)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("STORE_WATCH_PANIC: sqlite %q: %v", key, r)
		}
	}()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r, ok, err := s.row(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !failing {
				log.Printf("STORE_WATCH_ERROR: %v", err)
				failing = true
			}
			continue
		}
		failing = false

		if !ok || r.version == seen {
			continue
		}
		seen = r.version
		if r.writer == s.writer {
			continue
		}
		if r.deleted {
			fn("", false)
		} else {
			fn(r.value, true)
		}
	}
}

// Close stops every watch and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return s.db.Close()
}
