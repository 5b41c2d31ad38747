// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresChannel is the LISTEN/NOTIFY channel carrying change envelopes.
const postgresChannel = "sessionguard_kv"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessionguard_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	writer     TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore shares the record through a PostgreSQL table. Writes and
// their change notification commit in one transaction.
type PostgresStore struct {
	pool   *pgxpool.Pool
	writer string

	mu      sync.Mutex
	nextID  int
	cancels map[int]context.CancelFunc
	wg      sync.WaitGroup
}

// NewPostgresStore connects to dsn and creates the table if needed.
func NewPostgresStore(ctx context.Context, dsn, writer string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres store: dsn is required")
	}
	if writer == "" {
		writer = NewWriterID()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if _, err := pool.Exec(connectCtx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: initialize schema: %w", err)
	}

	return &PostgresStore{pool: pool, writer: writer}, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM sessionguard_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres store: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	return s.writeAndNotify(ctx, newEnvelope(key, value, s.writer, false), `
		INSERT INTO sessionguard_kv (key, value, writer, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, writer = excluded.writer, updated_at = excluded.updated_at
	`, key, value, s.writer)
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	return s.writeAndNotify(ctx, newEnvelope(key, "", s.writer, true),
		`DELETE FROM sessionguard_kv WHERE key = $1`, key)
}

func (s *PostgresStore) writeAndNotify(ctx context.Context, env envelope, query string, args ...any) error {
	payload, err := env.encode()
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, postgresChannel, payload)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres store: write %q: %w", env.Key, err)
	}
	return nil
}

// Watch implements Store. Each watch holds a dedicated pooled connection
// for LISTEN until stopped.
func (s *PostgresStore) Watch(key string, fn func(value string, ok bool)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("postgres store: acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+postgresChannel); err != nil {
		conn.Release()
		cancel()
		return nil, fmt.Errorf("postgres store: listen: %w", err)
	}

	s.mu.Lock()
	if s.cancels == nil {
		s.cancels = make(map[int]context.CancelFunc)
	}
	id := s.nextID
	s.nextID++
	s.cancels[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.listen(ctx, conn, key, fn)

	return func() {
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
		cancel()
	}, nil
}

// Watches returns the number of running listeners.
func (s *PostgresStore) Watches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}

func (s *PostgresStore) listen(ctx context.Context, conn *pgxpool.Conn, key string, fn func(string, bool)) {
	defer s.wg.Done()
	defer func() {
		// A wait interrupted by cancellation leaves the connection unusable.
		conn.Conn().Close(context.Background())
		conn.Release()
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("STORE_WATCH_PANIC: postgres %q: %v", key, r)
		}
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("STORE_WATCH_ERROR: postgres %q: %v", key, err)
			}
			return
		}

		env, err := decodeEnvelope(n.Payload)
		if err != nil {
			log.Printf("STORE_WATCH_ERROR: postgres %q: %v", key, err)
			continue
		}
		if env.Key != key || env.Writer == s.writer {
			continue
		}
		if env.Deleted {
			fn("", false)
		} else {
			fn(env.Value, true)
		}
	}
}

// Close stops every watch and closes the pool.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
	s.pool.Close()
	return nil
}
