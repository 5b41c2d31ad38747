// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// DefaultPollInterval is how often polling backends look for changes.
const DefaultPollInterval = 250 * time.Millisecond

// ErrUnknownBackend is returned by Open for an unrecognised backend name.
var ErrUnknownBackend = errors.New("unknown store backend")

// Store is a shared key/value record with change notification.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Watch(key string, fn func(value string, ok bool)) (stop func(), err error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend      string
	Path         string // file directory or SQLite database path
	RedisURL     string
	PostgresDSN  string
	PollInterval time.Duration
	// WriterID identifies this instance. Generated when empty.
	WriterID string
}

// Open creates the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.WriterID == "" {
		opts.WriterID = NewWriterID()
	}

	switch strings.ToLower(opts.Backend) {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(opts.Path, opts.WriterID)
	case BackendSQLite:
		return NewSQLiteStore(opts.Path, opts.WriterID, opts.PollInterval)
	case BackendRedis:
		return NewRedisStore(ctx, opts.RedisURL, opts.WriterID)
	case BackendPostgres:
		return NewPostgresStore(ctx, opts.PostgresDSN, opts.WriterID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// NewWriterID returns a fresh instance identifier.
func NewWriterID() string {
	return uuid.NewString()
}

// =============================================================================
// ENVELOPE
// =============================================================================

// envelope is the on-the-wire form used by backends that broadcast changes.
type envelope struct {
	Key       string `json:"key"`
	Value     string `json:"value,omitempty"`
	Writer    string `json:"writer"`
	Deleted   bool   `json:"deleted,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

func newEnvelope(key, value, writer string, deleted bool) envelope {
	return envelope{
		Key:       key,
		Value:     value,
		Writer:    writer,
		Deleted:   deleted,
		UpdatedAt: time.Now().UnixMilli(),
	}
}

func (e envelope) encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(data), nil
}

func decodeEnvelope(raw string) (envelope, error) {
	var e envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return envelope{}, fmt.Errorf("decode record: %w", err)
	}
	return e, nil
}
