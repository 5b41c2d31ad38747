// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one JSON envelope per key in a directory shared by every
// instance of a profile. Deletes are written as tombstones so the deleting
// instance can recognise its own change event.
type FileStore struct {
	dir    string
	writer string

	mu      sync.Mutex
	closers []func()
}

// NewFileStore creates the directory if needed and returns a store in it.
func NewFileStore(dir, writer string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store: directory is required")
	}
	if writer == "" {
		writer = NewWriterID()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("file store: create directory: %w", err)
	}
	return &FileStore{dir: dir, writer: writer}, nil
}

// Dir returns the directory holding the records.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return filepath.Join(s.dir, b.String()+".json")
}

func (s *FileStore) read(key string) (envelope, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return envelope{}, false, nil
	}
	if err != nil {
		return envelope{}, false, fmt.Errorf("file store: read %q: %w", key, err)
	}
	env, err := decodeEnvelope(string(data))
	if err != nil {
		// A torn or foreign file reads as absent.
		return envelope{}, false, nil
	}
	return env, true, nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	env, ok, err := s.read(key)
	if err != nil || !ok || env.Deleted {
		return "", false, err
	}
	return env.Value, true, nil
}

// Set implements Store.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	return s.write(newEnvelope(key, value, s.writer, false))
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, key string) error {
	return s.write(newEnvelope(key, "", s.writer, true))
}

func (s *FileStore) write(env envelope) error {
	raw, err := env.encode()
	if err != nil {
		return err
	}
	if err := atomicWriteFile(s.path(env.Key), []byte(raw), 0600); err != nil {
		return fmt.Errorf("file store: write %q: %w", env.Key, err)
	}
	return nil
}

// Watch implements Store using fsnotify on the store directory. The
// directory is watched rather than the file because atomic renames replace
// the file's inode.
func (s *FileStore) Watch(key string, fn func(value string, ok bool)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file store: create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("file store: watch %s: %w", s.dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go s.processEvents(ctx, watcher, key, fn)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			watcher.Close()
		})
	}

	s.mu.Lock()
	s.closers = append(s.closers, stop)
	s.mu.Unlock()

	return stop, nil
}

func (s *FileStore) processEvents(ctx context.Context, watcher *fsnotify.Watcher, key string, fn func(string, bool)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("STORE_WATCH_PANIC: file %q: %v", key, r)
		}
	}()

	target := filepath.Clean(s.path(key))
	var last envelope

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}

			env, found, err := s.read(key)
			if err != nil || !found {
				continue
			}
			if env.Writer == s.writer || env == last {
				continue
			}
			last = env

			if env.Deleted {
				fn("", false)
			} else {
				fn(env.Value, true)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("STORE_WATCH_ERROR: file %q: %v", key, err)
		}
	}
}

// Close stops every watch opened on this store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	for _, stop := range closers {
		stop()
	}
	return nil
}

// =============================================================================
// ATOMIC WRITE
// =============================================================================

// atomicWriteFile writes to a temp file in the target directory, syncs it,
// and renames it over path, so readers in other processes see either the old
// record or the new one.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	f, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}
