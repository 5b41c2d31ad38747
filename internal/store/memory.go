// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"sync"
)

// MemoryBus is an in-process shared medium. Each MemoryStore opened on the
// same bus behaves like a separate instance: it sees every value, but is only
// notified of changes made through other stores.
type MemoryBus struct {
	mu       sync.Mutex
	data     map[string]string
	nextID   int
	watchers map[int]memoryWatch
}

type memoryWatch struct {
	owner *MemoryStore
	key   string
	fn    func(value string, ok bool)
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		data:     make(map[string]string),
		watchers: make(map[int]memoryWatch),
	}
}

// Open returns a new instance view of the bus.
func (b *MemoryBus) Open() *MemoryStore {
	return &MemoryStore{bus: b}
}

// Watchers returns the number of active watches on the bus.
func (b *MemoryBus) Watchers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

// notify delivers a change to every watcher of key not owned by writer.
// Callbacks run synchronously after the bus lock is released.
func (b *MemoryBus) notify(writer *MemoryStore, key, value string, ok bool) {
	b.mu.Lock()
	var fns []func(string, bool)
	for _, w := range b.watchers {
		if w.key == key && w.owner != writer {
			fns = append(fns, w.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(value, ok)
	}
}

// MemoryStore is one instance's view of a MemoryBus.
type MemoryStore struct {
	bus *MemoryBus
}

// NewMemoryStore returns a store on a private bus.
func NewMemoryStore() *MemoryStore {
	return NewMemoryBus().Open()
}

// Bus returns the bus this store belongs to.
func (s *MemoryStore) Bus() *MemoryBus {
	return s.bus
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	v, ok := s.bus.data[key]
	return v, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.bus.mu.Lock()
	s.bus.data[key] = value
	s.bus.mu.Unlock()

	s.bus.notify(s, key, value, true)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.bus.mu.Lock()
	_, existed := s.bus.data[key]
	delete(s.bus.data, key)
	s.bus.mu.Unlock()

	if existed {
		s.bus.notify(s, key, "", false)
	}
	return nil
}

// Watch implements Store.
func (s *MemoryStore) Watch(key string, fn func(value string, ok bool)) (func(), error) {
	s.bus.mu.Lock()
	id := s.bus.nextID
	s.bus.nextID++
	s.bus.watchers[id] = memoryWatch{owner: s, key: key, fn: fn}
	s.bus.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.bus.mu.Lock()
			defer s.bus.mu.Unlock()
			delete(s.bus.watchers, id)
		})
	}, nil
}

// Close implements Store. The bus outlives its stores.
func (s *MemoryStore) Close() error {
	return nil
}
