// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package activitytest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Call is one recorded handler callback.
type Call struct {
	Kind      string // "activity", "warning" or "timeout"
	Remaining time.Duration
	At        time.Time
}

// Recorder is an activity.Handler that records every callback with the fake
// clock time it fired at.
type Recorder struct {
	Clock *Clock

	mu    sync.Mutex
	calls []Call
}

// NewRecorder creates a Recorder stamping calls with clock.
func NewRecorder(clock *Clock) *Recorder {
	return &Recorder{Clock: clock}
}

func (r *Recorder) add(kind string, remaining time.Duration) {
	at := time.Time{}
	if r.Clock != nil {
		at = r.Clock.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Kind: kind, Remaining: remaining, At: at})
}

// OnActivity implements activity.Handler.
func (r *Recorder) OnActivity() { r.add("activity", 0) }

// OnWarning implements activity.Handler.
func (r *Recorder) OnWarning(remaining time.Duration) { r.add("warning", remaining) }

// OnTimeout implements activity.Handler.
func (r *Recorder) OnTimeout() { r.add("timeout", 0) }

// Calls returns every recorded call of kind, or all calls when kind is empty.
func (r *Recorder) Calls(kind string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Call
	for _, c := range r.calls {
		if kind == "" || c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many calls of kind were recorded.
func (r *Recorder) Count(kind string) int {
	return len(r.Calls(kind))
}

// Reset forgets every recorded call.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// ErrStoreUnavailable is returned by FailingStore.
var ErrStoreUnavailable = errors.New("store unavailable")

// FailingStore is an activity.Store whose every operation fails.
type FailingStore struct{}

// Get implements activity.Store.
func (FailingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, ErrStoreUnavailable
}

// Set implements activity.Store.
func (FailingStore) Set(context.Context, string, string) error { return ErrStoreUnavailable }

// Delete implements activity.Store.
func (FailingStore) Delete(context.Context, string) error { return ErrStoreUnavailable }

// Watch implements activity.Store.
func (FailingStore) Watch(string, func(string, bool)) (func(), error) {
	return nil, ErrStoreUnavailable
}
