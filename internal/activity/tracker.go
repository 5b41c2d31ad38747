// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package activity

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/sessionguard/internal/telemetry"
)

const (
	// DefaultStoreTimeout bounds every shared-record call made by a Tracker.
	DefaultStoreTimeout = 2 * time.Second
	// DefaultWriteInterval is the minimum spacing of shared-record writes.
	// Resets inside the interval are published once it has passed.
	DefaultWriteInterval = time.Second
)

// =============================================================================
// HANDLER
// =============================================================================

// Handler receives tracker callbacks. Callbacks run on timer or event
// goroutines, never while the tracker holds its lock, so a handler may call
// back into the Tracker.
type Handler interface {
	// OnActivity fires on every accepted reset.
	OnActivity()
	// OnWarning fires once per warning offset per cycle with the time left.
	OnWarning(remaining time.Duration)
	// OnTimeout fires once when the inactivity period elapses.
	OnTimeout()
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Activity func()
	Warning  func(remaining time.Duration)
	Timeout  func()
}

// OnActivity implements Handler.
func (h HandlerFuncs) OnActivity() {
	if h.Activity != nil {
		h.Activity()
	}
}

// OnWarning implements Handler.
func (h HandlerFuncs) OnWarning(remaining time.Duration) {
	if h.Warning != nil {
		h.Warning(remaining)
	}
}

// OnTimeout implements Handler.
func (h HandlerFuncs) OnTimeout() {
	if h.Timeout != nil {
		h.Timeout()
	}
}

// =============================================================================
// TRACKER
// =============================================================================

// Options configures a Tracker. Schedule and Handler are required.
type Options struct {
	Schedule Schedule
	Handler  Handler

	// Store is the shared record. Nil means single-instance operation.
	Store Store
	// Key overrides DefaultKey.
	Key string
	// Events supplies interaction and visibility events. Nil means the
	// tracker only resets through Reset.
	Events EventSource
	// Clock defaults to RealClock.
	Clock Clock
	// StoreTimeout defaults to DefaultStoreTimeout.
	StoreTimeout time.Duration
	// WriteInterval defaults to DefaultWriteInterval.
	WriteInterval time.Duration
}

// Tracker converts interaction events into an inactivity countdown for one
// running instance.
type Tracker struct {
	sched        Schedule
	handler      Handler
	store        Store
	key          string
	clock        Clock
	storeTimeout time.Duration
	writeLimit   *rate.Limiter

	mu       sync.Mutex
	last     time.Time
	timers   pendingTimers
	removers []func()
	disposed bool
	expired  bool
	degraded bool

	// hydrating is set while New reads the shared record; remote changes
	// seen in that window are held in early.
	hydrating bool
	early     time.Time

	// written is the newest time published to the store; unwritten is a
	// local reset still waiting for flush.
	written   time.Time
	unwritten time.Time
	flush     Timer
}

// New creates a Tracker, rehydrates it from the shared record and attaches
// its listeners. If the shared record is already older than the timeout,
// OnTimeout fires before New returns and nothing is scheduled.
func New(opts Options) (*Tracker, error) {
	sched, err := opts.Schedule.validate()
	if err != nil {
		return nil, err
	}
	if opts.Handler == nil {
		return nil, errors.New("activity: handler is required")
	}

	t := &Tracker{
		sched:        sched,
		handler:      opts.Handler,
		store:        opts.Store,
		key:          opts.Key,
		clock:        opts.Clock,
		storeTimeout: opts.StoreTimeout,
	}
	if t.key == "" {
		t.key = DefaultKey
	}
	if t.clock == nil {
		t.clock = RealClock{}
	}
	if t.storeTimeout <= 0 {
		t.storeTimeout = DefaultStoreTimeout
	}
	interval := opts.WriteInterval
	if interval <= 0 {
		interval = DefaultWriteInterval
	}
	t.writeLimit = rate.NewLimiter(rate.Every(interval), 1)

	// Watch before reading so a write that lands between the read and the
	// subscription is still seen.
	t.watch()
	t.rehydrate()
	t.listen(opts.Events)

	return t, nil
}

// watch subscribes to changes of the shared record made by other instances.
func (t *Tracker) watch() {
	if t.store == nil {
		return
	}
	t.mu.Lock()
	t.hydrating = true
	t.mu.Unlock()

	stop, err := t.store.Watch(t.key, t.onExternalChange)
	if err != nil {
		t.storeFailed("watch", err)
		return
	}
	t.mu.Lock()
	t.removers = append(t.removers, stop)
	t.mu.Unlock()
}

// listen registers interaction and visibility listeners.
func (t *Tracker) listen(events EventSource) {
	if events == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return
	}
	for _, kind := range InteractionEvents {
		t.removers = append(t.removers, events.AddListener(kind, t.onInteraction))
	}
	t.removers = append(t.removers, events.AddListener(Visible, t.onVisible))
}

// rehydrate schedules from the shared record instead of a fresh full cycle.
// A newer time announced by another instance during the read wins.
func (t *Tracker) rehydrate() {
	shared, ok := t.readShared()

	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	if t.early.After(shared) {
		shared, ok = t.early, true
	}
	t.hydrating = false
	t.early = time.Time{}
	if !ok {
		t.mu.Unlock()
		t.reset(telemetry.SourceRehydrate, false)
		return
	}

	now := t.clock.Now()
	if shared.After(now) {
		shared = now
	}
	elapsed := now.Sub(shared)

	t.timers.cancelAll()
	t.last = shared
	if elapsed >= t.sched.Timeout {
		t.expired = true
		t.mu.Unlock()
		t.timeout()
		return
	}
	t.scheduleLocked(elapsed)
	t.mu.Unlock()

	telemetry.TrackerResets.WithLabelValues(telemetry.SourceRehydrate).Inc()
}

// Reset restarts the countdown from now. It is the only way to re-arm an
// expired tracker.
func (t *Tracker) Reset() {
	t.reset(telemetry.SourceExplicit, false)
}

func (t *Tracker) onInteraction() {
	t.reset(telemetry.SourceInteraction, true)
}

// reset cancels every pending timer, schedules a fresh cycle, publishes the
// new time and then reports the activity.
func (t *Tracker) reset(source string, skipIfExpired bool) {
	t.mu.Lock()
	if t.disposed || (skipIfExpired && t.expired) {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	t.timers.cancelAll()
	t.last = now
	t.expired = false
	t.scheduleLocked(0)
	publish := t.publishLocked(now)
	t.mu.Unlock()

	if publish {
		t.writeShared(now)
	}
	telemetry.TrackerResets.WithLabelValues(source).Inc()
	t.call("OnActivity", t.handler.OnActivity)
}

// publishLocked decides whether a reset at now is written immediately. At
// most one write per WriteInterval goes out; a reset inside the interval is
// left for a single trailing flush that carries the newest time.
func (t *Tracker) publishLocked(now time.Time) bool {
	if t.store == nil || now.UnixMilli() <= t.written.UnixMilli() {
		return false
	}
	if t.writeLimit.AllowN(now, 1) {
		t.written = now
		t.unwritten = time.Time{}
		return true
	}
	t.unwritten = now
	if t.flush == nil {
		r := t.writeLimit.ReserveN(now, 1)
		t.flush = t.clock.AfterFunc(r.DelayFrom(now), t.flushShared)
	}
	return false
}

// flushShared publishes the newest local reset held back by publishLocked.
// It is skipped when the cycle has ended or another instance is already
// ahead of it.
func (t *Tracker) flushShared() {
	t.mu.Lock()
	t.flush = nil
	at := t.unwritten
	t.unwritten = time.Time{}
	if t.disposed || t.expired || at.IsZero() || t.last.After(at) {
		t.mu.Unlock()
		return
	}
	t.written = at
	t.mu.Unlock()

	t.writeShared(at)
}

// stopFlushLocked drops any pending trailing write.
func (t *Tracker) stopFlushLocked() {
	if t.flush != nil {
		t.flush.Stop()
		t.flush = nil
	}
	t.unwritten = time.Time{}
}

// adopt catches up to a newer activity time seen by another instance. The
// shared record is not rewritten, so instances never echo each other.
func (t *Tracker) adopt(shared time.Time, source string) {
	now := t.clock.Now()
	if shared.After(now) {
		shared = now
	}

	t.mu.Lock()
	if t.disposed || t.expired || !shared.After(t.last) {
		t.mu.Unlock()
		return
	}
	elapsed := now.Sub(shared)
	t.timers.cancelAll()
	t.last = shared
	if elapsed >= t.sched.Timeout {
		t.expired = true
		t.stopFlushLocked()
		t.mu.Unlock()
		t.timeout()
		return
	}
	t.scheduleLocked(elapsed)
	t.mu.Unlock()

	telemetry.TrackerResets.WithLabelValues(source).Inc()
	t.call("OnActivity", t.handler.OnActivity)
}

// scheduleLocked arms the warnings that are still ahead and the terminal
// timer, given how much of the timeout has already elapsed.
func (t *Tracker) scheduleLocked(elapsed time.Duration) {
	gen := t.timers.gen

	for _, offset := range t.sched.WarningOffsets {
		delay := t.sched.Timeout - offset - elapsed
		if delay < 0 {
			continue
		}
		idx := len(t.timers.warnings)
		remaining := offset
		t.timers.warnings = append(t.timers.warnings, nil)
		t.timers.warnings[idx] = t.clock.AfterFunc(delay, func() {
			t.fireWarning(gen, idx, remaining)
		})
	}

	t.timers.terminal = t.clock.AfterFunc(t.sched.Timeout-elapsed, func() {
		t.fireTimeout(gen)
	})
}

func (t *Tracker) fireWarning(gen uint64, idx int, remaining time.Duration) {
	t.mu.Lock()
	if t.disposed || t.timers.gen != gen {
		t.mu.Unlock()
		return
	}
	t.timers.warnings[idx] = nil
	t.mu.Unlock()

	telemetry.TrackerWarnings.Inc()
	t.call("OnWarning", func() { t.handler.OnWarning(remaining) })
}

func (t *Tracker) fireTimeout(gen uint64) {
	t.mu.Lock()
	if t.disposed || t.timers.gen != gen {
		t.mu.Unlock()
		return
	}
	t.timers.cancelAll()
	t.expired = true
	t.stopFlushLocked()
	t.mu.Unlock()

	t.timeout()
}

func (t *Tracker) timeout() {
	telemetry.TrackerTimeouts.Inc()
	t.call("OnTimeout", t.handler.OnTimeout)
}

// =============================================================================
// CROSS-INSTANCE SYNC
// =============================================================================

func (t *Tracker) onExternalChange(value string, ok bool) {
	if !ok {
		return
	}
	shared, valid := DecodeTimestamp(value)
	if !valid {
		return
	}

	t.mu.Lock()
	if t.hydrating {
		if shared.After(t.early) {
			t.early = shared
		}
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.adopt(shared, telemetry.SourceRemote)
}

func (t *Tracker) onVisible() {
	if shared, ok := t.readShared(); ok {
		t.adopt(shared, telemetry.SourceVisibility)
	}
}

func (t *Tracker) readShared() (time.Time, bool) {
	if t.store == nil {
		return time.Time{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.storeTimeout)
	defer cancel()

	value, ok, err := t.store.Get(ctx, t.key)
	if err != nil {
		t.storeFailed("get", err)
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	return DecodeTimestamp(value)
}

func (t *Tracker) writeShared(at time.Time) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.storeTimeout)
	defer cancel()

	if err := t.store.Set(ctx, t.key, EncodeTimestamp(at)); err != nil {
		t.storeFailed("set", err)
	}
}

func (t *Tracker) storeFailed(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.storeFailedLocked(op, err)
}

// storeFailedLocked records a store failure. Only the first one is logged;
// the tracker keeps running on local timers either way.
func (t *Tracker) storeFailedLocked(op string, err error) {
	telemetry.StoreErrors.WithLabelValues(op).Inc()
	if t.degraded {
		return
	}
	t.degraded = true
	log.Printf("ACTIVITY_STORE_DEGRADED: %s %q failed, continuing without cross-instance sync: %v", op, t.key, err)
}

// =============================================================================
// LIFECYCLE AND ACCESSORS
// =============================================================================

// Dispose cancels every timer and removes every listener. Safe to call twice.
func (t *Tracker) Dispose() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	t.timers.cancelAll()
	t.stopFlushLocked()
	removers := t.removers
	t.removers = nil
	t.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
}

// LastActivity returns the activity time the current cycle counts from.
func (t *Tracker) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Remaining returns the time left before the timeout, or 0 once expired.
func (t *Tracker) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.expired || t.disposed {
		return 0
	}
	left := t.sched.Timeout - t.clock.Now().Sub(t.last)
	if left < 0 {
		return 0
	}
	return left
}

// Pending returns the number of timers that are still armed.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timers.count()
}

// Expired reports whether OnTimeout has fired for the current cycle.
func (t *Tracker) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Degraded reports whether a store failure has disabled cross-instance sync.
func (t *Tracker) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}

// Schedule returns the normalized schedule in use.
func (t *Tracker) Schedule() Schedule {
	return t.sched
}

// call runs a handler callback, recovering a panic so the next reset still
// finds consistent timers.
func (t *Tracker) call(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ACTIVITY_HANDLER_PANIC: %s: %v", name, r)
		}
	}()
	fn()
}
