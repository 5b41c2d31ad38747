// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/sessionguard/internal/activity"
	"github.com/jeranaias/sessionguard/internal/audit"
	"github.com/jeranaias/sessionguard/internal/telemetry"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultSignOutDelay keeps the expired notice on screen before navigating.
	DefaultSignOutDelay = 2 * time.Second
	// DefaultSignOutTimeout bounds the sign-out call.
	DefaultSignOutTimeout = 10 * time.Second
	// ExtendedNoticeDuration is how long the extend confirmation stays up.
	ExtendedNoticeDuration = 4 * time.Second
	// activityAuditInterval limits SESSION_ACTIVITY audit events.
	activityAuditInterval = time.Minute
	// staleWarningSlack is how far the tracker's remaining time may exceed a
	// warning's before the warning counts as overtaken by a reset.
	staleWarningSlack = time.Second
)

// Options configures a Coordinator. Auth, Navigator and Notifier are required.
type Options struct {
	Schedule  activity.Schedule
	Policy    Policy
	Auth      Authenticator
	Navigator Navigator
	Notifier  Notifier

	// Store, Key, Events and Clock are passed to every tracker.
	Store  activity.Store
	Key    string
	Events activity.EventSource
	Clock  activity.Clock

	// Audit may be nil.
	Audit *audit.Logger
	// InstanceID labels audit events.
	InstanceID string

	SignOutDelay   time.Duration
	SignOutTimeout time.Duration
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State        State
	Remaining    time.Duration
	LastActivity time.Time
	Degraded     bool
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator runs at most one tracker, and only while the signed-in user
// is on a trackable route.
type Coordinator struct {
	sched          activity.Schedule
	policy         Policy
	auth           Authenticator
	nav            Navigator
	notifier       Notifier
	store          activity.Store
	key            string
	events         activity.EventSource
	clock          activity.Clock
	audit          *audit.Logger
	instanceID     string
	signOutDelay   time.Duration
	signOutTimeout time.Duration
	activityLimit  *rate.Limiter

	mu       sync.Mutex
	state    State
	tracker  *activity.Tracker
	gen      uint64 // bumped whenever the current tracker is retired
	starting uint64 // generation being constructed, 0 when none
	warning  NoticeID
	warned   bool
	signOut  activity.Timer
	closed   bool
}

// New validates opts and returns an Inactive coordinator. Call Sync to
// evaluate whether tracking should start.
func New(opts Options) (*Coordinator, error) {
	if opts.Auth == nil {
		return nil, errors.New("session: authenticator is required")
	}
	if opts.Navigator == nil {
		return nil, errors.New("session: navigator is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("session: notifier is required")
	}
	sched, err := activity.NewSchedule(opts.Schedule.Timeout, opts.Schedule.WarningOffsets...)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		sched:          sched,
		policy:         opts.Policy,
		auth:           opts.Auth,
		nav:            opts.Navigator,
		notifier:       opts.Notifier,
		store:          opts.Store,
		key:            opts.Key,
		events:         opts.Events,
		clock:          opts.Clock,
		audit:          opts.Audit,
		instanceID:     opts.InstanceID,
		signOutDelay:   opts.SignOutDelay,
		signOutTimeout: opts.SignOutTimeout,
		activityLimit:  rate.NewLimiter(rate.Every(activityAuditInterval), 1),
	}
	if c.key == "" {
		c.key = activity.DefaultKey
	}
	if c.clock == nil {
		c.clock = activity.RealClock{}
	}
	if c.signOutDelay <= 0 {
		c.signOutDelay = DefaultSignOutDelay
	}
	if c.signOutTimeout <= 0 {
		c.signOutTimeout = DefaultSignOutTimeout
	}
	telemetry.SessionState.Set(float64(Inactive))

	return c, nil
}

// Sync starts or stops tracking to match the current sign-in state and
// route. Hosts call it after every sign-in, sign-out and navigation.
func (c *Coordinator) Sync() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if c.policy.ShouldTrack(c.auth.Authenticated(), c.nav.Path()) {
		if c.tracker != nil || c.starting != 0 {
			c.mu.Unlock()
			return
		}
		c.gen++
		gen := c.gen
		c.starting = gen
		c.mu.Unlock()

		c.start(gen)
		return
	}

	t, wasActive := c.stopLocked()
	c.mu.Unlock()

	if t != nil {
		t.Dispose()
	}
	if wasActive {
		c.logEvent(audit.EventTrackingStopped, map[string]string{"route": c.nav.Path()})
	}
}

// start builds the tracker outside the lock, since construction may call
// the handlers synchronously.
func (c *Coordinator) start(gen uint64) {
	t, err := activity.New(activity.Options{
		Schedule: c.sched,
		Handler:  &boundHandler{c: c, gen: gen},
		Store:    c.store,
		Key:      c.key,
		Events:   c.events,
		Clock:    c.clock,
	})

	c.mu.Lock()
	if c.starting == gen {
		c.starting = 0
	}
	if err != nil {
		c.mu.Unlock()
		log.Printf("SESSION_TRACKING_FAILED: %v", err)
		return
	}
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		t.Dispose()
		return
	}
	c.tracker = t
	if c.state == Inactive {
		c.setStateLocked(Tracking)
	}
	c.mu.Unlock()

	c.logEvent(audit.EventTrackingStarted, map[string]string{
		"route":      c.nav.Path(),
		"timeout":    c.sched.Timeout.String(),
		"remaining":  t.Remaining().String(),
		"cross_sync": fmt.Sprint(c.store != nil && !t.Degraded()),
	})
}

// stopLocked retires the current tracker. The caller disposes the returned
// tracker after releasing the lock.
func (c *Coordinator) stopLocked() (*activity.Tracker, bool) {
	wasActive := c.state != Inactive
	t := c.tracker
	c.tracker = nil
	c.gen++
	c.starting = 0
	c.dismissWarningLocked()
	c.setStateLocked(Inactive)
	return t, wasActive
}

// ExtendSession restarts the countdown and dismisses the warning. It
// reports false when there is nothing to extend.
func (c *Coordinator) ExtendSession() bool {
	c.mu.Lock()
	t := c.tracker
	if c.closed || t == nil || c.state == Expired {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	// Reset cancels and reschedules atomically inside the tracker. A timeout
	// that fired but has not reached onTimeout yet is then discarded there,
	// because the tracker is no longer expired.
	t.Reset()

	c.mu.Lock()
	if c.closed || c.tracker != t || c.state == Expired {
		c.mu.Unlock()
		return false
	}
	c.dismissWarningLocked()
	c.setStateLocked(Tracking)
	c.notifier.Show(Notice{
		Kind:     NoticeSuccess,
		Title:    "Session extended",
		Message:  fmt.Sprintf("You will stay signed in for another %s.", formatRemaining(c.sched.Timeout)),
		Duration: ExtendedNoticeDuration,
	})
	c.mu.Unlock()

	c.logEvent(audit.EventExtended, nil)
	return true
}

// =============================================================================
// TRACKER CALLBACKS
// =============================================================================

// boundHandler ties tracker callbacks to the generation that created the
// tracker, so callbacks from a retired tracker are ignored.
type boundHandler struct {
	c   *Coordinator
	gen uint64
}

func (h *boundHandler) OnActivity() { h.c.onActivity(h.gen) }

func (h *boundHandler) OnWarning(remaining time.Duration) { h.c.onWarning(h.gen, remaining) }

func (h *boundHandler) OnTimeout() { h.c.onTimeout(h.gen) }

func (c *Coordinator) current(gen uint64) bool {
	return !c.closed && c.gen == gen
}

func (c *Coordinator) onActivity(gen uint64) {
	c.mu.Lock()
	if !c.current(gen) || c.state == Expired {
		c.mu.Unlock()
		return
	}
	if c.state == Warning {
		c.dismissWarningLocked()
		c.setStateLocked(Tracking)
	}
	c.mu.Unlock()

	if c.activityLimit.Allow() {
		c.logEvent(audit.EventActivity, nil)
	}
}

func (c *Coordinator) onWarning(gen uint64, remaining time.Duration) {
	c.mu.Lock()
	if !c.current(gen) || c.state == Expired {
		c.mu.Unlock()
		return
	}
	// A reset between the timer firing and this call makes the warning stale.
	if t := c.tracker; t != nil && t.Remaining() > remaining+staleWarningSlack {
		c.mu.Unlock()
		return
	}

	c.dismissWarningLocked()
	c.warning = c.notifier.Show(Notice{
		Kind:    NoticeWarning,
		Title:   "Session expiring",
		Message: fmt.Sprintf("You will be signed out in %s due to inactivity.", formatRemaining(remaining)),
		Action: &Action{
			Label: "Stay signed in",
			Run:   func() { c.ExtendSession() },
		},
		Duration: remaining,
	})
	c.warned = true
	c.setStateLocked(Warning)
	c.mu.Unlock()

	c.logEvent(audit.EventWarning, map[string]string{"remaining": remaining.String()})
}

func (c *Coordinator) onTimeout(gen uint64) {
	c.mu.Lock()
	if !c.current(gen) || c.state == Expired {
		c.mu.Unlock()
		return
	}
	// ExtendSession re-armed the tracker after the timer fired.
	if t := c.tracker; t != nil && !t.Expired() {
		c.mu.Unlock()
		return
	}
	c.dismissWarningLocked()
	c.setStateLocked(Expired)
	c.mu.Unlock()

	log.Printf("SESSION_TIMEOUT: no activity for %s, signing out", c.sched.Timeout)
	c.clearShared()

	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	c.notifier.Show(Notice{
		Kind:    NoticeError,
		Title:   "Session expired",
		Message: "You have been signed out due to inactivity.",
	})
	c.signOut = c.clock.AfterFunc(c.signOutDelay, c.finishSignOut)
	c.mu.Unlock()

	c.logEvent(audit.EventTimeout, map[string]string{"timeout": c.sched.Timeout.String()})
}

// clearShared deletes the shared record so the next sign-in starts clean.
func (c *Coordinator) clearShared() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), activity.DefaultStoreTimeout)
	defer cancel()
	if err := c.store.Delete(ctx, c.key); err != nil {
		telemetry.StoreErrors.WithLabelValues("delete").Inc()
		log.Printf("SESSION_CLEAR_FAILED: %v", err)
	}
}

// finishSignOut signs out and navigates away. Navigation happens even when
// sign-out fails.
func (c *Coordinator) finishSignOut() {
	c.mu.Lock()
	c.signOut = nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.signOutTimeout)
	err := c.callSignOut(ctx)
	cancel()

	if err != nil {
		log.Printf("SESSION_SIGNOUT_FAILED: %v", err)
		c.logFailure(audit.EventSignOutFailed, err)
	} else {
		c.logEvent(audit.EventSignedOut, nil)
	}

	c.nav.Redirect(c.policy.SignedOutRoute)
	c.Sync()
}

func (c *Coordinator) callSignOut(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sign-out panicked: %v", r)
		}
	}()
	return c.auth.SignOut(ctx)
}

// =============================================================================
// STATE HELPERS
// =============================================================================

func (c *Coordinator) dismissWarningLocked() {
	if !c.warned {
		return
	}
	c.notifier.Dismiss(c.warning)
	c.warned = false
	c.warning = 0
}

func (c *Coordinator) setStateLocked(s State) {
	c.state = s
	telemetry.SessionState.Set(float64(s))
}

// =============================================================================
// ACCESSORS AND LIFECYCLE
// =============================================================================

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the time left before expiry, or 0 when not tracking.
func (c *Coordinator) Remaining() time.Duration {
	c.mu.Lock()
	t := c.tracker
	c.mu.Unlock()
	if t == nil {
		return 0
	}
	return t.Remaining()
}

// Status returns a snapshot for status displays and the HTTP endpoint.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{State: c.state}
	t := c.tracker
	c.mu.Unlock()

	if t != nil {
		st.Remaining = t.Remaining()
		st.LastActivity = t.LastActivity()
		st.Degraded = t.Degraded()
	}
	return st
}

// Schedule returns the normalized schedule.
func (c *Coordinator) Schedule() activity.Schedule {
	return c.sched
}

// Close stops tracking and cancels a pending sign-out. Safe to call twice.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	t, _ := c.stopLocked()
	c.closed = true
	if c.signOut != nil {
		c.signOut.Stop()
		c.signOut = nil
	}
	c.mu.Unlock()

	if t != nil {
		t.Dispose()
	}
}

func (c *Coordinator) logEvent(eventType string, metadata map[string]string) {
	if err := c.audit.LogEvent(c.instanceID, eventType, metadata); err != nil {
		log.Printf("AUDIT_WRITE_FAILED: %s: %v", eventType, err)
	}
}

func (c *Coordinator) logFailure(eventType string, cause error) {
	if err := c.audit.LogFailure(c.instanceID, eventType, cause, nil); err != nil {
		log.Printf("AUDIT_WRITE_FAILED: %s: %v", eventType, err)
	}
}

// formatRemaining renders d as M:SS.
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
