// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package activity_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sessionguard/internal/activity"
	"github.com/jeranaias/sessionguard/internal/activity/activitytest"
	"github.com/jeranaias/sessionguard/internal/store"
)

// =============================================================================
// HELPERS
// =============================================================================

func schedule(t *testing.T, timeout time.Duration, offsets ...time.Duration) activity.Schedule {
	t.Helper()
	s, err := activity.NewSchedule(timeout, offsets...)
	require.NoError(t, err)
	return s
}

func newTracker(t *testing.T, opts activity.Options) *activity.Tracker {
	t.Helper()
	tr, err := activity.New(opts)
	require.NoError(t, err)
	t.Cleanup(tr.Dispose)
	return tr
}

func at(d time.Duration) time.Time {
	return activitytest.Epoch.Add(d)
}

// quietStore is a shared record that never reports changes, so only
// visibility checks can discover another instance's writes.
type quietStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *quietStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *quietStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string]string)
	}
	s.data[key] = value
	return nil
}

func (s *quietStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *quietStore) Watch(string, func(string, bool)) (func(), error) {
	return func() {}, nil
}

// racingStore runs onGet once, after the first read has been taken, to
// simulate another instance writing while this one rehydrates.
type racingStore struct {
	*store.MemoryStore
	onGet func()
}

func (s *racingStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.MemoryStore.Get(ctx, key)
	if fn := s.onGet; fn != nil {
		s.onGet = nil
		fn()
	}
	return v, ok, err
}

// countingStore counts Set calls.
type countingStore struct {
	*store.MemoryStore
	sets atomic.Int64
}

func (s *countingStore) Set(ctx context.Context, key, value string) error {
	s.sets.Add(1)
	return s.MemoryStore.Set(ctx, key, value)
}

// =============================================================================
// SCHEDULING
// =============================================================================

func TestTracker_WarningsThenSingleTimeout(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)

	tr := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  rec,
		Clock:    clock,
	})
	require.Equal(t, 1, rec.Count("activity"))
	require.Equal(t, 4, tr.Pending())

	clock.Advance(2 * time.Hour)

	warnings := rec.Calls("warning")
	require.Len(t, warnings, 3)
	require.Equal(t, at(480*time.Second), warnings[0].At)
	require.Equal(t, 2*time.Minute, warnings[0].Remaining)
	require.Equal(t, at(540*time.Second), warnings[1].At)
	require.Equal(t, time.Minute, warnings[1].Remaining)
	require.Equal(t, at(570*time.Second), warnings[2].At)
	require.Equal(t, 30*time.Second, warnings[2].Remaining)

	timeouts := rec.Calls("timeout")
	require.Len(t, timeouts, 1)
	require.Equal(t, at(600*time.Second), timeouts[0].At)

	require.True(t, tr.Expired())
	require.Zero(t, tr.Pending())
	require.Zero(t, tr.Remaining())
	require.Zero(t, clock.Pending())
}

func TestTracker_ResetCancelsPendingCycle(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)

	tr := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  rec,
		Clock:    clock,
	})

	clock.Advance(490 * time.Second)
	require.Equal(t, 1, rec.Count("warning"))

	tr.Reset()
	require.Equal(t, 2, rec.Count("activity"))
	require.Equal(t, at(490*time.Second), tr.LastActivity())
	require.Equal(t, 4, tr.Pending())
	require.Equal(t, 4, clock.Pending(), "old timers must be stopped")

	// Nothing from the old cycle at 540, 570 or 600.
	clock.Advance(479 * time.Second)
	require.Equal(t, 1, rec.Count("warning"))
	require.Zero(t, rec.Count("timeout"))

	clock.Advance(time.Second)
	require.Equal(t, 2, rec.Count("warning"))
	require.Equal(t, at(970*time.Second), rec.Calls("warning")[1].At)

	clock.Advance(time.Hour)
	require.Equal(t, 4, rec.Count("warning"))
	timeouts := rec.Calls("timeout")
	require.Len(t, timeouts, 1)
	require.Equal(t, at(1090*time.Second), timeouts[0].At)
}

func TestTracker_RepeatedResetsKeepOneCycle(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)

	tr := newTracker(t, activity.Options{
		Schedule: schedule(t, time.Minute, 10*time.Second),
		Handler:  rec,
		Clock:    clock,
	})

	for i := 0; i < 50; i++ {
		clock.Advance(time.Second)
		tr.Reset()
	}
	require.Equal(t, 2, tr.Pending())
	require.Equal(t, 2, clock.Pending())

	clock.Advance(time.Hour)
	require.Equal(t, 1, rec.Count("warning"))
	require.Equal(t, 1, rec.Count("timeout"))
}

func TestTracker_InteractionResetsAndIsIgnoredOnceExpired(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)
	events := activity.NewDispatcher()

	tr := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  rec,
		Clock:    clock,
		Events:   events,
	})
	require.Equal(t, len(activity.InteractionEvents)+1, events.Listeners())

	clock.Advance(100 * time.Second)
	events.Dispatch(activity.PointerMove)
	require.Equal(t, at(100*time.Second), tr.LastActivity())
	require.Equal(t, 10*time.Minute, tr.Remaining())

	clock.Advance(10 * time.Minute)
	require.True(t, tr.Expired())

	events.Dispatch(activity.KeyDown)
	require.True(t, tr.Expired())
	require.Zero(t, tr.Pending())
	require.Equal(t, 2, rec.Count("activity"))

	tr.Reset()
	require.False(t, tr.Expired())
	require.Equal(t, 4, tr.Pending())
	require.Equal(t, 3, rec.Count("activity"))
}

// =============================================================================
// REHYDRATION
// =============================================================================

func TestTracker_RehydrateExpiredRecordTimesOutImmediately(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)
	shared := store.NewMemoryStore()
	require.NoError(t, shared.Set(context.Background(), activity.DefaultKey,
		activity.EncodeTimestamp(clock.Now().Add(-605*time.Second))))

	tr := newTracker(t, activity.Options{
		Schedule: schedule(t, 600*time.Second, 120*time.Second, 60*time.Second),
		Handler:  rec,
		Clock:    clock,
		Store:    shared,
	})

	require.Equal(t, 1, rec.Count("timeout"))
	require.Zero(t, rec.Count("warning"))
	require.Zero(t, rec.Count("activity"))
	require.True(t, tr.Expired())
	require.Zero(t, tr.Pending())
	require.Zero(t, clock.Pending())
}

func TestTracker_RehydratePartialElapsed(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)
	shared := store.NewMemoryStore()
	require.NoError(t, shared.Set(context.Background(), activity.DefaultKey,
		activity.EncodeTimestamp(clock.Now().Add(-500*time.Second))))

	tr := newTracker(t, activity.Options{
		Schedule: schedule(t, 600*time.Second, 120*time.Second, 60*time.Second),
		Handler:  rec,
		Clock:    clock,
		Store:    shared,
	})

	require.Equal(t, 2, tr.Pending(), "one warning and the timeout")
	next, ok := clock.NextIn()
	require.True(t, ok)
	require.Equal(t, 40*time.Second, next)
	require.Equal(t, 100*time.Second, tr.Remaining())

	clock.Advance(time.Hour)
	warnings := rec.Calls("warning")
	require.Len(t, warnings, 1)
	require.Equal(t, time.Minute, warnings[0].Remaining)
	require.Equal(t, at(40*time.Second), warnings[0].At)

	timeouts := rec.Calls("timeout")
	require.Len(t, timeouts, 1)
	require.Equal(t, at(100*time.Second), timeouts[0].At)
}

func TestTracker_RehydrateWithoutRecordStartsFreshAndPublishes(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)
	shared := store.NewMemoryStore()

	newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  rec,
		Clock:    clock,
		Store:    shared,
	})

	v, ok, err := shared.Get(context.Background(), activity.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	got, ok := activity.DecodeTimestamp(v)
	require.True(t, ok)
	require.True(t, got.Equal(clock.Now()))
}

func TestTracker_FutureRecordIsClampedToNow(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)
	shared := store.NewMemoryStore()
	require.NoError(t, shared.Set(context.Background(), activity.DefaultKey,
		activity.EncodeTimestamp(clock.Now().Add(time.Hour))))

	tr := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  rec,
		Clock:    clock,
		Store:    shared,
	})

	require.Equal(t, activity.DefaultTimeout, tr.Remaining())
	require.Equal(t, clock.Now(), tr.LastActivity())
}

func TestTracker_GarbageRecordStartsFresh(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)
	shared := store.NewMemoryStore()
	require.NoError(t, shared.Set(context.Background(), activity.DefaultKey, "not-a-time"))

	tr := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  rec,
		Clock:    clock,
		Store:    shared,
	})
	require.Equal(t, activity.DefaultTimeout, tr.Remaining())
	require.Equal(t, 1, rec.Count("activity"))
}

// =============================================================================
// CROSS-INSTANCE SYNC
// =============================================================================

func TestTracker_CrossInstanceCatchUp(t *testing.T) {
	clock := activitytest.NewClock()
	bus := store.NewMemoryBus()
	recA := activitytest.NewRecorder(clock)
	recB := activitytest.NewRecorder(clock)

	a := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  recA,
		Clock:    clock,
		Store:    bus.Open(),
	})
	b := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  recB,
		Clock:    clock,
		Store:    bus.Open(),
	})

	clock.Advance(300 * time.Second)
	b.Reset()

	require.Equal(t, at(300*time.Second), a.LastActivity())
	require.Equal(t, 2, recA.Count("activity"))
	require.Equal(t, 1, recB.Count("activity"), "adopting must not echo back")

	clock.Advance(300 * time.Second)
	require.Zero(t, recA.Count("timeout"), "old deadline at 600s must not fire")
	require.Zero(t, recA.Count("warning"))

	clock.Advance(300 * time.Second)
	timeouts := recA.Calls("timeout")
	require.Len(t, timeouts, 1)
	require.Equal(t, at(900*time.Second), timeouts[0].At)
	require.Equal(t, 1, recB.Count("timeout"))
}

func TestTracker_OlderRemoteTimestampIsIgnored(t *testing.T) {
	clock := activitytest.NewClock()
	bus := store.NewMemoryBus()
	rec := activitytest.NewRecorder(clock)

	tr := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  rec,
		Clock:    clock,
		Store:    bus.Open(),
	})
	clock.Advance(100 * time.Second)
	tr.Reset()

	other := bus.Open()
	require.NoError(t, other.Set(context.Background(), activity.DefaultKey,
		activity.EncodeTimestamp(at(50*time.Second))))

	require.Equal(t, at(100*time.Second), tr.LastActivity())
	require.Equal(t, 2, rec.Count("activity"))
}

func TestTracker_RemoteRecordSchedulesFromSharedTime(t *testing.T) {
	clock := activitytest.NewClock()
	bus := store.NewMemoryBus()
	rec := activitytest.NewRecorder(clock)

	tr := newTracker(t, activity.Options{
		Schedule: schedule(t, time.Minute),
		Handler:  rec,
		Clock:    clock,
		Store:    bus.Open(),
	})

	clock.Advance(30 * time.Second)
	tr.Reset()
	clock.Advance(50 * time.Second)

	other := bus.Open()
	require.NoError(t, other.Set(context.Background(), activity.DefaultKey,
		activity.EncodeTimestamp(at(35*time.Second))))
	require.Equal(t, at(35*time.Second), tr.LastActivity())
	require.Equal(t, 15*time.Second, tr.Remaining())

	clock.Advance(time.Hour)
	timeouts := rec.Calls("timeout")
	require.Len(t, timeouts, 1)
	require.Equal(t, at(95*time.Second), timeouts[0].At)
}

func TestTracker_VisibilityCatchesUpWithoutNotification(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)
	events := activity.NewDispatcher()
	shared := &quietStore{}

	tr := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  rec,
		Clock:    clock,
		Store:    shared,
		Events:   events,
	})

	clock.Advance(400 * time.Second)
	require.NoError(t, shared.Set(context.Background(), activity.DefaultKey,
		activity.EncodeTimestamp(at(350*time.Second))))
	require.Equal(t, activitytest.Epoch, tr.LastActivity())

	events.Dispatch(activity.Visible)
	require.Equal(t, at(350*time.Second), tr.LastActivity())
	require.Equal(t, 550*time.Second, tr.Remaining())
	require.Equal(t, 2, rec.Count("activity"))
}

func TestTracker_RemoteDeleteDoesNotReset(t *testing.T) {
	clock := activitytest.NewClock()
	bus := store.NewMemoryBus()
	rec := activitytest.NewRecorder(clock)

	tr := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  rec,
		Clock:    clock,
		Store:    bus.Open(),
	})
	clock.Advance(time.Minute)

	require.NoError(t, bus.Open().Delete(context.Background(), activity.DefaultKey))
	require.Equal(t, activitytest.Epoch, tr.LastActivity())
	require.Equal(t, 9*time.Minute, tr.Remaining())
}

// =============================================================================
// LIFECYCLE AND FAILURES
// =============================================================================

func TestTracker_DisposeIsIdempotent(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)
	events := activity.NewDispatcher()
	bus := store.NewMemoryBus()

	tr, err := activity.New(activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  rec,
		Clock:    clock,
		Store:    bus.Open(),
		Events:   events,
	})
	require.NoError(t, err)
	require.Equal(t, 1, bus.Watchers())

	tr.Dispose()
	tr.Dispose()

	require.Zero(t, events.Listeners())
	require.Zero(t, bus.Watchers())
	require.Zero(t, tr.Pending())
	require.Zero(t, clock.Pending())

	events.Dispatch(activity.KeyDown)
	tr.Reset()
	clock.Advance(time.Hour)
	require.Equal(t, 1, rec.Count(""), "only the initial activity")
}

func TestTracker_StoreFailureDegradesToLocalTimers(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)

	tr := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  rec,
		Clock:    clock,
		Store:    activitytest.FailingStore{},
	})

	require.True(t, tr.Degraded())
	require.Equal(t, 1, rec.Count("activity"))
	require.Equal(t, 4, tr.Pending())

	tr.Reset()
	clock.Advance(10 * time.Minute)
	require.Equal(t, 3, rec.Count("warning"))
	require.Equal(t, 1, rec.Count("timeout"))
}

func TestTracker_HandlerPanicDoesNotBreakTimers(t *testing.T) {
	clock := activitytest.NewClock()
	var timeouts int

	tr := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Clock:    clock,
		Handler: activity.HandlerFuncs{
			Activity: func() { panic("activity boom") },
			Warning:  func(time.Duration) { panic("warning boom") },
			Timeout:  func() { timeouts++ },
		},
	})

	clock.Advance(10 * time.Minute)
	require.Equal(t, 1, timeouts)

	tr.Reset()
	require.False(t, tr.Expired())
	require.Equal(t, 4, tr.Pending())
}

func TestTracker_HandlerMayCallBack(t *testing.T) {
	clock := activitytest.NewClock()
	var tr *activity.Tracker
	var remaining []time.Duration

	tr = newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Clock:    clock,
		Handler: activity.HandlerFuncs{
			Warning: func(time.Duration) { remaining = append(remaining, tr.Remaining()) },
			Timeout: func() { tr.Reset() },
		},
	})

	clock.Advance(10 * time.Minute)
	require.Equal(t, []time.Duration{2 * time.Minute, time.Minute, 30 * time.Second}, remaining)
	require.False(t, tr.Expired())
	require.Equal(t, 4, tr.Pending())
}

func TestNew_Validation(t *testing.T) {
	_, err := activity.New(activity.Options{Handler: activity.HandlerFuncs{}})
	require.ErrorIs(t, err, activity.ErrInvalidSchedule)

	_, err = activity.New(activity.Options{Schedule: activity.DefaultSchedule()})
	require.Error(t, err)
}

func TestTimestampEncoding(t *testing.T) {
	ts := time.UnixMilli(1736154000123)
	got, ok := activity.DecodeTimestamp(activity.EncodeTimestamp(ts))
	require.True(t, ok)
	require.True(t, got.Equal(ts))

	for _, bad := range []string{"", "0", "-5", "abc", "12.5"} {
		_, ok := activity.DecodeTimestamp(bad)
		require.False(t, ok, bad)
	}
}

// =============================================================================
// STARTUP RACE AND WRITE COALESCING
// =============================================================================

func TestTracker_WriteDuringRehydrateIsNotLost(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)
	bus := store.NewMemoryBus()
	other := bus.Open()
	require.NoError(t, other.Set(context.Background(), activity.DefaultKey,
		activity.EncodeTimestamp(clock.Now().Add(-500*time.Second))))

	racing := &racingStore{MemoryStore: bus.Open()}
	racing.onGet = func() {
		require.NoError(t, other.Set(context.Background(), activity.DefaultKey,
			activity.EncodeTimestamp(clock.Now())))
	}

	tr := newTracker(t, activity.Options{
		Schedule: schedule(t, 600*time.Second, 120*time.Second, 60*time.Second),
		Handler:  rec,
		Clock:    clock,
		Store:    racing,
	})

	require.Equal(t, clock.Now(), tr.LastActivity())
	require.Equal(t, 600*time.Second, tr.Remaining())

	clock.Advance(101 * time.Second)
	require.Zero(t, rec.Count("timeout"), "the other instance was active 101s ago")
	require.Zero(t, rec.Count("warning"))
}

func TestTracker_EventBurstCoalescesSharedWrites(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)
	events := activity.NewDispatcher()
	bus := store.NewMemoryBus()
	shared := &countingStore{MemoryStore: bus.Open()}

	tr := newTracker(t, activity.Options{
		Schedule: activity.DefaultSchedule(),
		Handler:  rec,
		Clock:    clock,
		Store:    shared,
		Events:   events,
	})
	require.Equal(t, int64(1), shared.sets.Load())

	for i := 0; i < 1000; i++ {
		clock.Advance(10 * time.Millisecond)
		events.Dispatch(activity.PointerMove)
	}

	// Every event still resets the local countdown.
	require.Equal(t, at(10*time.Second), tr.LastActivity())
	require.Equal(t, 1001, rec.Count("activity"))
	require.LessOrEqual(t, shared.sets.Load(), int64(12))

	// The trailing flush publishes the newest time.
	clock.Advance(activity.DefaultWriteInterval)
	v, ok, err := bus.Open().Get(context.Background(), activity.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	got, ok := activity.DecodeTimestamp(v)
	require.True(t, ok)
	require.True(t, got.Equal(at(10*time.Second)))
	require.LessOrEqual(t, shared.sets.Load(), int64(13))
}

func TestTracker_NoTrailingWriteAfterTimeout(t *testing.T) {
	clock := activitytest.NewClock()
	rec := activitytest.NewRecorder(clock)
	bus := store.NewMemoryBus()
	shared := &countingStore{MemoryStore: bus.Open()}

	tr := newTracker(t, activity.Options{
		Schedule:      schedule(t, time.Second),
		Handler:       rec,
		Clock:         clock,
		Store:         shared,
		WriteInterval: time.Minute,
	})

	clock.Advance(500 * time.Millisecond)
	tr.Reset()
	require.Equal(t, 1, clock.Pending()-tr.Pending(), "one trailing flush is armed")

	clock.Advance(time.Second)
	require.Equal(t, 1, rec.Count("timeout"))
	require.Zero(t, clock.Pending())

	require.NoError(t, shared.Delete(context.Background(), activity.DefaultKey))
	clock.Advance(time.Hour)
	_, ok, err := shared.Get(context.Background(), activity.DefaultKey)
	require.NoError(t, err)
	require.False(t, ok, "an expired cycle must not republish")
	require.Equal(t, int64(1), shared.sets.Load())
}
