// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package activity turns user interaction into an inactivity countdown.
//
// A Tracker listens for interaction events, records the last activity time in a
// shared record visible to every running instance of the same profile, and
// schedules warning callbacks ahead of a terminal timeout callback.
//
// # Key Types
//
//   - Tracker: owns the timers and the listeners for one running instance
//   - Schedule: timeout plus the offsets-before-timeout at which warnings fire
//   - Handler: receives OnActivity, OnWarning and OnTimeout
//   - Store: shared key/value record with change notification from other instances
//   - Dispatcher: concrete EventSource that hosts feed interaction events into
//
// # Usage
//
//	sched, _ := activity.NewSchedule(10*time.Minute, 2*time.Minute, time.Minute, 30*time.Second)
//	t, err := activity.New(activity.Options{
//	    Schedule: sched,
//	    Handler:  handler,
//	    Store:    shared,
//	    Events:   dispatcher,
//	})
//	if err != nil {
//	    return err
//	}
//	defer t.Dispose()
//
// # Cross-instance behaviour
//
// Every local reset writes the current time to the shared record. When another
// instance writes a newer time, or when the terminal regains focus and the
// record is newer than what this instance has seen, the tracker adopts that
// time and reschedules relative to it. Store failures degrade to
// single-instance operation; local timing keeps working.
package activity
