// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates the inactivity timeout for a signed-in user.
//
// The Coordinator decides when an activity.Tracker should exist, turns its
// callbacks into notices, and performs the sign-out when the inactivity
// period runs out.
//
// # States
//
//   - Inactive: no tracker exists. Either nobody is signed in or the current
//     route is excluded (the sign-in flow). No listeners, no timers.
//   - Tracking: a tracker is running and no warning is shown.
//   - Warning: a warning notice with an extend action is shown.
//   - Expired: the timeout fired and the sign-out sequence is running.
//
// # Usage
//
//	coord, err := session.New(session.Options{
//	    Schedule:  activity.DefaultSchedule(),
//	    Policy:    session.DefaultPolicy(),
//	    Auth:      authenticator,
//	    Navigator: router,
//	    Notifier:  toasts,
//	    Store:     shared,
//	    Events:    dispatcher,
//	})
//	defer coord.Close()
//
// Call Sync whenever sign-in state or the route changes:
//
//	router.OnChange(coord.Sync)
//
// # Expiry
//
// On timeout the coordinator dismisses the warning, deletes the shared
// activity record, shows a non-interactive expired notice, waits
// SignOutDelay, signs out (bounded by SignOutTimeout), and redirects to the
// policy's signed-out route even if the sign-out failed.
package session
