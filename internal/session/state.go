// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// State is the coordinator's position in the session lifecycle.
type State int

const (
	// Inactive means no tracker exists.
	Inactive State = iota
	// Tracking means a tracker is running and no warning is shown.
	Tracking
	// Warning means a warning notice is visible.
	Warning
	// Expired means the timeout fired and sign-out is in progress.
	Expired
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Tracking:
		return "tracking"
	case Warning:
		return "warning"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Active reports whether a tracker should be running in this state.
func (s State) Active() bool {
	return s == Tracking || s == Warning
}
