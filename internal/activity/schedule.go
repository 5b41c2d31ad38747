// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package activity

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// SCHEDULE DEFAULTS
// =============================================================================

const (
	// DefaultTimeout is the inactivity period before the session is ended.
	DefaultTimeout = 10 * time.Minute
)

// DefaultWarningOffsets are the remaining-time points at which warnings fire.
var DefaultWarningOffsets = []time.Duration{2 * time.Minute, time.Minute, 30 * time.Second}

// ErrInvalidSchedule is returned when a timeout or warning offset is out of range.
var ErrInvalidSchedule = errors.New("invalid activity schedule")

// =============================================================================
// SCHEDULE
// =============================================================================

// Schedule is the timeout configuration for one tracking session.
// WarningOffsets are durations before Timeout, sorted largest first so the
// earliest warning comes first.
type Schedule struct {
	Timeout        time.Duration
	WarningOffsets []time.Duration
}

// NewSchedule validates the timeout and offsets and returns a normalized Schedule.
// Offsets must be positive and strictly less than timeout. Duplicates are dropped.
func NewSchedule(timeout time.Duration, offsets ...time.Duration) (Schedule, error) {
	if timeout <= 0 {
		return Schedule{}, fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidSchedule, timeout)
	}

	seen := make(map[time.Duration]bool, len(offsets))
	normalized := make([]time.Duration, 0, len(offsets))
	for _, off := range offsets {
		if off <= 0 {
			return Schedule{}, fmt.Errorf("%w: warning offset must be positive, got %v", ErrInvalidSchedule, off)
		}
		if off >= timeout {
			return Schedule{}, fmt.Errorf("%w: warning offset %v must be less than timeout %v", ErrInvalidSchedule, off, timeout)
		}
		if seen[off] {
			continue
		}
		seen[off] = true
		normalized = append(normalized, off)
	}

	sort.Slice(normalized, func(i, j int) bool { return normalized[i] > normalized[j] })

	return Schedule{Timeout: timeout, WarningOffsets: normalized}, nil
}

// DefaultSchedule returns the 10 minute schedule with warnings at 2m, 1m and 30s.
func DefaultSchedule() Schedule {
	s, _ := NewSchedule(DefaultTimeout, DefaultWarningOffsets...)
	return s
}

// validate re-checks a Schedule that may have been built as a struct literal.
func (s Schedule) validate() (Schedule, error) {
	return NewSchedule(s.Timeout, s.WarningOffsets...)
}
