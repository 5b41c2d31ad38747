// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package activity

// pendingTimers holds every callback scheduled for the current cycle.
// gen is bumped on every cancelAll; a firing timer whose generation no longer
// matches belongs to a superseded cycle and must do nothing.
type pendingTimers struct {
	gen      uint64
	warnings []Timer
	terminal Timer
}

// cancelAll stops every pending timer and starts a new generation.
func (p *pendingTimers) cancelAll() {
	for i, t := range p.warnings {
		if t != nil {
			t.Stop()
			p.warnings[i] = nil
		}
	}
	p.warnings = p.warnings[:0]
	if p.terminal != nil {
		p.terminal.Stop()
		p.terminal = nil
	}
	p.gen++
}

// count returns the number of timers that have neither fired nor been cancelled.
func (p *pendingTimers) count() int {
	n := 0
	for _, t := range p.warnings {
		if t != nil {
			n++
		}
	}
	if p.terminal != nil {
		n++
	}
	return n
}
