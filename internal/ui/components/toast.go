// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/sessionguard/internal/session"
	"github.com/jeranaias/sessionguard/internal/ui/styles"
)

// DefaultMaxToasts is the number of notices kept on screen.
const DefaultMaxToasts = 5

// =============================================================================
// TOAST
// =============================================================================

// Toast is a notice on screen.
type Toast struct {
	ID        session.NoticeID
	Notice    session.Notice
	CreatedAt time.Time
}

// IsExpired reports whether the toast's duration has elapsed. Toasts with
// no duration stay until dismissed.
func (t Toast) IsExpired(now time.Time) bool {
	return t.Notice.Duration > 0 && now.Sub(t.CreatedAt) >= t.Notice.Duration
}

// TimeRemaining returns how long until auto-dismiss.
func (t Toast) TimeRemaining(now time.Time) time.Duration {
	if t.Notice.Duration <= 0 {
		return 0
	}
	remaining := t.Notice.Duration - now.Sub(t.CreatedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// =============================================================================
// TOAST STACK
// =============================================================================

// ToastStack holds the visible notices. It is safe for concurrent use.
type ToastStack struct {
	mu        sync.Mutex
	toasts    []Toast // oldest first
	nextID    session.NoticeID
	maxToasts int
	now       func() time.Time
	changed   chan struct{}
}

// NewToastStack creates an empty stack.
func NewToastStack() *ToastStack {
	return &ToastStack{
		nextID:    1,
		maxToasts: DefaultMaxToasts,
		now:       time.Now,
		changed:   make(chan struct{}, 1),
	}
}

// SetClock overrides the time source.
func (s *ToastStack) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Changed receives a value after the stack changes. Sends never block, so
// several changes may collapse into one signal.
func (s *ToastStack) Changed() <-chan struct{} {
	return s.changed
}

func (s *ToastStack) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Show adds a notice and returns its ID.
func (s *ToastStack) Show(n session.Notice) session.NoticeID {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.toasts = append(s.toasts, Toast{ID: id, Notice: n, CreatedAt: s.now()})
	if len(s.toasts) > s.maxToasts {
		s.toasts = s.toasts[len(s.toasts)-s.maxToasts:]
	}
	s.mu.Unlock()

	s.signal()
	return id
}

// Dismiss removes a notice. Unknown IDs are ignored.
func (s *ToastStack) Dismiss(id session.NoticeID) {
	s.mu.Lock()
	removed := false
	for i, t := range s.toasts {
		if t.ID == id {
			s.toasts = append(s.toasts[:i], s.toasts[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()

	if removed {
		s.signal()
	}
}

// Prune drops expired notices and returns the remaining ones, oldest first.
func (s *ToastStack) Prune() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	active := s.toasts[:0]
	for _, t := range s.toasts {
		if !t.IsExpired(now) {
			active = append(active, t)
		}
	}
	s.toasts = active

	out := make([]Toast, len(s.toasts))
	copy(out, s.toasts)
	return out
}

// Len returns the number of notices held, including expired ones not yet pruned.
func (s *ToastStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.toasts)
}

// HasAction reports whether any unexpired notice offers an action.
func (s *ToastStack) HasAction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, t := range s.toasts {
		if t.Notice.Action != nil && !t.IsExpired(now) {
			return true
		}
	}
	return false
}

// TriggerAction runs the action of the newest unexpired notice that has one.
// The action runs without the stack's lock held, so it may show or dismiss
// notices. Returns false when no notice offers an action.
func (s *ToastStack) TriggerAction() bool {
	s.mu.Lock()
	now := s.now()
	var run func()
	for i := len(s.toasts) - 1; i >= 0; i-- {
		t := s.toasts[i]
		if t.Notice.Action != nil && t.Notice.Action.Run != nil && !t.IsExpired(now) {
			run = t.Notice.Action.Run
			break
		}
	}
	s.mu.Unlock()

	if run == nil {
		return false
	}
	run()
	return true
}

// Clear removes every notice.
func (s *ToastStack) Clear() {
	s.mu.Lock()
	s.toasts = nil
	s.mu.Unlock()
	s.signal()
}

// =============================================================================
// RENDERING
// =============================================================================

// View renders the stack in the bottom-right corner of a width x height area.
func (s *ToastStack) View(width, height int) string {
	toasts := s.Prune()
	if len(toasts) == 0 {
		return ""
	}

	s.mu.Lock()
	now := s.now()
	s.mu.Unlock()

	rendered := make([]string, 0, len(toasts))
	for _, t := range toasts {
		rendered = append(rendered, RenderToast(t, width, now))
	}

	stack := lipgloss.JoinVertical(lipgloss.Right, rendered...)
	positioned := lipgloss.NewStyle().
		MarginRight(2).
		MarginBottom(1).
		Render(stack)

	if width > 0 && height > 0 {
		return lipgloss.Place(width, height, lipgloss.Right, lipgloss.Bottom, positioned)
	}
	return positioned
}

// RenderToast renders a single notice.
func RenderToast(t Toast, width int, now time.Time) string {
	maxWidth := 60
	if width > 0 && width-8 < maxWidth {
		maxWidth = width - 8
	}
	if maxWidth < 30 {
		maxWidth = 30
	}

	color, icon := kindStyle(t.Notice.Kind)

	titleStyle := lipgloss.NewStyle().Foreground(color).Bold(true)
	messageStyle := lipgloss.NewStyle().Foreground(styles.TextPrimary).Width(maxWidth - 6)

	title := runewidth.Truncate(icon+" "+t.Notice.Title, maxWidth-6, "...")
	lines := []string{titleStyle.Render(title)}
	if t.Notice.Message != "" {
		lines = append(lines, messageStyle.Render(t.Notice.Message))
	}

	var hints []string
	if t.Notice.Action != nil {
		hints = append(hints, "[ctrl+e] "+t.Notice.Action.Label)
	}
	if t.Notice.Kind != session.NoticeWarning {
		if secs := int(t.TimeRemaining(now).Seconds()); secs > 0 {
			hints = append(hints, FormatCountdown(time.Duration(secs)*time.Second))
		}
	}
	if len(hints) > 0 {
		lines = append(lines, styles.HintStyle.Render(strings.Join(hints, "  ")))
	}

	return lipgloss.NewStyle().
		Background(styles.SurfaceDim).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 2).
		MaxWidth(maxWidth).
		Render(strings.Join(lines, "\n"))
}

func kindStyle(kind session.NoticeKind) (lipgloss.AdaptiveColor, string) {
	switch kind {
	case session.NoticeError:
		return styles.Rose, styles.StatusIndicators.Error
	case session.NoticeWarning:
		return styles.Amber, styles.StatusIndicators.Warning
	case session.NoticeSuccess:
		return styles.Emerald, styles.StatusIndicators.Success
	default:
		return styles.Cyan, styles.StatusIndicators.Info
	}
}
