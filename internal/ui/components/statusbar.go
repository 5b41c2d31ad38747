// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/sessionguard/internal/session"
	"github.com/jeranaias/sessionguard/internal/ui/styles"
)

// =============================================================================
// STATUS BAR
// =============================================================================

// StatusBar is the bottom bar of the portal.
type StatusBar struct {
	Account string
	Route   string
	Status  session.Status
	Hints   []string
}

// View renders the bar at the given width.
func (b StatusBar) View(width int) string {
	left := []string{}
	if b.Account != "" {
		left = append(left, b.Account)
	}
	if b.Route != "" {
		left = append(left, b.Route)
	}

	color, label := stateStyle(b.Status.State)
	state := lipgloss.NewStyle().Foreground(color).Bold(true).Render(label)
	if b.Status.State.Active() {
		state += " " + FormatCountdown(b.Status.Remaining)
	}
	if b.Status.Degraded {
		state += " " + lipgloss.NewStyle().Foreground(styles.Amber).Render("(local only)")
	}

	right := strings.Join(b.Hints, "  ")

	leftText := strings.Join(left, " | ")
	gap := width - lipgloss.Width(leftText) - lipgloss.Width(state) - lipgloss.Width(right) - 6
	if gap < 1 {
		// Drop hints first, then truncate the route.
		right = ""
		gap = width - lipgloss.Width(leftText) - lipgloss.Width(state) - 4
		if gap < 1 {
			avail := width - lipgloss.Width(state) - 5
			if avail < 0 {
				avail = 0
			}
			leftText = runewidth.Truncate(leftText, avail, "...")
			gap = 1
		}
	}

	content := leftText + strings.Repeat(" ", gap) + state
	if right != "" {
		content += "  " + styles.HintStyle.Render(right)
	}

	style := styles.StatusBarStyle
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(content)
}

func stateStyle(s session.State) (lipgloss.AdaptiveColor, string) {
	switch s {
	case session.Tracking:
		return styles.Emerald, styles.StatusIndicators.Active + " Active"
	case session.Warning:
		return styles.Amber, styles.StatusIndicators.Warning + " Expiring"
	case session.Expired:
		return styles.Rose, styles.StatusIndicators.Error + " Expired"
	default:
		return styles.TextMuted, styles.StatusIndicators.Idle + " Signed out"
	}
}

// FormatCountdown formats a duration as M:SS, rounding partial seconds up so
// the display reaches 0:00 only at the deadline.
func FormatCountdown(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
