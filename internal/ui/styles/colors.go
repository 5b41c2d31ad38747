// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// ACCENT COLORS
// =============================================================================

// Cyan - Brand color, info notices, active route
var Cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

// Emerald - Success notices, tracking state
var Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

// Amber - Warning notices, warning state
var Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

// Rose - Error notices, expired state
var Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

// =============================================================================
// SURFACE COLORS
// =============================================================================

// Surface - Main background
var Surface = lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#1E1E2E"}

// SurfaceDim - Headers, status bar, notice background
var SurfaceDim = lipgloss.AdaptiveColor{Light: "#F5F5F5", Dark: "#181825"}

// Overlay - Borders and separators
var Overlay = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#313244"}

// =============================================================================
// TEXT COLORS
// =============================================================================

// TextPrimary - Main body text
var TextPrimary = lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#CDD6F4"}

// TextSecondary - Labels
var TextSecondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A6ADC8"}

// TextMuted - Hints
var TextMuted = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}

// =============================================================================
// STATUS INDICATORS
// =============================================================================

// StatusIndicatorSet pairs colors with text shapes for colorblind users.
type StatusIndicatorSet struct {
	Success string
	Error   string
	Warning string
	Info    string
	Active  string
	Idle    string
}

// StatusIndicators are ASCII-only for maximum terminal compatibility.
var StatusIndicators = StatusIndicatorSet{
	Success: "[OK]",
	Error:   "[X]",
	Warning: "[!]",
	Info:    "[i]",
	Active:  "[*]",
	Idle:    "[ ]",
}

// =============================================================================
// SHARED STYLES
// =============================================================================

// TitleStyle renders page titles.
var TitleStyle = lipgloss.NewStyle().
	Foreground(Cyan).
	Bold(true)

// HintStyle renders key hints.
var HintStyle = lipgloss.NewStyle().
	Foreground(TextMuted).
	Italic(true)

// NavItemStyle renders an inactive navigation entry.
var NavItemStyle = lipgloss.NewStyle().
	Foreground(TextSecondary).
	Padding(0, 1)

// NavActiveStyle renders the current navigation entry.
var NavActiveStyle = lipgloss.NewStyle().
	Foreground(Cyan).
	Bold(true).
	Underline(true).
	Padding(0, 1)

// StatusBarStyle is the bottom bar container.
var StatusBarStyle = lipgloss.NewStyle().
	Background(SurfaceDim).
	Foreground(TextSecondary).
	Padding(0, 1)

// ErrorTextStyle renders inline errors.
var ErrorTextStyle = lipgloss.NewStyle().
	Foreground(Rose)
