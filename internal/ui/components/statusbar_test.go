// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/sessionguard/internal/session"
)

func TestFormatCountdown(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{-time.Second, "0:00"},
		{500 * time.Millisecond, "0:01"},
		{30 * time.Second, "0:30"},
		{2 * time.Minute, "2:00"},
		{119*time.Second + 100*time.Millisecond, "2:00"},
		{10 * time.Minute, "10:00"},
	}
	for _, tt := range tests {
		if got := FormatCountdown(tt.in); got != tt.want {
			t.Errorf("FormatCountdown(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatusBar_View(t *testing.T) {
	bar := StatusBar{
		Account: "coordinator",
		Route:   "/clients",
		Status:  session.Status{State: session.Warning, Remaining: 90 * time.Second},
		Hints:   []string{"ctrl+e extend"},
	}
	out := bar.View(100)
	for _, want := range []string{"coordinator", "/clients", "Expiring", "1:30", "ctrl+e extend"} {
		if !strings.Contains(out, want) {
			t.Errorf("status bar missing %q: %s", want, out)
		}
	}
}

func TestStatusBar_InactiveHidesCountdown(t *testing.T) {
	out := StatusBar{Route: "/login"}.View(80)
	if !strings.Contains(out, "Signed out") {
		t.Errorf("expected signed out label: %s", out)
	}
	if strings.Contains(out, "0:00") {
		t.Errorf("inactive bar should not show a countdown: %s", out)
	}
}

func TestStatusBar_NarrowDropsHints(t *testing.T) {
	bar := StatusBar{
		Account: "coordinator",
		Route:   "/care-plans",
		Status:  session.Status{State: session.Tracking, Remaining: time.Minute},
		Hints:   []string{"ctrl+e extend", "ctrl+l sign out"},
	}
	out := bar.View(40)
	if strings.Contains(out, "ctrl+l") {
		t.Errorf("narrow bar should drop hints: %s", out)
	}
	if !strings.Contains(out, "1:00") {
		t.Errorf("narrow bar must keep the countdown: %s", out)
	}
}
