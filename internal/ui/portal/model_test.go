// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package portal

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sessionguard/internal/activity"
	"github.com/jeranaias/sessionguard/internal/activity/activitytest"
	"github.com/jeranaias/sessionguard/internal/auth"
	"github.com/jeranaias/sessionguard/internal/session"
	"github.com/jeranaias/sessionguard/internal/store"
	"github.com/jeranaias/sessionguard/internal/ui/components"
)

const testSecret = "JBSWY3DPEHPK3PXP"

type portalHarness struct {
	clock  *activitytest.Clock
	auth   *auth.Manager
	router *Router
	toasts *components.ToastStack
	coord  *session.Coordinator
	model  Model
}

func newPortal(t *testing.T) *portalHarness {
	t.Helper()
	clock := activitytest.NewClock()
	mgr := auth.NewManager(auth.WithSecret(testSecret), auth.WithAccount("coordinator"), auth.WithClock(clock.Now))
	router := NewRouter(LoginRoute, DefaultRoutes())
	toasts := components.NewToastStack()
	toasts.SetClock(clock.Now)
	events := activity.NewDispatcher()

	sched, err := activity.NewSchedule(10*time.Minute, 2*time.Minute, time.Minute, 30*time.Second)
	require.NoError(t, err)
	coord, err := session.New(session.Options{
		Schedule:  sched,
		Policy:    session.DefaultPolicy(),
		Auth:      mgr,
		Navigator: router,
		Notifier:  toasts,
		Store:     store.NewMemoryStore(),
		Events:    events,
		Clock:     clock,
	})
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	m := New(Options{
		Session: coord,
		Auth:    mgr,
		Router:  router,
		Toasts:  toasts,
		Events:  events,
	})
	return &portalHarness{clock: clock, auth: mgr, router: router, toasts: toasts, coord: coord, model: m}
}

func (h *portalHarness) send(msg tea.Msg) tea.Cmd {
	next, cmd := h.model.Update(msg)
	h.model = next.(Model)
	return cmd
}

func (h *portalHarness) typeText(s string) {
	h.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func (h *portalHarness) signIn(t *testing.T) {
	t.Helper()
	code, err := totp.GenerateCode(testSecret, h.clock.Now())
	require.NoError(t, err)
	h.typeText(code)
	h.send(tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, h.auth.Authenticated())
}

func TestPortal_SignInStartsTracking(t *testing.T) {
	h := newPortal(t)
	require.Contains(t, h.model.View(), "Sign in")
	require.Equal(t, session.Inactive, h.coord.State())

	h.signIn(t)
	require.Equal(t, "/dashboard", h.router.Path())
	require.Equal(t, session.Tracking, h.coord.State())
	require.Equal(t, 10*time.Minute, h.coord.Remaining())

	view := h.model.View()
	require.Contains(t, view, "Dashboard")
	require.Contains(t, view, "10:00")
}

func TestPortal_BadCodeStaysOnLogin(t *testing.T) {
	h := newPortal(t)
	h.typeText("000000")
	h.send(tea.KeyMsg{Type: tea.KeyEnter})

	require.False(t, h.auth.Authenticated())
	require.Equal(t, LoginRoute, h.router.Path())
	require.Contains(t, h.model.View(), "not accepted")
	require.Equal(t, session.Inactive, h.coord.State())
}

func TestPortal_InputEventsResetCountdown(t *testing.T) {
	h := newPortal(t)
	h.signIn(t)

	h.clock.Advance(3 * time.Minute)
	require.Equal(t, 7*time.Minute, h.coord.Remaining())

	h.send(tea.MouseMsg{Action: tea.MouseActionMotion})
	require.Equal(t, 10*time.Minute, h.coord.Remaining())

	h.clock.Advance(time.Minute)
	h.send(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelDown})
	require.Equal(t, 10*time.Minute, h.coord.Remaining())

	h.clock.Advance(time.Minute)
	h.send(tea.FocusMsg{})
	// Focus catches up from the shared record but is not itself activity.
	require.Equal(t, 9*time.Minute, h.coord.Remaining())
}

func TestPortal_WarningAndExtendKey(t *testing.T) {
	h := newPortal(t)
	h.signIn(t)

	h.clock.Advance(8 * time.Minute)
	require.Equal(t, session.Warning, h.coord.State())
	require.True(t, h.toasts.HasAction())
	require.Contains(t, h.model.View(), "Session expiring")

	h.send(tea.KeyMsg{Type: tea.KeyCtrlE})
	require.Equal(t, session.Tracking, h.coord.State())
	require.Equal(t, 10*time.Minute, h.coord.Remaining())
	require.False(t, h.toasts.HasAction())
	require.Contains(t, h.model.View(), "Session extended")
}

func TestPortal_NavigationKeepsTracking(t *testing.T) {
	h := newPortal(t)
	h.signIn(t)

	h.send(tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, "/clients", h.router.Path())
	h.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("5")})
	require.Equal(t, "/care-plans", h.router.Path())
	h.send(tea.KeyMsg{Type: tea.KeyShiftTab})
	require.Equal(t, "/schedule", h.router.Path())
	require.Equal(t, session.Tracking, h.coord.State())
}

func TestPortal_ManualSignOut(t *testing.T) {
	h := newPortal(t)
	h.signIn(t)

	h.send(tea.KeyMsg{Type: tea.KeyCtrlL})
	require.False(t, h.auth.Authenticated())
	require.Equal(t, LoginRoute, h.router.Path())
	require.Equal(t, session.Inactive, h.coord.State())
}

func TestPortal_TimeoutSignsOut(t *testing.T) {
	h := newPortal(t)
	h.signIn(t)

	h.clock.Advance(10 * time.Minute)
	require.Equal(t, session.Expired, h.coord.State())
	require.Contains(t, h.model.View(), "Session expired")

	h.clock.Advance(session.DefaultSignOutDelay)
	require.False(t, h.auth.Authenticated())
	require.Equal(t, LoginRoute, h.router.Path())
	require.Equal(t, session.Inactive, h.coord.State())

	// The route change wakes the model, which refocuses the code input.
	select {
	case <-h.router.Changed():
	default:
		t.Fatal("expected a route change signal")
	}
	h.send(routeChangedMsg{})
	require.True(t, h.model.input.Focused())
}

func TestPortal_WindowSize(t *testing.T) {
	h := newPortal(t)
	h.send(tea.WindowSizeMsg{Width: 100, Height: 30})
	view := h.model.View()
	require.Equal(t, 30, strings.Count(view, "\n")+1)
}

func TestMouseEvent(t *testing.T) {
	tests := []struct {
		msg  tea.MouseMsg
		want activity.EventKind
		ok   bool
	}{
		{tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonLeft}, activity.PointerDown, true},
		{tea.MouseMsg{Action: tea.MouseActionRelease}, activity.Click, true},
		{tea.MouseMsg{Action: tea.MouseActionMotion}, activity.PointerMove, true},
		{tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelUp}, activity.Scroll, true},
	}
	for _, tt := range tests {
		got, ok := mouseEvent(tt.msg)
		require.Equal(t, tt.ok, ok)
		require.Equal(t, tt.want, got)
	}
}

func TestRouter(t *testing.T) {
	r := NewRouter(LoginRoute, DefaultRoutes())
	require.Equal(t, "/dashboard", r.Step(1), "unknown route goes to the first")

	r.Redirect("/messages")
	require.Equal(t, "/dashboard", r.Step(1))
	require.Equal(t, "/care-plans", r.Step(-1))
	require.Equal(t, "Messages", r.Title("/messages"))
	require.Equal(t, "/nowhere", r.Title("/nowhere"))

	<-r.Changed()
	r.Redirect("/messages")
	select {
	case <-r.Changed():
		t.Fatal("redirecting to the same route should not signal")
	default:
	}
}
