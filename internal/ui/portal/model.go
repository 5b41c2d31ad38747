// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package portal

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/sessionguard/internal/activity"
	"github.com/jeranaias/sessionguard/internal/auth"
	"github.com/jeranaias/sessionguard/internal/session"
	"github.com/jeranaias/sessionguard/internal/ui/components"
)

// signOutTimeout bounds a sign-out the user asked for.
const signOutTimeout = 5 * time.Second

// Session is the part of the coordinator the portal drives.
type Session interface {
	Sync()
	ExtendSession() bool
	Status() session.Status
}

// Authenticator signs the user in and out.
type Authenticator interface {
	Authenticated() bool
	Account() string
	SignIn(code string) (auth.Session, error)
	SignOut(ctx context.Context) error
}

// Options wires a Model.
type Options struct {
	Session Session
	Auth    Authenticator
	Router  *Router
	Toasts  *components.ToastStack
	Events  *activity.Dispatcher
	// Landing is where a successful sign-in goes.
	Landing string
	// SignedOut is where a manual sign-out goes.
	SignedOut string
}

// =============================================================================
// MESSAGES
// =============================================================================

type tickMsg time.Time

type toastsChangedMsg struct{}

type routeChangedMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitFor(ch <-chan struct{}, msg tea.Msg) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return msg
	}
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model of the portal.
type Model struct {
	session   Session
	auth      Authenticator
	router    *Router
	toasts    *components.ToastStack
	events    *activity.Dispatcher
	landing   string
	signedOut string

	keys     KeyMap
	input    textinput.Model
	loginErr string
	width    int
	height   int
}

// New creates the portal model.
func New(opts Options) Model {
	in := textinput.New()
	in.Placeholder = "123456"
	in.CharLimit = 8
	in.Width = 10
	in.Prompt = "Code: "
	in.Focus()

	landing := opts.Landing
	if landing == "" {
		landing = "/dashboard"
	}
	signedOut := opts.SignedOut
	if signedOut == "" {
		signedOut = LoginRoute
	}

	return Model{
		session:   opts.Session,
		auth:      opts.Auth,
		router:    opts.Router,
		toasts:    opts.Toasts,
		events:    opts.Events,
		landing:   landing,
		signedOut: signedOut,
		keys:      DefaultKeyMap(),
		input:     in,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		tick(),
		waitFor(m.toasts.Changed(), toastsChangedMsg{}),
		waitFor(m.router.Changed(), routeChangedMsg{}),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.toasts.Prune()
		return m, tick()

	case toastsChangedMsg:
		return m, waitFor(m.toasts.Changed(), toastsChangedMsg{})

	case routeChangedMsg:
		if !m.auth.Authenticated() {
			m.input.Reset()
			m.input.Focus()
		}
		return m, waitFor(m.router.Changed(), routeChangedMsg{})

	case tea.FocusMsg:
		m.events.Dispatch(activity.Visible)
		return m, nil

	case tea.MouseMsg:
		if kind, ok := mouseEvent(msg); ok {
			m.events.Dispatch(kind)
		}
		return m, nil

	case tea.KeyMsg:
		m.events.Dispatch(activity.KeyDown)
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}

	if !m.auth.Authenticated() {
		if key.Matches(msg, m.keys.Submit) {
			m.signIn()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Extend):
		if !m.toasts.TriggerAction() {
			m.session.ExtendSession()
		}
	case key.Matches(msg, m.keys.SignOut):
		m.signOut()
	case key.Matches(msg, m.keys.Next):
		m.navigate(m.router.Step(1))
	case key.Matches(msg, m.keys.Prev):
		m.navigate(m.router.Step(-1))
	case key.Matches(msg, m.keys.Jump):
		n, err := strconv.Atoi(msg.String())
		routes := m.router.Routes()
		if err == nil && n >= 1 && n <= len(routes) {
			m.navigate(routes[n-1].Path)
		}
	}
	return m, nil
}

func (m *Model) signIn() {
	_, err := m.auth.SignIn(m.input.Value())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrNotEnrolled):
			m.loginErr = "No authenticator enrolled. Run: sessionguard enroll"
		default:
			m.loginErr = "That code was not accepted."
		}
		m.input.Reset()
		return
	}
	m.loginErr = ""
	m.input.Reset()
	m.input.Blur()
	m.navigate(m.landing)
}

func (m *Model) signOut() {
	ctx, cancel := context.WithTimeout(context.Background(), signOutTimeout)
	defer cancel()
	if err := m.auth.SignOut(ctx); err != nil {
		log.Printf("PORTAL_SIGNOUT_FAILED: %v", err)
	}
	m.navigate(m.signedOut)
	m.input.Focus()
}

func (m *Model) navigate(path string) {
	m.router.Redirect(path)
	m.session.Sync()
}

// mouseEvent maps a Bubble Tea mouse message to an interaction event.
func mouseEvent(msg tea.MouseMsg) (activity.EventKind, bool) {
	switch msg.Button {
	case tea.MouseButtonWheelUp, tea.MouseButtonWheelDown, tea.MouseButtonWheelLeft, tea.MouseButtonWheelRight:
		return activity.Scroll, true
	}
	switch msg.Action {
	case tea.MouseActionPress:
		return activity.PointerDown, true
	case tea.MouseActionRelease:
		return activity.Click, true
	case tea.MouseActionMotion:
		return activity.PointerMove, true
	}
	return 0, false
}
