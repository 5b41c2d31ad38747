// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth provides TOTP sign-in for the sessionguard portal.
//
// A Manager holds at most one signed-in session. The session coordinator
// reads Authenticated to decide whether to track inactivity, and calls
// SignOut when the session times out.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/jeranaias/sessionguard/internal/audit"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotEnrolled is returned when no TOTP secret is configured.
	ErrNotEnrolled = errors.New("auth: no TOTP secret enrolled")

	// ErrInvalidCode is returned when the one-time code does not verify.
	ErrInvalidCode = errors.New("auth: invalid one-time code")
)

// =============================================================================
// SESSION
// =============================================================================

// Session is an authenticated portal session.
type Session struct {
	ID              string    `json:"id"`
	Account         string    `json:"account"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager verifies one-time codes and tracks the current session.
type Manager struct {
	mu         sync.RWMutex
	issuer     string
	account    string
	secret     string
	current    *Session
	audit      *audit.Logger
	instanceID string
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithIssuer sets the issuer shown in authenticator apps.
func WithIssuer(issuer string) Option {
	return func(m *Manager) { m.issuer = issuer }
}

// WithAccount sets the account name.
func WithAccount(account string) Option {
	return func(m *Manager) { m.account = account }
}

// WithSecret sets the base32 TOTP secret.
func WithSecret(secret string) Option {
	return func(m *Manager) { m.secret = normalizeSecret(secret) }
}

// WithAuditLogger records sign-in attempts.
func WithAuditLogger(l *audit.Logger, instanceID string) Option {
	return func(m *Manager) {
		m.audit = l
		m.instanceID = instanceID
	}
}

// WithClock overrides the time source used for code validation.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		issuer:  "sessionguard",
		account: "operator",
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enroll generates a new TOTP key for issuer and account. The caller is
// responsible for persisting key.Secret().
func Enroll(issuer, account string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key, nil
}

// Enrolled reports whether a secret is configured.
func (m *Manager) Enrolled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.secret != ""
}

// SetSecret replaces the TOTP secret, e.g. after enrolment.
func (m *Manager) SetSecret(secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = normalizeSecret(secret)
}

// SignIn verifies code and starts a new session.
func (m *Manager) SignIn(code string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.secret == "" {
		m.logFailure(ErrNotEnrolled)
		return Session{}, ErrNotEnrolled
	}

	valid, err := totp.ValidateCustom(strings.TrimSpace(code), m.secret, m.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		m.logFailure(ErrInvalidCode)
		return Session{}, ErrInvalidCode
	}

	s := &Session{
		ID:              uuid.New().String(),
		Account:         m.account,
		AuthenticatedAt: m.now(),
	}
	m.current = s

	if err := m.audit.LogEvent(m.instanceID, audit.EventSignIn, map[string]string{
		"account":    m.account,
		"session_id": s.ID,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "AUDIT ERROR: failed to log sign-in: %v\n", err)
	}
	return *s, nil
}

// SignOut ends the current session. Signing out with no session is not an error.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	return nil
}

// Authenticated reports whether a session is active.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

// Current returns the active session.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Account returns the configured account name.
func (m *Manager) Account() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account
}

func (m *Manager) logFailure(err error) {
	if logErr := m.audit.LogFailure(m.instanceID, audit.EventSignInFailed, err, map[string]string{
		"account": m.account,
	}); logErr != nil {
		fmt.Fprintf(os.Stderr, "AUDIT ERROR: failed to log sign-in failure: %v\n", logErr)
	}
}

func normalizeSecret(secret string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
}
