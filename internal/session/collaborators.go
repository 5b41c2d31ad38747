// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"time"
)

// Authenticator is the signed-in session the coordinator guards.
type Authenticator interface {
	// Authenticated reports whether a session currently exists.
	Authenticated() bool
	// SignOut ends the session.
	SignOut(ctx context.Context) error
}

// Navigator exposes the current route and a way to leave it.
type Navigator interface {
	Path() string
	Redirect(path string)
}

// NoticeKind selects how a notice is presented.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeSuccess
	NoticeWarning
	NoticeError
)

// String returns the kind name.
func (k NoticeKind) String() string {
	switch k {
	case NoticeInfo:
		return "info"
	case NoticeSuccess:
		return "success"
	case NoticeWarning:
		return "warning"
	case NoticeError:
		return "error"
	default:
		return "unknown"
	}
}

// NoticeID identifies a shown notice so it can be dismissed.
type NoticeID uint64

// Action is a button offered on a notice.
type Action struct {
	Label string
	Run   func()
}

// Notice is a message shown to the user.
type Notice struct {
	Kind    NoticeKind
	Title   string
	Message string
	// Action is nil for informational notices.
	Action *Action
	// Duration is how long the notice stays up. Zero means until dismissed.
	Duration time.Duration
}

// Notifier shows and dismisses notices. Implementations must not call back
// into the Coordinator from Show or Dismiss.
type Notifier interface {
	Show(n Notice) NoticeID
	Dismiss(id NoticeID)
}
