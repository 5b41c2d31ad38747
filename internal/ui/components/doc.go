// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package components provides the UI components of the sessionguard portal.

# Components

ToastStack (toast.go) - Non-blocking notices in the bottom-right corner. It
implements session.Notifier, so the session coordinator shows its warning,
extended and expired notices through it. Notices with an action (such as
"Stay signed in") can be triggered from the keyboard.

StatusBar (statusbar.go) - Bottom bar with the signed-in account, current
route, session state and a countdown to sign-out.

Both are safe to update from timer goroutines; the portal re-renders when
ToastStack.Changed fires or on its one-second tick.
*/
package components
