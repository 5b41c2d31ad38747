// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package portal is the terminal host for sessionguard: a small
// care-management shell with a sign-in route and a handful of signed-in
// routes, guarded by a session.Coordinator.
//
// Keyboard, mouse and focus messages from Bubble Tea are forwarded to an
// activity.Dispatcher as interaction events. The Router is the
// coordinator's Navigator and the components.ToastStack its Notifier.
// Both signal the running program through channels, so the coordinator's
// timer goroutines never block on the Bubble Tea event loop.
package portal
