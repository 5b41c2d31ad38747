// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package activity

import "sync"

// =============================================================================
// EVENT KINDS
// =============================================================================

// EventKind is a class of user interaction or host visibility change.
type EventKind int

const (
	// PointerDown is a mouse button press.
	PointerDown EventKind = iota
	// PointerMove is mouse motion.
	PointerMove
	// KeyDown is a key press.
	KeyDown
	// Scroll is wheel or scroll input.
	Scroll
	// TouchStart is the start of a touch gesture.
	TouchStart
	// Click is a completed press and release.
	Click
	// Visible fires when the host becomes visible or focused again.
	Visible
)

// InteractionEvents are the event kinds that count as user activity.
var InteractionEvents = []EventKind{PointerDown, PointerMove, KeyDown, Scroll, TouchStart, Click}

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case PointerDown:
		return "pointerdown"
	case PointerMove:
		return "pointermove"
	case KeyDown:
		return "keydown"
	case Scroll:
		return "scroll"
	case TouchStart:
		return "touchstart"
	case Click:
		return "click"
	case Visible:
		return "visible"
	default:
		return "unknown"
	}
}

// =============================================================================
// EVENT SOURCE
// =============================================================================

// EventSource lets a Tracker subscribe to interaction and visibility events.
type EventSource interface {
	// AddListener registers fn for kind and returns a function removing it.
	// The returned function must be safe to call more than once.
	AddListener(kind EventKind, fn func()) (remove func())
}

// Dispatcher is an in-process EventSource. Hosts call Dispatch from their
// input loop; listeners run synchronously on the caller's goroutine.
type Dispatcher struct {
	mu        sync.Mutex
	nextID    int
	listeners map[EventKind]map[int]func()
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[EventKind]map[int]func())}
}

// AddListener implements EventSource.
func (d *Dispatcher) AddListener(kind EventKind, fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.listeners == nil {
		d.listeners = make(map[EventKind]map[int]func())
	}
	if d.listeners[kind] == nil {
		d.listeners[kind] = make(map[int]func())
	}
	id := d.nextID
	d.nextID++
	d.listeners[kind][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.listeners[kind], id)
		})
	}
}

// Dispatch delivers one event to every listener registered for kind.
func (d *Dispatcher) Dispatch(kind EventKind) {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.listeners[kind]))
	for _, fn := range d.listeners[kind] {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Listeners returns the number of attached listeners across all kinds.
func (d *Dispatcher) Listeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, byID := range d.listeners {
		n += len(byID)
	}
	return n
}
