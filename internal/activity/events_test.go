// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package activity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcher_DeliversByKind(t *testing.T) {
	d := NewDispatcher()
	var keys, clicks int
	d.AddListener(KeyDown, func() { keys++ })
	d.AddListener(Click, func() { clicks++ })

	d.Dispatch(KeyDown)
	d.Dispatch(KeyDown)
	d.Dispatch(Scroll)

	require.Equal(t, 2, keys)
	require.Zero(t, clicks)
	require.Equal(t, 2, d.Listeners())
}

func TestDispatcher_RemoveIsIdempotent(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	removeA := d.AddListener(KeyDown, func() { calls++ })
	d.AddListener(KeyDown, func() { calls++ })

	removeA()
	removeA()
	require.Equal(t, 1, d.Listeners())

	d.Dispatch(KeyDown)
	require.Equal(t, 1, calls)
}

func TestDispatcher_ListenerMayRemoveItself(t *testing.T) {
	d := NewDispatcher()
	var remove func()
	calls := 0
	remove = d.AddListener(Visible, func() {
		calls++
		remove()
	})

	d.Dispatch(Visible)
	d.Dispatch(Visible)
	require.Equal(t, 1, calls)
	require.Zero(t, d.Listeners())
}

func TestDispatcher_ConcurrentUse(t *testing.T) {
	d := NewDispatcher()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			remove := d.AddListener(PointerMove, func() {})
			d.Dispatch(PointerMove)
			remove()
		}()
	}
	wg.Wait()
	require.Zero(t, d.Listeners())
}

func TestEventKind_String(t *testing.T) {
	require.Equal(t, "keydown", KeyDown.String())
	require.Equal(t, "visible", Visible.String())
	require.Equal(t, "unknown", EventKind(99).String())
	require.NotContains(t, InteractionEvents, Visible)
}
