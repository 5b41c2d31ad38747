// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"path"
	"strings"
)

// Policy decides which routes are tracked.
type Policy struct {
	// ExcludedPrefixes are sign-in and bootstrap routes. A prefix matches
	// itself and anything below it; "/" matches only the root.
	ExcludedPrefixes []string
	// IncludedRoutes are always tracked, even below an excluded prefix.
	IncludedRoutes []string
	// SignedOutRoute is where the user lands after an expiry.
	SignedOutRoute string
}

// DefaultPolicy excludes the root and the sign-in flow and includes the
// dashboard landing route.
func DefaultPolicy() Policy {
	return Policy{
		ExcludedPrefixes: []string{"/", "/login", "/auth"},
		IncludedRoutes:   []string{"/dashboard"},
		SignedOutRoute:   "/login",
	}
}

// Trackable reports whether route should run the inactivity timer.
func (p Policy) Trackable(route string) bool {
	route = cleanRoute(route)
	for _, inc := range p.IncludedRoutes {
		if routeMatches(inc, route) {
			return true
		}
	}
	for _, ex := range p.ExcludedPrefixes {
		if routeMatches(ex, route) {
			return false
		}
	}
	return true
}

// ShouldTrack reports whether a tracker should exist for this state.
func (p Policy) ShouldTrack(authenticated bool, route string) bool {
	return authenticated && p.Trackable(route)
}

func cleanRoute(route string) string {
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	if route == "" {
		return "/"
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return path.Clean(route)
}

func routeMatches(prefix, route string) bool {
	prefix = cleanRoute(prefix)
	if prefix == "/" {
		return route == "/"
	}
	return route == prefix || strings.HasPrefix(route, prefix+"/")
}
