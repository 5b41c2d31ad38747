// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package portal

import "sync"

// Route is a page of the portal.
type Route struct {
	Path  string
	Title string
}

// LoginRoute is the sign-in page.
const LoginRoute = "/login"

// DefaultRoutes are the signed-in pages, in navigation order.
func DefaultRoutes() []Route {
	return []Route{
		{Path: "/dashboard", Title: "Dashboard"},
		{Path: "/clients", Title: "Clients"},
		{Path: "/carers", Title: "Carers"},
		{Path: "/schedule", Title: "Schedule"},
		{Path: "/care-plans", Title: "Care plans"},
		{Path: "/messages", Title: "Messages"},
	}
}

// Router holds the current route. It implements session.Navigator and is
// safe for concurrent use.
type Router struct {
	mu      sync.Mutex
	path    string
	routes  []Route
	changed chan struct{}
}

// NewRouter starts at initial.
func NewRouter(initial string, routes []Route) *Router {
	return &Router{
		path:    initial,
		routes:  routes,
		changed: make(chan struct{}, 1),
	}
}

// Path returns the current route.
func (r *Router) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Redirect moves to path.
func (r *Router) Redirect(path string) {
	r.mu.Lock()
	same := r.path == path
	r.path = path
	r.mu.Unlock()

	if !same {
		select {
		case r.changed <- struct{}{}:
		default:
		}
	}
}

// Changed receives a value after the route changes.
func (r *Router) Changed() <-chan struct{} {
	return r.changed
}

// Routes returns the navigable routes.
func (r *Router) Routes() []Route {
	return r.routes
}

// Title returns the title of path, or path itself when unknown.
func (r *Router) Title(path string) string {
	for _, rt := range r.routes {
		if rt.Path == path {
			return rt.Title
		}
	}
	return path
}

// Step returns the route delta positions away from the current one,
// wrapping around. From an unknown route it returns the first route.
func (r *Router) Step(delta int) string {
	if len(r.routes) == 0 {
		return r.Path()
	}
	cur := r.Path()
	idx := -1
	for i, rt := range r.routes {
		if rt.Path == cur {
			idx = i
			break
		}
	}
	if idx < 0 {
		return r.routes[0].Path
	}
	n := len(r.routes)
	return r.routes[((idx+delta)%n+n)%n].Path
}
