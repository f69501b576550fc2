// Package router wires the admin API onto chi
package router

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/querycache/internal/web/middleware"
)

// Router manages HTTP routing using chi framework
type Router struct {
	mux chi.Router

	// For introspection and debugging
	registeredRoutes []*RouteInfo
}

// RouteInfo provides metadata about a route for introspection
type RouteInfo struct {
	Method  string
	Pattern string
}

// NewRouter creates a new Router instance
func NewRouter() *Router {
	return &Router{
		mux:              chi.NewRouter(),
		registeredRoutes: make([]*RouteInfo, 0),
	}
}

// ServeHTTP implements http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Use adds middleware; it must be called before any route is registered
func (r *Router) Use(middlewares ...middleware.Middleware) {
	for _, m := range middlewares {
		r.mux.Use(m)
	}
}

// Get registers a GET route
func (r *Router) Get(pattern string, handler http.Handler) {
	r.mux.Method(http.MethodGet, pattern, handler)
	r.record(http.MethodGet, pattern)
}

// Delete registers a DELETE route
func (r *Router) Delete(pattern string, handler http.Handler) {
	r.mux.Method(http.MethodDelete, pattern, handler)
	r.record(http.MethodDelete, pattern)
}

func (r *Router) record(method, pattern string) {
	r.registeredRoutes = append(r.registeredRoutes, &RouteInfo{Method: method, Pattern: pattern})
}

// GetRoutes returns all registered routes sorted by pattern
func (r *Router) GetRoutes() []*RouteInfo {
	routes := append([]*RouteInfo(nil), r.registeredRoutes...)
	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].Pattern < routes[j].Pattern
	})
	return routes
}

// NotFound sets the handler for 404 Not Found
func (r *Router) NotFound(handler http.HandlerFunc) {
	r.mux.NotFound(handler)
}

// MethodNotAllowed sets the handler for 405 Method Not Allowed
func (r *Router) MethodNotAllowed(handler http.HandlerFunc) {
	r.mux.MethodNotAllowed(handler)
}
