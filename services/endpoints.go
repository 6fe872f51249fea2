package services

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/lborres/gatehouse/core"
)

// ProviderParam is the path segment that captures a provider id. Adapters
// translate it to their router's syntax.
const ProviderParam = ":provider"

// Route is a framework-agnostic route. Every route is served by
// Handler.Handle; adapters only need Method and Path.
type Route struct {
	Method string
	// Path is relative to the base path.
	Path        string
	Action      core.Action
	Description string
}

func (r Route) key() string {
	return r.Method + ":" + r.Path
}

// BaseRoutes returns every route of the engine.
//
// GET /signin/:provider is routed so that the engine, not the router,
// answers it with UnknownAction.
func BaseRoutes() []Route {
	return []Route{
		{http.MethodGet, "/providers", core.ActionProviders, "List the configured providers"},
		{http.MethodGet, "/session", core.ActionSession, "Get the current session"},
		{http.MethodPost, "/session", core.ActionSession, "Update the current session"},
		{http.MethodGet, "/csrf", core.ActionCSRF, "Get a CSRF token"},
		{http.MethodGet, "/signin", core.ActionSignIn, "Render the sign-in page"},
		{http.MethodPost, "/signin", core.ActionSignIn, "Redirect to the sign-in page"},
		{http.MethodGet, "/signin/" + ProviderParam, core.ActionSignIn, "Rejected; sign-in must be posted"},
		{http.MethodPost, "/signin/" + ProviderParam, core.ActionSignIn, "Start a sign-in with a provider"},
		{http.MethodGet, "/signout", core.ActionSignOut, "Render the sign-out page"},
		{http.MethodPost, "/signout", core.ActionSignOut, "Sign out"},
		{http.MethodGet, "/callback/" + ProviderParam, core.ActionCallback, "Complete a provider sign-in"},
		{http.MethodPost, "/callback/" + ProviderParam, core.ActionCallback, "Complete a form post or credentials sign-in"},
		{http.MethodGet, "/verify-request", core.ActionVerifyRequest, "Render the check-your-email page"},
		{http.MethodGet, "/error", core.ActionError, "Render the error page"},
		{http.MethodGet, "/webauthn-options/" + ProviderParam, core.ActionWebAuthnOptions, "Get WebAuthn ceremony options"},
	}
}

// RouteRegistry holds the routes an adapter mounts and rejects duplicate
// METHOD:PATH pairs.
type RouteRegistry struct {
	routes map[string]Route
}

// NewRouteRegistry creates a registry with the base routes registered.
func NewRouteRegistry() *RouteRegistry {
	reg := &RouteRegistry{routes: make(map[string]Route)}
	for _, r := range BaseRoutes() {
		_ = reg.register(r)
	}
	return reg
}

func (r *RouteRegistry) register(rt Route) error {
	if _, exists := r.routes[rt.key()]; exists {
		return fmt.Errorf("route conflict: %s %s already registered", rt.Method, rt.Path)
	}
	r.routes[rt.key()] = rt
	return nil
}

// Register adds extra routes served by the same handler, for example
// aliases under a second path. Nothing is registered if any route
// conflicts with an existing one or with another in the batch.
func (r *RouteRegistry) Register(routes []Route) error {
	seen := make(map[string]bool, len(routes))
	for _, rt := range routes {
		if _, exists := r.routes[rt.key()]; exists {
			return fmt.Errorf("route conflict: %s %s already registered", rt.Method, rt.Path)
		}
		if seen[rt.key()] {
			return fmt.Errorf("duplicate route: %s %s", rt.Method, rt.Path)
		}
		seen[rt.key()] = true
	}

	for _, rt := range routes {
		r.routes[rt.key()] = rt
	}
	return nil
}

// Routes returns the registered routes ordered by path, then method.
func (r *RouteRegistry) Routes() []Route {
	out := make([]Route, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}
