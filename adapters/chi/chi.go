// Package chi mounts the engine on a chi router, and through it on any
// net/http server.
package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/services"
)

type contextKey struct{}

type Adapter struct {
	router   chi.Router
	handler  core.Handler
	basePath string
}

var _ core.HTTPAdapter = (*Adapter)(nil)

func New(router chi.Router) *Adapter {
	return &Adapter{router: router}
}

// chiPath rewrites the engine's :provider segment to chi's {provider}.
func chiPath(path string) string {
	return strings.ReplaceAll(path, services.ProviderParam, "{provider}")
}

func (a *Adapter) RegisterRoutes(h core.Handler, basePath string) error {
	a.handler, a.basePath = h, strings.TrimSuffix(basePath, "/")

	for _, rt := range services.NewRouteRegistry().Routes() {
		a.router.Method(rt.Method, a.basePath+chiPath(rt.Path), handle(h))
	}
	return nil
}

func handle(h core.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := core.FromHTTP(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Bad request."})
			return
		}
		h.Handle(r.Context(), req).Write(w)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RequireSession is middleware that answers signed-out requests with 401.
// Downstream handlers read the session with SessionFromContext.
func (a *Adapter) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.handler == nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "auth routes are not registered"})
			return
		}

		req, err := core.NewRequest(r.Method, core.Scheme(r), r.Host, r.URL.RequestURI(), r.Header, nil)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
			return
		}

		session, res, err := core.GetSession(r.Context(), a.handler, a.basePath, req)
		for _, v := range res.SetCookieHeaders() {
			w.Header().Add("Set-Cookie", v)
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session lookup failed"})
			return
		}
		if session == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, session)))
	})
}

// SessionFromContext returns the session stored by RequireSession.
func SessionFromContext(ctx context.Context) (map[string]any, bool) {
	session, ok := ctx.Value(contextKey{}).(map[string]any)
	return session, ok
}
