package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/pkg/cookie"
)

// Handler runs one action per request. It implements core.Handler.
type Handler struct {
	cfg      *core.Config
	logger   *zap.Logger
	sessions *SessionManager
	pages    *pageRenderer
}

// Ensure Handler implements core.Handler
var _ core.Handler = (*Handler)(nil)

// NewHandler expects cfg to have been through ApplyDefaults.
func NewHandler(cfg *core.Config) *Handler {
	return &Handler{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: NewSessionManager(cfg),
		pages:    newPageRenderer(),
	}
}

// Handle never fails: every error becomes a redirect or a status code.
func (h *Handler) Handle(ctx context.Context, req *core.Request) *core.Response {
	action, providerID, err := core.ParseAction(req.URL.Path, h.cfg.BasePath)
	if err != nil {
		h.logger.Debug("rejecting request", zap.String("path", req.URL.Path), zap.Error(err))
		res := core.NewResponse()
		_ = res.JSON(http.StatusBadRequest, map[string]string{"message": "Bad request."})
		return res
	}

	opts, cookies, err := h.initOptions(ctx, req, action, providerID)
	var res *core.Response
	if err == nil {
		res, err = h.dispatch(ctx, req, opts, providerID)
	}
	if err != nil {
		res = h.errorResponse(req, opts, res, err)
	}
	res.Cookies = append(cookies, res.Cookies...)

	if res.Redirect != "" && req.Headers.Get("X-Auth-Return-Redirect") != "" {
		target := res.Redirect
		res.Redirect = ""
		_ = res.JSON(http.StatusOK, map[string]string{"url": target})
	}
	return res
}

func (h *Handler) dispatch(ctx context.Context, req *core.Request, opts *core.Options, providerID string) (*core.Response, error) {
	store := cookie.NewSessionStore(opts.Cookies.SessionToken, req.Cookies)

	if !req.IsPost() {
		switch opts.Action {
		case core.ActionCallback:
			return h.callback(ctx, req, opts, store)
		case core.ActionCSRF:
			return h.csrf(opts), nil
		case core.ActionError:
			return h.pages.errorPage(opts, req.Query().Get("error")), nil
		case core.ActionProviders:
			return h.providers(opts)
		case core.ActionSession:
			return h.sessions.Get(ctx, opts, store, false, nil), nil
		case core.ActionSignIn:
			if providerID != "" {
				break
			}
			return h.pages.signinPage(opts, req.Query().Get("error"), req.Query().Get("code"))
		case core.ActionSignOut:
			return h.pages.signoutPage(opts)
		case core.ActionVerifyRequest:
			return h.pages.verifyRequestPage(opts, req.URL.RawQuery)
		case core.ActionWebAuthnOptions:
			return h.webAuthnOptions(ctx, req, opts, store)
		}
	} else {
		switch opts.Action {
		case core.ActionCallback:
			if _, ok := opts.Provider.(*core.CredentialsProvider); ok {
				if err := validateCSRF(opts); err != nil {
					return nil, err
				}
			}
			return h.callback(ctx, req, opts, store)
		case core.ActionSession:
			if err := validateCSRF(opts); err != nil {
				return nil, err
			}
			data, err := sessionUpdateData(req)
			if err != nil {
				return nil, err
			}
			return h.sessions.Get(ctx, opts, store, true, data), nil
		case core.ActionSignIn:
			if err := validateCSRF(opts); err != nil {
				return nil, err
			}
			return h.signIn(ctx, req, opts)
		case core.ActionSignOut:
			if err := validateCSRF(opts); err != nil {
				return nil, err
			}
			return h.signOut(ctx, opts, store), nil
		}
	}
	return nil, core.NewAuthError(core.TypeUnknownAction, "cannot handle action: "+string(opts.Action))
}

var htmlPages = map[core.Action]bool{
	core.ActionSignIn:        true,
	core.ActionSignOut:       true,
	core.ActionError:         true,
	core.ActionVerifyRequest: true,
}

// ConfigurationError answers a request that arrived while the
// configuration is invalid. GET requests for the built-in pages get the
// error page; everything else gets a generic 500.
func (h *Handler) ConfigurationError(req *core.Request) *core.Response {
	action, _, _ := core.ParseAction(req.URL.Path, h.cfg.BasePath)
	if req.IsPost() || !htmlPages[action] {
		res := core.NewResponse()
		_ = res.JSON(http.StatusInternalServerError, map[string]string{
			"message": "There was a problem with the server configuration. Check the server logs for more information.",
		})
		return res
	}

	opts := &core.Options{
		Config: h.cfg,
		Action: action,
		URL:    &url.URL{Scheme: req.URL.Scheme, Host: req.URL.Host, Path: h.cfg.BasePath},
	}
	custom := h.cfg.Pages.Error
	onErrorPage := custom != "" && strings.HasPrefix(req.Query().Get("callbackUrl"), custom)
	if custom == "" || onErrorPage {
		if onErrorPage {
			h.logger.Error("the custom error page itself failed the configuration check", zap.String("page", custom))
		}
		// Built-in page; never redirect back to the failing one.
		cfg := *h.cfg
		cfg.Pages.Error = ""
		opts.Config = &cfg
		return h.pages.errorPage(opts, string(core.TypeConfiguration))
	}
	return redirectResponse(withQuery(pageURL(opts, custom, core.ActionError), "error="+string(core.TypeConfiguration)))
}

func sessionUpdateData(req *core.Request) (map[string]any, error) {
	raw := req.Body["data"]
	if raw == "" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, core.WrapAuthError(core.TypeSessionTokenError, err, "session update data must be a JSON object")
	}
	return data, nil
}

// errorResponse maps err to a redirect. Signin errors go to the signin
// page, everything else to the error page. Only client safe types are
// named; the rest are reported as Configuration.
func (h *Handler) errorResponse(req *core.Request, opts *core.Options, partial *core.Response, err error) *core.Response {
	ae := core.AsAuthError(err)
	h.logger.Error("auth request failed",
		zap.String("type", string(ae.Type)),
		zap.String("action", string(opts.Action)),
		zap.Error(err),
	)

	res := core.NewResponse()
	if partial != nil {
		res.Cookies = partial.Cookies
	}

	if req.IsPost() && opts.Action == core.ActionSession {
		res.Status = http.StatusBadRequest
		res.Body = []byte("null")
		res.Headers.Set("Content-Type", "application/json")
		return res
	}

	errType := core.TypeConfiguration
	if ae.ClientSafe() {
		errType = ae.Type
	}
	query := "error=" + url.QueryEscape(string(errType))
	if ae.Type == core.TypeCredentialsSignin && ae.Code != "" {
		query += "&code=" + url.QueryEscape(ae.Code)
	}

	page, action := h.cfg.Pages.Error, core.ActionError
	if ae.Kind() == core.KindSignIn {
		page, action = h.cfg.Pages.SignIn, core.ActionSignIn
	}
	res.Redirect = withQuery(pageURL(opts, page, action), query)
	return res
}

// pageURL resolves a custom page, which may be a path on the deployment
// origin, or falls back to the built-in route.
func pageURL(opts *core.Options, custom string, action core.Action) string {
	if strings.HasPrefix(custom, "/") {
		return opts.Origin() + custom
	}
	return opts.PageURL(custom, action)
}

func withQuery(u, query string) string {
	if query == "" {
		return u
	}
	if strings.Contains(u, "?") {
		return u + "&" + query
	}
	return u + "?" + query
}

// authorize runs the SignIn callback. A non-empty redirect means the
// sign-in was diverted and must not go ahead.
func (h *Handler) authorize(ctx context.Context, opts *core.Options, p core.SignInParams) (string, error) {
	allowed, redirect, err := h.cfg.Callbacks.SignIn(ctx, p)
	if err != nil {
		var ae *core.AuthError
		if errors.As(err, &ae) {
			return "", err
		}
		return "", core.WrapAuthError(core.TypeAccessDenied, err, "")
	}
	if redirect != "" {
		return h.cfg.Callbacks.Redirect(ctx, core.RedirectParams{URL: redirect, BaseURL: opts.Origin()})
	}
	if !allowed {
		return "", core.NewAuthError(core.TypeAccessDenied, "sign in callback returned false")
	}
	return "", nil
}

// emit runs an event handler. Event errors are logged and dropped.
func (h *Handler) emit(event string, fn func() error) {
	if err := fn(); err != nil {
		h.logger.Error("event handler failed", zap.String("event", event), zap.Error(err))
	}
}

func (h *Handler) emitSignIn(ctx context.Context, e core.SignInEvent) {
	if h.cfg.Events.SignIn != nil {
		h.emit("signIn", func() error { return h.cfg.Events.SignIn(ctx, e) })
	}
}

func adapterError(err error, msg string) error {
	return core.WrapAuthError(core.TypeAdapterError, err, msg)
}
