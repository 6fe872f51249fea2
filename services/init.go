package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/pkg/cookie"
	"github.com/lborres/gatehouse/pkg/crypto"
)

// initOptions resolves the per-request options: deployment URL, provider, cookie
// names, CSRF token and callback URL. The returned options are never nil.
func (h *Handler) initOptions(ctx context.Context, req *core.Request, action core.Action, providerID string) (*core.Options, []cookie.Cookie, error) {
	u := &url.URL{Scheme: req.URL.Scheme, Host: req.URL.Host, Path: h.cfg.BasePath}
	if h.cfg.URL != "" {
		if canonical, err := url.Parse(h.cfg.URL); err == nil && canonical.Host != "" {
			u.Scheme, u.Host = canonical.Scheme, canonical.Host
		}
	}

	opts := &core.Options{
		Config:  h.cfg,
		Action:  action,
		URL:     u,
		Cookies: h.cfg.CookieDefinitions(u),
	}
	opts.CallbackURL = opts.Origin()
	if providerID != "" {
		if p, ok := core.FindProvider(h.cfg.Providers, providerID); ok {
			opts.Provider = p
		}
	}

	if p, ok := opts.Provider.(*core.OAuthProvider); ok {
		if proxy := opts.RedirectProxyURLFor(p); proxy != "" {
			pu, err := url.Parse(proxy)
			if err != nil || pu.Host == "" {
				return opts, nil, core.NewAuthError(core.TypeConfiguration, fmt.Sprintf("invalid redirect proxy URL %q", proxy))
			}
			opts.IsOnRedirectProxy = pu.Scheme+"://"+pu.Host == opts.Origin()
		}
	}

	var cookies []cookie.Cookie
	if h.cfg.SkipCSRFCheck {
		opts.CSRFTokenVerified = true
	} else {
		token, c, verified, err := createCSRFToken(opts, req.Cookies[opts.Cookies.CSRFToken.Name], req.IsPost(), req.Body["csrfToken"])
		if err != nil {
			return opts, nil, err
		}
		opts.CSRFToken = token
		opts.CSRFTokenVerified = verified
		if c != nil {
			cookies = append(cookies, *c)
		}
	}

	param := req.Body["callbackUrl"]
	if param == "" {
		param = req.Query().Get("callbackUrl")
	}
	callbackURL, c, err := h.createCallbackURL(ctx, opts, req.Cookies[opts.Cookies.CallbackURL.Name], param)
	if err != nil {
		return opts, cookies, err
	}
	opts.CallbackURL = callbackURL
	if c != nil {
		cookies = append(cookies, *c)
	}
	return opts, cookies, nil
}

// createCSRFToken implements the double submit cookie. The cookie holds
// token|sha256(token+secret); a POST is verified when its csrfToken field
// equals the token of a valid cookie. A new pair is minted only when the
// cookie is missing or forged.
func createCSRFToken(opts *core.Options, cookieValue string, isPost bool, bodyValue string) (string, *cookie.Cookie, bool, error) {
	secret := opts.Secret[0]
	if token, hash, ok := strings.Cut(cookieValue, "|"); ok {
		if crypto.ConstantTimeEqual(hash, crypto.CreateHash(token+secret)) {
			verified := isPost && bodyValue != "" && crypto.ConstantTimeEqual(token, bodyValue)
			return token, nil, verified, nil
		}
	}

	pair, err := crypto.GenerateHashedToken(secret)
	if err != nil {
		return "", nil, false, fmt.Errorf("failed to generate csrf token: %w", err)
	}
	c := opts.Cookies.CSRFToken.New(pair.Token + "|" + pair.Hash)
	return pair.Token, &c, false, nil
}

func validateCSRF(opts *core.Options) error {
	if opts.CSRFTokenVerified {
		return nil
	}
	return core.NewAuthError(core.TypeMissingCSRF, "CSRF token was missing during an action "+string(opts.Action))
}

// createCallbackURL runs the Redirect callback over the requested URL,
// falling back to the cookie and then the deployment origin. The cookie is
// rewritten whenever the result differs from it.
func (h *Handler) createCallbackURL(ctx context.Context, opts *core.Options, cookieValue, paramValue string) (string, *cookie.Cookie, error) {
	callbackURL := opts.Origin()
	requested := paramValue
	if requested == "" {
		requested = cookieValue
	}
	if requested != "" {
		resolved, err := h.cfg.Callbacks.Redirect(ctx, core.RedirectParams{URL: requested, BaseURL: opts.Origin()})
		if err != nil {
			return "", nil, core.WrapAuthError(core.TypeConfiguration, err, "redirect callback failed")
		}
		callbackURL = resolved
	}

	if callbackURL == cookieValue {
		return callbackURL, nil, nil
	}
	h.logger.Debug("callback url resolved", zap.String("callback_url", callbackURL))
	c := opts.Cookies.CallbackURL.New(callbackURL)
	return callbackURL, &c, nil
}
