package oauth

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/pkg/cookie"
)

type CallbackResult struct {
	User    *core.User
	Account *core.Account
	Profile core.Profile
	Tokens  core.TokenSet
	// Cookies clear the consumed checks. They are set even when the
	// callback fails.
	Cookies []cookie.Cookie
	// ProxyRedirect is set when this deployment acted as redirect proxy
	// for another origin and the client must be forwarded there.
	ProxyRedirect string
}

// Params returns where the provider put the callback parameters: the body
// for response_mode=form_post, the query otherwise.
func Params(p *core.OAuthProvider, req *core.Request) url.Values {
	formPost := p.Authorization.Params["response_mode"] == "form_post"
	if u, err := url.Parse(p.Authorization.URL); err == nil && u.Query().Get("response_mode") == "form_post" {
		formPost = true
	}
	if !formPost {
		return req.Query()
	}
	v := url.Values{}
	for k, s := range req.Body {
		v.Set(k, s)
	}
	return v
}

// HandleCallback validates the provider's redirect, exchanges the code and
// maps the profile. The result is never nil so that check cookies are
// always cleared.
func HandleCallback(ctx context.Context, opts *core.Options, params url.Values, cookies map[string]string) (*CallbackResult, error) {
	res := &CallbackResult{}
	p, ok := opts.Provider.(*core.OAuthProvider)
	if !ok {
		return res, core.WrapAuthError(core.TypeInvalidProvider, errMissingProvider, "")
	}

	if opts.IsOnRedirectProxy && params.Get("state") != "" {
		payload, err := DecodeState(opts, params.Get("state"))
		if err == nil && payload.Origin != "" {
			if target, err := url.Parse(payload.Origin); err == nil && target.Scheme+"://"+target.Host != opts.Origin() {
				res.ProxyRedirect = payload.Origin + "?" + params.Encode()
				opts.Logger.Debug("redirect proxy forwarding", zap.String("origin", target.Scheme+"://"+target.Host))
				return res, nil
			}
		}
	}

	server, err := Resolve(ctx, p, opts.HTTPClient)
	if err != nil {
		return res, core.WrapAuthError(core.TypeCallbackRouteError, err, "failed to resolve authorization server")
	}
	checks := EffectiveChecks(opts, server)

	// Step 1: state
	if slices.Contains(checks, core.CheckState) {
		_, c, err := UseState(opts, params.Get("state"), cookies)
		res.Cookies = append(res.Cookies, c)
		if err != nil {
			return res, err
		}
	}

	// Step 2: authorization response
	if e := params.Get("error"); e != "" {
		return res, core.NewAuthError(core.TypeOAuthCallbackError,
			strings.TrimSpace(e+" "+params.Get("error_description")))
	}
	code := params.Get("code")
	if code == "" {
		return res, core.NewAuthError(core.TypeOAuthCallbackError, "authorization response has no code")
	}

	// Step 3: PKCE
	var verifier string
	if slices.Contains(checks, core.CheckPKCE) {
		v, c, err := UsePKCE(opts, cookies)
		res.Cookies = append(res.Cookies, c)
		if err != nil {
			return res, err
		}
		verifier = v
	}

	// Step 4: token exchange
	tokens, err := exchangeCode(ctx, opts, server, code, verifier, redirectURI(opts, p), params)
	if err != nil {
		return res, asCallbackError(err)
	}
	res.Tokens = tokens

	// Step 5: ID token and nonce
	var nonce string
	if slices.Contains(checks, core.CheckNonce) {
		n, c, err := UseNonce(opts, cookies)
		res.Cookies = append(res.Cookies, c)
		if err != nil {
			return res, err
		}
		nonce = n
	}

	var profile core.Profile
	if p.Type == core.ProviderOIDC || p.IDToken {
		claims, err := verifyIDToken(ctx, opts, server, tokens.IDToken(), nonce)
		if err != nil {
			return res, err
		}
		if p.UsesIDToken() {
			profile = claims
		}
	}

	// Step 6: userinfo
	if profile == nil {
		profile, err = fetchUserinfo(ctx, opts, server, tokens)
		if err != nil {
			return res, asCallbackError(err)
		}
	}
	res.Profile = profile

	// Step 7: canonical user
	user, account, err := normalize(p, profile, tokens)
	if err != nil {
		return res, err
	}
	res.User = user
	res.Account = account
	return res, nil
}

func verifyIDToken(ctx context.Context, opts *core.Options, s *Server, raw, nonce string) (core.Profile, error) {
	if raw == "" {
		return nil, core.NewAuthError(core.TypeCallbackRouteError, "token response has no id_token")
	}

	ctx = oidc.ClientContext(ctx, opts.HTTPClient)
	idToken, err := s.verifier(ctx, opts.HTTPClient).Verify(ctx, raw)
	if err != nil {
		return nil, core.WrapAuthError(core.TypeCallbackRouteError, err, "failed to verify id_token")
	}
	if nonce != "" && idToken.Nonce != nonce {
		return nil, core.NewAuthError(core.TypeInvalidCheck, "id_token nonce did not match")
	}

	claims := core.Profile{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, core.WrapAuthError(core.TypeCallbackRouteError, err, "failed to decode id_token claims")
	}
	return claims, nil
}

func asCallbackError(err error) error {
	var ae *core.AuthError
	if errors.As(err, &ae) {
		return err
	}
	return core.WrapAuthError(core.TypeCallbackRouteError, err, "")
}
