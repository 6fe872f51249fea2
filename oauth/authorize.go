package oauth

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/pkg/cookie"
)

const defaultOIDCScope = "openid profile email"

// AuthorizationResult is the redirect to the provider plus the check cookies.
type AuthorizationResult struct {
	Redirect string
	Cookies  []cookie.Cookie
}

// redirectURI is the callback URL registered with the provider: the
// proxy's callback route when a proxy is configured and this deployment is
// not the proxy itself.
func redirectURI(opts *core.Options, p *core.OAuthProvider) string {
	if proxy := opts.RedirectProxyURLFor(p); proxy != "" && !opts.IsOnRedirectProxy {
		return strings.TrimSuffix(proxy, "/") + "/callback/" + p.ID
	}
	return opts.CallbackURLFor(p.ID)
}

// AuthorizationURL builds the provider authorization URL. Parameters are
// merged with the caller's query first, then parameters already present on
// the configured URL, then the provider's declared params, then defaults.
func AuthorizationURL(ctx context.Context, opts *core.Options, query url.Values) (*AuthorizationResult, error) {
	p, ok := opts.Provider.(*core.OAuthProvider)
	if !ok {
		return nil, core.WrapAuthError(core.TypeInvalidProvider, errMissingProvider, "")
	}

	server, err := Resolve(ctx, p, opts.HTTPClient)
	if err != nil {
		return nil, core.WrapAuthError(core.TypeConfiguration, err, "failed to resolve authorization server")
	}
	if server.AuthorizationURL == "" {
		return nil, core.NewAuthError(core.TypeInvalidEndpoints, "provider "+p.ID+" has no authorization endpoint")
	}
	u, err := url.Parse(server.AuthorizationURL)
	if err != nil {
		return nil, core.WrapAuthError(core.TypeInvalidEndpoints, err, "invalid authorization endpoint")
	}

	redirect := redirectURI(opts, p)
	var origin string
	if redirect != opts.CallbackURLFor(p.ID) {
		origin = opts.CallbackURLFor(p.ID)
		opts.Logger.Debug("using redirect proxy", zap.String("redirect_uri", redirect), zap.String("origin", origin))
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", p.ClientID)
	params.Set("redirect_uri", redirect)
	if p.Type == core.ProviderOIDC {
		params.Set("scope", defaultOIDCScope)
	}
	for k, v := range p.Authorization.Params {
		params.Set(k, v)
	}
	for k, vs := range u.Query() {
		params[k] = vs
	}
	for k, vs := range query {
		if k == "callbackUrl" || k == "csrfToken" {
			continue
		}
		params[k] = vs
	}

	formPost := params.Get("response_mode") == "form_post"
	checks := EffectiveChecks(opts, server)
	var cookies []cookie.Cookie

	if slices.Contains(checks, core.CheckState) {
		state, c, err := CreateState(opts, origin)
		if err != nil {
			return nil, core.WrapAuthError(core.TypeOAuthSignInError, err, "")
		}
		if formPost {
			c = crossSite(c)
		}
		params.Set("state", state)
		cookies = append(cookies, c)
	}

	if slices.Contains(checks, core.CheckPKCE) {
		challenge, c, err := CreatePKCE(opts)
		if err != nil {
			return nil, core.WrapAuthError(core.TypeOAuthSignInError, err, "")
		}
		params.Set("code_challenge", challenge)
		params.Set("code_challenge_method", "S256")
		cookies = append(cookies, c)
	}

	if slices.Contains(checks, core.CheckNonce) {
		nonce, c, err := CreateNonce(opts)
		if err != nil {
			return nil, core.WrapAuthError(core.TypeOAuthSignInError, err, "")
		}
		if formPost {
			c = crossSite(c)
		}
		params.Set("nonce", nonce)
		cookies = append(cookies, c)
	}

	u.RawQuery = params.Encode()
	opts.Logger.Debug("authorization url ready",
		zap.String("provider", p.ID),
		zap.Bool("pkce", slices.Contains(checks, core.CheckPKCE)),
		zap.Bool("nonce", slices.Contains(checks, core.CheckNonce)),
	)
	return &AuthorizationResult{Redirect: u.String(), Cookies: cookies}, nil
}
