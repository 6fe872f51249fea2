package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/internal/testidp"
)

func oidcProvider(idp *testidp.Server) *core.OAuthProvider {
	return &core.OAuthProvider{
		ID:           "idp",
		Name:         "Test IdP",
		Type:         core.ProviderOIDC,
		Issuer:       idp.Issuer(),
		ClientID:     idp.ClientID,
		ClientSecret: idp.ClientSecret,
	}
}

func explicitProvider(idp *testidp.Server) *core.OAuthProvider {
	return &core.OAuthProvider{
		ID:            "gh",
		Name:          "GitHub-like",
		Type:          core.ProviderOAuth,
		ClientID:      idp.ClientID,
		ClientSecret:  idp.ClientSecret,
		Authorization: core.Endpoint{URL: idp.URL + "/authorize"},
		Token:         core.TokenEndpoint{Endpoint: core.Endpoint{URL: idp.URL + "/token"}},
		Userinfo:      core.UserinfoEndpoint{Endpoint: core.Endpoint{URL: idp.URL + "/userinfo"}},
	}
}

func authorize(t *testing.T, opts *core.Options, query url.Values) (*AuthorizationResult, url.Values) {
	t.Helper()
	res, err := AuthorizationURL(context.Background(), opts, query)
	require.NoError(t, err)
	u, err := url.Parse(res.Redirect)
	require.NoError(t, err)
	return res, u.Query()
}

func TestAuthorizationURL_Discovery(t *testing.T) {
	// Arrange
	idp := testidp.New(t)
	p := oidcProvider(idp)
	p.Checks = []core.Check{core.CheckPKCE, core.CheckState}
	p.Authorization.Params = map[string]string{"prompt": "consent", "access_type": "offline"}
	opts := testOptions(t, p)

	// Act
	res, q := authorize(t, opts, url.Values{
		"prompt":      {"login"},
		"callbackUrl": {"/dashboard"},
		"csrfToken":   {"abc"},
	})

	// Assert
	assert.True(t, strings.HasPrefix(res.Redirect, idp.URL+"/authorize?"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, idp.ClientID, q.Get("client_id"))
	assert.Equal(t, "http://localhost:3000/api/auth/callback/idp", q.Get("redirect_uri"))
	assert.Equal(t, "openid profile email", q.Get("scope"))
	assert.Equal(t, "login", q.Get("prompt"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))
	assert.Empty(t, q.Get("nonce"))
	assert.False(t, q.Has("callbackUrl"))
	assert.False(t, q.Has("csrfToken"))
	assert.ElementsMatch(t, []string{"authjs.state", "authjs.pkce.code_verifier"}, cookieNames(res.Cookies))
}

// Requirement: parameters on the configured URL win over declared params
func TestAuthorizationURL_ParamPrecedence(t *testing.T) {
	idp := testidp.New(t)

	tests := []struct {
		name  string
		query url.Values
		want  string
	}{
		{name: "url param beats declared param", want: "read"},
		{name: "caller query beats url param", query: url.Values{"scope": {"admin"}}, want: "admin"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := explicitProvider(idp)
			p.Authorization = core.Endpoint{
				URL:    idp.URL + "/authorize?scope=read",
				Params: map[string]string{"scope": "write"},
			}

			_, q := authorize(t, testOptions(t, p), test.query)

			assert.Equal(t, test.want, q.Get("scope"))
		})
	}
}

func TestAuthorizationURL_FormPostCookiesAreCrossSite(t *testing.T) {
	// Arrange
	idp := testidp.New(t)
	p := explicitProvider(idp)
	p.Checks = []core.Check{core.CheckState, core.CheckNonce, core.CheckPKCE}
	p.Authorization.Params = map[string]string{"response_mode": "form_post"}

	// Act
	res, q := authorize(t, testOptions(t, p), nil)

	// Assert
	assert.Equal(t, "form_post", q.Get("response_mode"))
	require.Len(t, res.Cookies, 3)
	for _, c := range res.Cookies {
		if c.Name == "authjs.pkce.code_verifier" {
			assert.Equal(t, http.SameSiteLaxMode, c.Options.SameSite)
			continue
		}
		assert.Equal(t, http.SameSiteNoneMode, c.Options.SameSite, c.Name)
		assert.True(t, c.Options.Secure, c.Name)
	}
}

func TestAuthorizationURL_DiscoveryFailure(t *testing.T) {
	// Arrange
	p := &core.OAuthProvider{ID: "broken", Type: core.ProviderOIDC, Issuer: "http://127.0.0.1:1/nowhere", ClientID: "x"}
	opts := testOptions(t, p)
	opts.HTTPClient = &http.Client{Timeout: time.Second}

	// Act
	_, err := AuthorizationURL(context.Background(), opts, nil)

	// Assert
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestHandleCallback_OIDCRoundTrip(t *testing.T) {
	// Arrange
	idp := testidp.New(t)
	p := oidcProvider(idp)
	p.Checks = []core.Check{core.CheckPKCE, core.CheckState}
	opts := testOptions(t, p)

	res, q := authorize(t, opts, nil)
	idp.Configure(func(s *testidp.Server) { s.Challenge = q.Get("code_challenge") })
	jar := cookieJar(nil, res.Cookies)
	params := url.Values{"code": {"abc"}, "state": {q.Get("state")}}

	// Act
	cb, err := HandleCallback(context.Background(), opts, params, jar)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "user-123", cb.User.ID)
	assert.Equal(t, "ada@example.com", cb.User.Email)
	assert.Equal(t, "Ada Lovelace", cb.User.Name)
	assert.Equal(t, "https://example.com/ada.png", cb.User.Image)

	assert.Equal(t, "idp", cb.Account.Provider)
	assert.Equal(t, core.ProviderOIDC, cb.Account.Type)
	assert.Equal(t, "user-123", cb.Account.ProviderAccountID)
	assert.Equal(t, "at-abc", cb.Account.AccessToken)
	assert.Equal(t, "rt", cb.Account.RefreshToken)
	assert.NotEmpty(t, cb.Account.IDToken)
	assert.Greater(t, cb.Account.ExpiresAt, time.Now().Unix())

	require.Len(t, cb.Cookies, 2)
	for _, c := range cb.Cookies {
		assert.True(t, c.Cleared(), c.Name)
	}

	form := idp.LastTokenRequest()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "http://localhost:3000/api/auth/callback/idp", form.Get("redirect_uri"))
	assert.NotEmpty(t, form.Get("code_verifier"))
	assert.True(t, strings.HasPrefix(idp.TokenAuth[0], "Basic "))
	assert.Zero(t, idp.UserinfoCalls)
}

// Requirement: consumed check cookies cannot be replayed
func TestHandleCallback_ReplayFails(t *testing.T) {
	// Arrange
	idp := testidp.New(t)
	p := oidcProvider(idp)
	p.Checks = []core.Check{core.CheckPKCE, core.CheckState}
	opts := testOptions(t, p)

	res, q := authorize(t, opts, nil)
	jar := cookieJar(nil, res.Cookies)
	params := url.Values{"code": {"abc"}, "state": {q.Get("state")}}
	cb, err := HandleCallback(context.Background(), opts, params, jar)
	require.NoError(t, err)
	jar = cookieJar(jar, cb.Cookies)

	// Act
	replay, err := HandleCallback(context.Background(), opts, params, jar)

	// Assert
	assert.ErrorIs(t, err, core.ErrInvalidCheck)
	require.NotNil(t, replay)
	assert.Nil(t, replay.User)
	assert.Len(t, idp.TokenRequests, 1)
}

func TestHandleCallback_StateMismatch(t *testing.T) {
	// Arrange
	idp := testidp.New(t)
	p := explicitProvider(idp)
	p.Checks = []core.Check{core.CheckState}
	opts := testOptions(t, p)
	res, _ := authorize(t, opts, nil)

	// Act
	cb, err := HandleCallback(context.Background(), opts,
		url.Values{"code": {"abc"}, "state": {"forged"}}, cookieJar(nil, res.Cookies))

	// Assert
	assert.ErrorIs(t, err, core.ErrInvalidCheck)
	require.Len(t, cb.Cookies, 1)
	assert.True(t, cb.Cookies[0].Cleared())
	assert.Empty(t, idp.TokenRequests)
}

// Requirement: without S256 support an OIDC provider falls back to a nonce
func TestHandleCallback_NonceFallback(t *testing.T) {
	// Arrange
	idp := testidp.New(t)
	idp.Configure(func(s *testidp.Server) { s.SupportS256 = false })
	p := oidcProvider(idp)
	opts := testOptions(t, p)

	res, q := authorize(t, opts, nil)
	require.Empty(t, q.Get("code_challenge"))
	require.NotEmpty(t, q.Get("nonce"))
	assert.Equal(t, []string{"authjs.nonce"}, cookieNames(res.Cookies))
	idp.Configure(func(s *testidp.Server) { s.Nonce = q.Get("nonce") })

	// Act
	cb, err := HandleCallback(context.Background(), opts, url.Values{"code": {"abc"}}, cookieJar(nil, res.Cookies))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "user-123", cb.User.ID)
	assert.Empty(t, idp.LastTokenRequest().Get("code_verifier"))
	assert.Nil(t, p.Checks)
}

func TestHandleCallback_NonceMismatch(t *testing.T) {
	// Arrange
	idp := testidp.New(t)
	idp.Configure(func(s *testidp.Server) {
		s.SupportS256 = false
		s.Nonce = "someone-elses-nonce"
	})
	opts := testOptions(t, oidcProvider(idp))
	res, _ := authorize(t, opts, nil)

	// Act
	_, err := HandleCallback(context.Background(), opts, url.Values{"code": {"abc"}}, cookieJar(nil, res.Cookies))

	// Assert
	assert.ErrorIs(t, err, core.ErrInvalidCheck)
}

func TestHandleCallback_ProviderErrors(t *testing.T) {
	tests := []struct {
		name       string
		params     url.Values
		tokenError string
		want       error
	}{
		{name: "error param", params: url.Values{"error": {"access_denied"}}, want: core.ErrOAuthCallback},
		{name: "missing code", params: url.Values{}, want: core.ErrOAuthCallback},
		{name: "token endpoint error", params: url.Values{"code": {"abc"}}, tokenError: "invalid_grant", want: core.ErrOAuthCallback},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			idp := testidp.New(t)
			idp.Configure(func(s *testidp.Server) { s.TokenError = test.tokenError })
			p := explicitProvider(idp)
			p.Checks = []core.Check{}

			_, err := HandleCallback(context.Background(), testOptions(t, p), test.params, nil)

			assert.ErrorIs(t, err, test.want)
			ae := core.AsAuthError(err)
			require.NotNil(t, ae)
			assert.Equal(t, core.KindSignIn, ae.Kind())
		})
	}
}

func TestHandleCallback_UserinfoAndConform(t *testing.T) {
	// Arrange
	idp := testidp.New(t)
	p := explicitProvider(idp)
	p.Checks = []core.Check{core.CheckState}
	p.ClientAuthMethod = "client_secret_post"
	p.Conform = func(raw map[string]any) (map[string]any, error) {
		raw["scope"] = "read:user"
		return raw, nil
	}
	p.Profile = func(profile core.Profile, _ core.TokenSet) (*core.User, error) {
		return &core.User{ID: core.ProfileString(profile, "sub"), Name: "custom", Email: core.ProfileString(profile, "email")}, nil
	}
	opts := testOptions(t, p)
	res, q := authorize(t, opts, nil)

	// Act
	cb, err := HandleCallback(context.Background(), opts,
		url.Values{"code": {"xyz"}, "state": {q.Get("state")}}, cookieJar(nil, res.Cookies))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, idp.UserinfoCalls)
	assert.Equal(t, "custom", cb.User.Name)
	assert.Equal(t, "ada@example.com", cb.User.Email)
	assert.Equal(t, "read:user", cb.Account.Scope)
	assert.Equal(t, core.ProviderOAuth, cb.Account.Type)

	form := idp.LastTokenRequest()
	assert.Equal(t, idp.ClientSecret, form.Get("client_secret"))
	assert.Empty(t, idp.TokenAuth[0])
}

func TestHandleCallback_CustomTokenRequest(t *testing.T) {
	// Arrange
	idp := testidp.New(t)
	p := explicitProvider(idp)
	p.Checks = []core.Check{}
	var got core.TokenRequest
	p.Token = core.TokenEndpoint{Request: func(_ context.Context, r core.TokenRequest) (core.TokenSet, error) {
		got = r
		return core.TokenSet{"access_token": "at-custom"}, nil
	}}
	opts := testOptions(t, p)

	// Act
	cb, err := HandleCallback(context.Background(), opts, url.Values{"code": {"c1"}}, nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "c1", got.Code)
	assert.Equal(t, "http://localhost:3000/api/auth/callback/gh", got.RedirectURI)
	assert.Empty(t, idp.TokenRequests)
	assert.Equal(t, "at-custom", cb.Account.AccessToken)
	assert.Zero(t, cb.Account.ExpiresAt)
}

func TestHandleCallback_ProfileWithoutID(t *testing.T) {
	// Arrange
	idp := testidp.New(t)
	p := explicitProvider(idp)
	p.Checks = []core.Check{}
	p.Profile = func(core.Profile, core.TokenSet) (*core.User, error) { return &core.User{Name: "nobody"}, nil }

	// Act
	_, err := HandleCallback(context.Background(), testOptions(t, p), url.Values{"code": {"abc"}}, nil)

	// Assert
	assert.ErrorIs(t, err, core.ErrOAuthProfileParse)
}

func TestHandleCallback_UserinfoUnauthorized(t *testing.T) {
	// Arrange
	idp := testidp.New(t)
	p := explicitProvider(idp)
	p.Checks = []core.Check{}
	p.Token = core.TokenEndpoint{Request: func(context.Context, core.TokenRequest) (core.TokenSet, error) {
		return core.TokenSet{"access_token": "wrong"}, nil
	}}

	// Act
	_, err := HandleCallback(context.Background(), testOptions(t, p), url.Values{"code": {"abc"}}, nil)

	// Assert
	assert.ErrorIs(t, err, core.ErrCallbackRoute)
}

// Requirement: a redirect proxy forwards the provider's response to the
// origin that started the flow
func TestHandleCallback_RedirectProxy(t *testing.T) {
	// Arrange
	idp := testidp.New(t)
	p := explicitProvider(idp)
	p.Checks = []core.Check{}
	app := testOptions(t, p)
	app.RedirectProxyURL = "https://proxy.example.com/api/auth"

	res, q := authorize(t, app, nil)
	require.Equal(t, "https://proxy.example.com/api/auth/callback/gh", q.Get("redirect_uri"))
	require.NotEmpty(t, q.Get("state"))

	proxy := testOptions(t, p)
	proxy.RedirectProxyURL = "https://proxy.example.com/api/auth"
	proxy.URL, _ = url.Parse("https://proxy.example.com/api/auth")
	proxy.IsOnRedirectProxy = true
	params := url.Values{"code": {"abc"}, "state": {q.Get("state")}}

	// Act
	forwarded, err := HandleCallback(context.Background(), proxy, params, nil)

	// Assert
	require.NoError(t, err)
	target, err := url.Parse(forwarded.ProxyRedirect)
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", target.Host)
	assert.Equal(t, "/api/auth/callback/gh", target.Path)
	assert.Equal(t, "abc", target.Query().Get("code"))
	assert.Empty(t, idp.TokenRequests)

	// Act
	cb, err := HandleCallback(context.Background(), app, target.Query(), cookieJar(nil, res.Cookies))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "user-123", cb.User.ID)
	assert.Equal(t, "https://proxy.example.com/api/auth/callback/gh", idp.LastTokenRequest().Get("redirect_uri"))
}

func TestEffectiveChecks(t *testing.T) {
	s256 := &Metadata{CodeChallengeMethodsSupported: []string{"S256"}}
	plainOnly := &Metadata{CodeChallengeMethodsSupported: []string{"plain"}}

	tests := []struct {
		name     string
		provider *core.OAuthProvider
		meta     *Metadata
		proxy    string
		want     []core.Check
	}{
		{name: "default", provider: &core.OAuthProvider{Type: core.ProviderOAuth}, want: []core.Check{core.CheckPKCE}},
		{name: "s256 advertised", provider: &core.OAuthProvider{Type: core.ProviderOIDC}, meta: s256, want: []core.Check{core.CheckPKCE}},
		{name: "oidc without s256", provider: &core.OAuthProvider{Type: core.ProviderOIDC}, meta: plainOnly, want: []core.Check{core.CheckNonce}},
		{name: "oauth without s256 falls back to state", provider: &core.OAuthProvider{Type: core.ProviderOAuth}, meta: plainOnly, want: []core.Check{core.CheckState}},
		{name: "oauth with metadata lacking methods keeps pkce", provider: &core.OAuthProvider{Type: core.ProviderOAuth, Issuer: "https://idp.example.com"}, meta: &Metadata{Issuer: "https://idp.example.com"}, want: []core.Check{core.CheckPKCE}},
		{name: "oidc with metadata lacking methods keeps pkce", provider: &core.OAuthProvider{Type: core.ProviderOIDC}, meta: &Metadata{}, want: []core.Check{core.CheckPKCE}},
		{name: "proxy adds state", provider: &core.OAuthProvider{Type: core.ProviderOAuth}, proxy: "https://proxy.example.com/api/auth", want: []core.Check{core.CheckPKCE, core.CheckState}},
		{name: "explicit empty", provider: &core.OAuthProvider{Type: core.ProviderOAuth, Checks: []core.Check{}}, want: []core.Check{}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			opts := testOptions(t, test.provider)
			opts.RedirectProxyURL = test.proxy

			got := EffectiveChecks(opts, &Server{Provider: test.provider, Metadata: test.meta})

			assert.ElementsMatch(t, test.want, got)
		})
	}
}

func TestParams_FormPost(t *testing.T) {
	// Arrange
	p := &core.OAuthProvider{Authorization: core.Endpoint{Params: map[string]string{"response_mode": "form_post"}}}
	u, _ := url.Parse("http://localhost:3000/api/auth/callback/apple?code=from-query")
	req := &core.Request{Method: http.MethodPost, URL: u, Body: map[string]string{"code": "from-body", "state": "s"}}

	// Act
	got := Params(p, req)

	// Assert
	assert.Equal(t, "from-body", got.Get("code"))
	assert.Equal(t, "s", got.Get("state"))
	assert.Equal(t, "from-query", Params(&core.OAuthProvider{}, req).Get("code"))
}

func TestDecodeResponse_FormEncoded(t *testing.T) {
	// Act
	got, err := decodeResponse("application/x-www-form-urlencoded; charset=utf-8", []byte("access_token=a&scope=repo&token_type=bearer"))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "a", got["access_token"])
	assert.Equal(t, "repo", got["scope"])
}

func TestAsCallbackError(t *testing.T) {
	wrapped := asCallbackError(errors.New("boom"))
	assert.ErrorIs(t, wrapped, core.ErrCallbackRoute)

	original := core.NewAuthError(core.TypeOAuthCallbackError, "denied")
	assert.Same(t, original, asCallbackError(original))
}
