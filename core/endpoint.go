package core

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// TokenSet is the decoded token endpoint response.
type TokenSet map[string]any

func (t TokenSet) str(key string) string {
	s, _ := t[key].(string)
	return s
}

func (t TokenSet) AccessToken() string  { return t.str("access_token") }
func (t TokenSet) RefreshToken() string { return t.str("refresh_token") }
func (t TokenSet) IDToken() string      { return t.str("id_token") }
func (t TokenSet) TokenType() string    { return t.str("token_type") }
func (t TokenSet) Scope() string        { return t.str("scope") }

// ExpiresIn reads expires_in, which providers send as a number or a string.
func (t TokenSet) ExpiresIn() (int64, bool) {
	switch v := t["expires_in"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Profile is the raw user information returned by a provider.
type Profile map[string]any

type TokenRequest struct {
	Provider     *OAuthProvider
	Code         string
	CodeVerifier string
	RedirectURI  string
	// Params are the callback query parameters.
	Params url.Values
	Client *http.Client
}

type UserinfoRequest struct {
	Provider *OAuthProvider
	Tokens   TokenSet
	Client   *http.Client
}

type (
	// TokenRequestFunc replaces the standard code exchange.
	TokenRequestFunc func(ctx context.Context, r TokenRequest) (TokenSet, error)
	// UserinfoRequestFunc replaces the bearer userinfo request.
	UserinfoRequestFunc func(ctx context.Context, r UserinfoRequest) (Profile, error)
	// ConformFunc rewrites the raw token response before it is parsed.
	ConformFunc func(raw map[string]any) (map[string]any, error)
	// ProfileFunc maps a raw profile to the canonical user. The returned
	// ID is the provider account id.
	ProfileFunc func(profile Profile, tokens TokenSet) (*User, error)
)

// Endpoint is a provider URL with extra query or body parameters.
type Endpoint struct {
	URL    string
	Params map[string]string
}

func (e Endpoint) Configured() bool { return e.URL != "" }

type TokenEndpoint struct {
	Endpoint
	Request TokenRequestFunc
}

func (e TokenEndpoint) Configured() bool { return e.URL != "" || e.Request != nil }

type UserinfoEndpoint struct {
	Endpoint
	Request UserinfoRequestFunc
}

func (e UserinfoEndpoint) Configured() bool { return e.URL != "" || e.Request != nil }
