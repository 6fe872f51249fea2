package core

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(t *testing.T, raw string, cookies map[string]string) *Request {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return &Request{Method: "GET", URL: u, Cookies: cookies}
}

func validConfig() *Config {
	return &Config{
		TrustHost: true,
		Secret:    []string{"secret"},
		BasePath:  "/api/auth",
	}
}

type emailOnlyAdapter struct{}

func (emailOnlyAdapter) CreateVerificationToken(context.Context, *VerificationToken) (*VerificationToken, error) {
	return nil, nil
}
func (emailOnlyAdapter) GetUserByEmail(context.Context, string) (*User, error) { return nil, nil }

type sessionOnlyAdapter struct{}

func (sessionOnlyAdapter) CreateSession(context.Context, *Session) (*Session, error) { return nil, nil }
func (sessionOnlyAdapter) GetSessionAndUser(context.Context, string) (*SessionAndUser, error) {
	return nil, nil
}
func (sessionOnlyAdapter) UpdateSession(context.Context, *Session) (*Session, error) { return nil, nil }
func (sessionOnlyAdapter) DeleteSession(context.Context, string) error               { return nil }

func TestAssertConfig(t *testing.T) {
	oauthNoToken := &OAuthProvider{ID: "acme", Type: ProviderOAuth, Authorization: Endpoint{URL: "https://acme.test/authorize"}}

	tests := []struct {
		name       string
		mutate     func(c *Config)
		url        string
		cookies    map[string]string
		wantErr    *AuthError
		wantSubstr string
	}{
		{
			name:    "untrusted host wins over missing secret",
			mutate:  func(c *Config) { c.TrustHost = false; c.Secret = nil },
			wantErr: ErrUntrustedHost,
		},
		{
			name: "missing secret wins over later failures",
			mutate: func(c *Config) {
				c.Secret = nil
				c.Providers = []Provider{oauthNoToken}
			},
			url:     "http://localhost/api/auth/signin?callbackUrl=javascript:alert(1)",
			wantErr: ErrMissingSecret,
		},
		{
			name:    "invalid callback url query",
			url:     "http://localhost/api/auth/signin?callbackUrl=javascript:alert(1)",
			wantErr: ErrInvalidCallbackURL,
		},
		{
			name:    "invalid callback url cookie",
			cookies: map[string]string{"authjs.callback-url": "ftp://example.com"},
			wantErr: ErrInvalidCallbackURL,
		},
		{
			name:       "oauth provider missing token endpoint",
			mutate:     func(c *Config) { c.Providers = []Provider{oauthNoToken} },
			wantErr:    ErrInvalidEndpoints,
			wantSubstr: "token endpoint",
		},
		{
			name: "credentials only with database strategy",
			mutate: func(c *Config) {
				c.Session.Strategy = StrategyDatabase
				c.Providers = []Provider{&CredentialsProvider{ID: "credentials", Authorize: nopAuthorize}}
			},
			wantErr: ErrUnsupportedStrategy,
		},
		{
			name: "credentials without authorize",
			mutate: func(c *Config) {
				c.Providers = []Provider{&CredentialsProvider{ID: "credentials"}}
			},
			wantErr: ErrMissingAuthorize,
		},
		{
			name: "email without adapter",
			mutate: func(c *Config) {
				c.Providers = []Provider{&EmailProvider{ID: "email"}}
			},
			wantErr: ErrMissingAdapter,
		},
		{
			name: "email adapter missing methods",
			mutate: func(c *Config) {
				c.Session.Strategy = StrategyJWT
				c.Adapter = emailOnlyAdapter{}
				c.Providers = []Provider{&EmailProvider{ID: "email"}}
			},
			wantErr:    ErrMissingAdapterMethods,
			wantSubstr: "UseVerificationToken",
		},
		{
			name: "adapter implies database strategy",
			mutate: func(c *Config) {
				c.Adapter = sessionOnlyAdapter{}
			},
			wantErr:    ErrMissingAdapterMethods,
			wantSubstr: "CreateUser, GetUser, GetUserByEmail, GetUserByAccount, UpdateUser, LinkAccount",
		},
		{
			name: "explicit database strategy without adapter",
			mutate: func(c *Config) {
				c.Session.Strategy = StrategyDatabase
			},
			wantErr: ErrMissingAdapter,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			cfg := validConfig()
			if test.mutate != nil {
				test.mutate(cfg)
			}
			raw := test.url
			if raw == "" {
				raw = "http://localhost/api/auth/session"
			}
			req := newTestRequest(t, raw, test.cookies)

			// Act
			warnings, state, err := AssertConfig(req, cfg, AssertState{})

			// Assert
			require.Error(t, err)
			assert.ErrorIs(t, err, test.wantErr)
			if test.wantSubstr != "" {
				assert.Contains(t, err.Error(), test.wantSubstr)
			}
			assert.Nil(t, warnings)
			assert.False(t, state.WarnedDebug)
		})
	}
}

func TestAssertConfig_Valid(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		mutate func(c *Config)
	}{
		{name: "minimal"},
		{name: "relative callback url", url: "http://localhost/api/auth/signin?callbackUrl=/dashboard"},
		{name: "absolute callback url", url: "http://localhost/api/auth/signin?callbackUrl=https://example.com/x"},
		{
			name: "oauth provider with issuer needs no endpoints",
			mutate: func(c *Config) {
				c.Providers = []Provider{&OAuthProvider{ID: "oidc", Type: ProviderOIDC, Issuer: "https://issuer.test"}}
			},
		},
		{
			name: "credentials mixed with oauth",
			mutate: func(c *Config) {
				c.Providers = []Provider{
					&CredentialsProvider{ID: "credentials", Authorize: nopAuthorize},
					&OAuthProvider{ID: "oidc", Type: ProviderOIDC, Issuer: "https://issuer.test"},
				}
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := validConfig()
			if test.mutate != nil {
				test.mutate(cfg)
			}
			raw := test.url
			if raw == "" {
				raw = "http://localhost/api/auth/session"
			}

			_, _, err := AssertConfig(newTestRequest(t, raw, nil), cfg, AssertState{})

			assert.NoError(t, err)
		})
	}
}

// Requirement: the debug warning is reported once per state
func TestAssertConfig_DebugWarningOnce(t *testing.T) {
	// Arrange
	cfg := validConfig()
	cfg.Debug = true
	req := newTestRequest(t, "http://localhost/api/auth/session", nil)

	// Act
	first, state, err := AssertConfig(req, cfg, AssertState{})
	require.NoError(t, err)
	second, state, err := AssertConfig(req, cfg, state)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, []Warning{WarningDebugEnabled}, first)
	assert.Empty(t, second)
	assert.True(t, state.WarnedDebug)
}

func nopAuthorize(context.Context, map[string]string, *Request) (*User, error) {
	return nil, nil
}
