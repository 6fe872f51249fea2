package core

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lborres/gatehouse/pkg/cookie"
	"github.com/lborres/gatehouse/pkg/jwt"
)

const (
	DefaultBasePath = "/api/auth"

	defaultHTTPTimeout = 10 * time.Second
)

type Config struct {
	Providers []Provider
	Adapter   Adapter

	// Secret lists trusted secrets, newest first. The first one signs.
	Secret []string

	BasePath string
	// URL is the canonical deployment URL. When set it replaces the
	// request origin.
	URL              string
	TrustHost        bool
	RedirectProxyURL string

	// UseSecureCookies defaults to true for https deployments.
	UseSecureCookies *bool
	// Cookies replaces the default cookie definitions.
	Cookies *cookie.Cookies

	Session   SessionConfig
	JWT       JWTConfig
	Pages     Pages
	Callbacks Callbacks
	Events    Events

	Logger *zap.Logger
	Debug  bool

	SkipCSRFCheck bool

	// HTTPClient is used for discovery, token and userinfo requests.
	HTTPClient *http.Client

	// Cache, when set, caches database session lookups.
	Cache Cache
	// HTTP, when set, has the engine's routes registered on it.
	HTTP HTTPAdapter
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.BasePath == "" {
		c.BasePath = DefaultBasePath
	}
	c.BasePath = "/" + strings.Trim(c.BasePath, "/")

	def := DefaultSessionConfig()
	if c.Session.MaxAge == 0 {
		c.Session.MaxAge = def.MaxAge
	}
	if c.Session.UpdateAge == 0 {
		c.Session.UpdateAge = def.UpdateAge
	}
	if c.Session.GenerateSessionToken == nil {
		c.Session.GenerateSessionToken = def.GenerateSessionToken
	}
	if c.Session.Strategy == "" {
		c.Session.Strategy = StrategyJWT
		if c.Adapter != nil {
			c.Session.Strategy = StrategyDatabase
		}
	}

	if c.JWT.MaxAge == 0 {
		c.JWT.MaxAge = c.Session.MaxAge
	}
	if c.JWT.Encode == nil {
		c.JWT.Encode = jwt.Encode
	}
	if c.JWT.Decode == nil {
		c.JWT.Decode = jwt.Decode
	}

	if c.Callbacks.SignIn == nil {
		c.Callbacks.SignIn = DefaultSignIn
	}
	if c.Callbacks.Redirect == nil {
		c.Callbacks.Redirect = DefaultRedirect
	}
	if c.Callbacks.JWT == nil {
		c.Callbacks.JWT = DefaultJWT
	}
	if c.Callbacks.Session == nil {
		c.Callbacks.Session = DefaultSession
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
		if c.Debug {
			if l, err := zap.NewDevelopment(); err == nil {
				c.Logger = l
			}
		}
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
}

// SessionStrategy resolves the strategy without requiring ApplyDefaults.
func (c *Config) SessionStrategy() SessionStrategy {
	if c.Session.Strategy != "" {
		return c.Session.Strategy
	}
	if c.Adapter != nil {
		return StrategyDatabase
	}
	return StrategyJWT
}

// SecureCookies decides cookie security for a request arriving on u.
func (c *Config) SecureCookies(u *url.URL) bool {
	if c.UseSecureCookies != nil {
		return *c.UseSecureCookies
	}
	return u != nil && u.Scheme == "https"
}

// CookieDefinitions returns the configured or default cookies.
func (c *Config) CookieDefinitions(u *url.URL) cookie.Cookies {
	if c.Cookies != nil {
		return *c.Cookies
	}
	return cookie.Defaults(c.SecureCookies(u))
}
