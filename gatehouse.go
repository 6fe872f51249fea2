package gatehouse

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/pkg/cache"
	"github.com/lborres/gatehouse/pkg/crypto"
	"github.com/lborres/gatehouse/pkg/env"
	"github.com/lborres/gatehouse/services"
)

// interfaces
type (
	Provider    = core.Provider
	Cache       = core.Cache
	HTTPAdapter = core.HTTPAdapter
	Handler     = core.Handler

	UserStorage              = core.UserStorage
	AccountStorage           = core.AccountStorage
	SessionStorage           = core.SessionStorage
	VerificationTokenStorage = core.VerificationTokenStorage
	AuthenticatorStorage     = core.AuthenticatorStorage

	PasswordHandler = crypto.PasswordHandler
)

// structs
type (
	Config        = core.Config
	SessionConfig = core.SessionConfig
	JWTConfig     = core.JWTConfig
	CacheConfig   = core.CacheConfig
	Pages         = core.Pages
	Callbacks     = core.Callbacks
	Events        = core.Events

	Request  = core.Request
	Response = core.Response
)

type (
	User              = core.User
	Account           = core.Account
	Session           = core.Session
	VerificationToken = core.VerificationToken
	Authenticator     = core.Authenticator

	OAuthProvider       = core.OAuthProvider
	EmailProvider       = core.EmailProvider
	CredentialsProvider = core.CredentialsProvider
	CredentialField     = core.CredentialField
	WebAuthnProvider    = core.WebAuthnProvider

	AuthError = core.AuthError
)

// Constructors & helpers (convenience re-exports)
var (
	NewInMemoryCache     = cache.NewInMemoryCache
	NewArgon2            = crypto.NewArgon2
	DefaultSessionConfig = core.DefaultSessionConfig
	CredentialsSignin    = core.CredentialsSignin
)

var (
	ErrConfiguration      = core.ErrConfiguration
	ErrUntrustedHost      = core.ErrUntrustedHost
	ErrMissingSecret      = core.ErrMissingSecret
	ErrInvalidCallbackURL = core.ErrInvalidCallbackURL
	ErrMissingAdapter     = core.ErrMissingAdapter
)

var (
	ErrAccessDenied          = core.ErrAccessDenied
	ErrCredentialsSignin     = core.ErrCredentialsSignin
	ErrOAuthAccountNotLinked = core.ErrOAuthAccountNotLinked
	ErrVerification          = core.ErrVerification
)

// Auth is a configured engine. It is safe for concurrent use.
type Auth struct {
	cfg     *core.Config
	handler *services.Handler
	logger  *zap.Logger

	mu    sync.Mutex
	state core.AssertState
}

// Ensure Auth implements core.Handler
var _ core.Handler = (*Auth)(nil)

// New fills in defaults and mounts the engine on config.HTTP when set.
// The configuration is asserted on every request, not here, because some
// checks depend on the request.
func New(config Config) (*Auth, error) {
	cfg := config
	SetEnvDefaults(&cfg, env.New())
	cfg.ApplyDefaults()

	a := &Auth{
		cfg:     &cfg,
		handler: services.NewHandler(&cfg),
		logger:  cfg.Logger,
	}

	if cfg.HTTP != nil {
		if err := cfg.HTTP.RegisterRoutes(a, cfg.BasePath); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// SetEnvDefaults fills settings the configuration leaves unset from
// AUTH_* variables. Provider credentials are written to the provider
// values themselves.
func SetEnvDefaults(cfg *Config, e *env.Env) {
	if len(cfg.Secret) == 0 {
		cfg.Secret = e.Secrets()
	}
	if cfg.URL == "" {
		cfg.URL = e.URL()
	}
	if cfg.BasePath == "" {
		cfg.BasePath = e.BasePath()
	}
	cfg.TrustHost = cfg.TrustHost || e.TrustHost()
	if cfg.RedirectProxyURL == "" {
		cfg.RedirectProxyURL = e.RedirectProxyURL()
	}

	for _, p := range cfg.Providers {
		op, ok := p.(*core.OAuthProvider)
		if !ok {
			continue
		}
		vars := e.Provider(op.ID)
		if op.ClientID == "" {
			op.ClientID = vars.ClientID
		}
		if op.ClientSecret == "" {
			op.ClientSecret = vars.ClientSecret
		}
		if op.Issuer == "" {
			op.Issuer = vars.Issuer
		}
	}
}

// Config returns the effective configuration.
func (a *Auth) Config() *Config {
	return a.cfg
}

func (a *Auth) assert(req *core.Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	warnings, state, err := core.AssertConfig(req, a.cfg, a.state)
	if err != nil {
		return err
	}
	a.state = state
	for _, w := range warnings {
		a.logger.Warn("configuration warning", zap.String("warning", string(w)))
	}
	return nil
}

// Handle asserts the configuration and runs the requested action.
func (a *Auth) Handle(ctx context.Context, req *core.Request) *core.Response {
	if err := a.assert(req); err != nil {
		a.logger.Error("invalid configuration", zap.Error(err))
		return a.handler.ConfigurationError(req)
	}
	return a.handler.Handle(ctx, req)
}

// ServeHTTP serves the engine on a plain net/http mux.
func (a *Auth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := core.FromHTTP(r)
	if err != nil {
		a.logger.Debug("rejecting unreadable request", zap.Error(err))
		http.Error(w, "Bad request.", http.StatusBadRequest)
		return
	}
	a.Handle(r.Context(), req).Write(w)
}
