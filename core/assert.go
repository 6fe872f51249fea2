package core

import (
	"fmt"
	"net/url"
	"strings"
)

type Warning string

const WarningDebugEnabled Warning = "debug-enabled"

// AssertState carries what AssertConfig has already reported. Callers keep
// the returned state and pass it to the next call.
type AssertState struct {
	WarnedDebug bool
}

// AssertConfig validates cfg for req. The first failing check is returned;
// warnings are only reported when every check passes.
func AssertConfig(req *Request, cfg *Config, state AssertState) ([]Warning, AssertState, error) {
	var warnings []Warning
	if !state.WarnedDebug && cfg.Debug {
		warnings = append(warnings, WarningDebugEnabled)
	}

	if !cfg.TrustHost {
		return nil, state, NewAuthError(TypeUntrustedHost, fmt.Sprintf("host must be trusted, got %q", req.URL.Host))
	}

	if len(cfg.Secret) == 0 || cfg.Secret[0] == "" {
		return nil, state, NewAuthError(TypeMissingSecret, "please define a secret")
	}

	base := req.URL.Scheme + "://" + req.URL.Host + cfg.BasePath
	if cb := req.Query().Get("callbackUrl"); cb != "" && !isValidHTTPURL(cb, base) {
		return nil, state, NewAuthError(TypeInvalidCallbackURL, fmt.Sprintf("invalid callback URL, received %q", cb))
	}
	cbCookie := cfg.CookieDefinitions(req.URL).CallbackURL.Name
	if cb := req.Cookies[cbCookie]; cb != "" && !isValidHTTPURL(cb, base) {
		return nil, state, NewAuthError(TypeInvalidCallbackURL, fmt.Sprintf("invalid callback URL cookie, received %q", cb))
	}

	var hasCredentials, hasEmail, hasWebAuthn bool
	onlyCredentials := true
	for _, p := range cfg.Providers {
		if p.ProviderType() != ProviderCredentials {
			onlyCredentials = false
		}
		switch p := p.(type) {
		case *OAuthProvider:
			if p.Issuer != "" {
				continue
			}
			var missing string
			switch {
			case !p.Authorization.Configured():
				missing = "authorization"
			case !p.Token.Configured():
				missing = "token"
			case !p.Userinfo.Configured():
				missing = "userinfo"
			}
			if missing != "" {
				return nil, state, NewAuthError(TypeInvalidEndpoints, fmt.Sprintf(
					"provider %q is missing both issuer and %s endpoint config, at least one of them is required", p.ID, missing))
			}
		case *CredentialsProvider:
			hasCredentials = true
		case *EmailProvider:
			hasEmail = true
		case *WebAuthnProvider:
			hasWebAuthn = true
		}
	}

	if hasCredentials {
		if cfg.SessionStrategy() == StrategyDatabase && onlyCredentials {
			return nil, state, NewAuthError(TypeUnsupportedStrategy, "signing in with credentials is only supported with the jwt session strategy")
		}
		for _, p := range cfg.Providers {
			if c, ok := p.(*CredentialsProvider); ok && c.Authorize == nil {
				return nil, state, NewAuthError(TypeMissingAuthorize, fmt.Sprintf("credentials provider %q has no Authorize function", c.ID))
			}
		}
	}

	var required [][]adapterMethod
	database := cfg.SessionStrategy() == StrategyDatabase
	if hasEmail || database {
		if cfg.Adapter == nil {
			if hasEmail {
				return nil, state, NewAuthError(TypeMissingAdapter, "email login requires an adapter")
			}
			return nil, state, NewAuthError(TypeMissingAdapter, "database session requires an adapter")
		}
		if hasEmail {
			required = append(required, emailMethods)
		}
		if database {
			required = append(required, sessionMethods)
		}
	}
	if hasWebAuthn {
		if cfg.Adapter == nil {
			return nil, state, NewAuthError(TypeMissingAdapter, "webauthn requires an adapter")
		}
		required = append(required, authenticatorMethods)
	}

	if cfg.Adapter != nil {
		if missing := missingMethods(cfg.Adapter, required...); len(missing) > 0 {
			return nil, state, NewAuthError(TypeMissingAdapterMethods,
				"required adapter methods were missing: "+strings.Join(missing, ", "))
		}
	}

	state.WarnedDebug = true
	return warnings, state, nil
}

// isValidHTTPURL accepts paths starting with "/" and absolute http(s) URLs.
func isValidHTTPURL(raw, base string) bool {
	if strings.HasPrefix(raw, "/") {
		b, err := url.Parse(base)
		if err != nil {
			return false
		}
		u, err := b.Parse(raw)
		return err == nil && (u.Scheme == "http" || u.Scheme == "https")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
