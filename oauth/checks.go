package oauth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/pkg/cookie"
	"github.com/lborres/gatehouse/pkg/crypto"
	"github.com/lborres/gatehouse/pkg/jwt"
)

// Check cookies are sealed with the session token codec, salted with the
// cookie name, so a value minted for one check can never pass as another.
func seal(opts *core.Options, def cookie.Definition, claims jwt.Claims) (string, error) {
	return opts.JWT.Encode(jwt.EncodeParams{
		Claims: claims,
		Secret: opts.Secret,
		Salt:   def.Name,
		MaxAge: cookie.ChecksMaxAge,
	})
}

func open(opts *core.Options, def cookie.Definition, value string) (jwt.Claims, error) {
	return opts.JWT.Decode(jwt.DecodeParams{
		Token:  value,
		Secret: opts.Secret,
		Salt:   def.Name,
	})
}

func invalidCheck(format string, args ...any) *core.AuthError {
	return core.NewAuthError(core.TypeInvalidCheck, fmt.Sprintf(format, args...))
}

// use reads and opens a check cookie. The returned clearing cookie must be
// sent whatever the outcome.
func use(opts *core.Options, def cookie.Definition, cookies map[string]string, name string) (jwt.Claims, cookie.Cookie, error) {
	cleared := def.Clear()
	raw := cookies[def.Name]
	if raw == "" {
		return nil, cleared, invalidCheck("%s cookie was missing", name)
	}
	claims, err := open(opts, def, raw)
	if err != nil {
		return nil, cleared, core.WrapAuthError(core.TypeInvalidCheck, err, name+" value could not be parsed")
	}
	return claims, cleared, nil
}

// StatePayload is carried inside the state parameter.
type StatePayload struct {
	Random string `json:"random"`
	// Origin is the callback URL to forward to when a redirect proxy
	// received the code.
	Origin string `json:"origin,omitempty"`
}

// CreateState returns the state parameter and its cookie. The parameter is
// itself sealed, so a redirect proxy sharing the secret can read origin.
func CreateState(opts *core.Options, origin string) (string, cookie.Cookie, error) {
	random, err := crypto.RandomString(crypto.DefaultTokenLength)
	if err != nil {
		return "", cookie.Cookie{}, fmt.Errorf("failed to generate state: %w", err)
	}
	def := opts.Cookies.State
	value, err := seal(opts, def, jwt.Claims{"random": random, "origin": origin})
	if err != nil {
		return "", cookie.Cookie{}, fmt.Errorf("failed to seal state: %w", err)
	}
	return value, def.New(value), nil
}

// DecodeState opens a state parameter without consulting any cookie.
func DecodeState(opts *core.Options, value string) (*StatePayload, error) {
	claims, err := open(opts, opts.Cookies.State, value)
	if err != nil {
		return nil, err
	}
	return &StatePayload{Random: claims.String("random"), Origin: claims.String("origin")}, nil
}

// UseState checks the returned state parameter against the state cookie.
func UseState(opts *core.Options, param string, cookies map[string]string) (*StatePayload, cookie.Cookie, error) {
	def := opts.Cookies.State
	cleared := def.Clear()
	raw := cookies[def.Name]
	if raw == "" {
		return nil, cleared, invalidCheck("state cookie was missing")
	}
	if param == "" || subtle.ConstantTimeCompare([]byte(raw), []byte(param)) != 1 {
		return nil, cleared, invalidCheck("state value did not match")
	}
	payload, err := DecodeState(opts, raw)
	if err != nil {
		return nil, cleared, core.WrapAuthError(core.TypeInvalidCheck, err, "state value could not be parsed")
	}
	return payload, cleared, nil
}

// CreatePKCE returns the S256 code challenge and the verifier cookie.
func CreatePKCE(opts *core.Options) (string, cookie.Cookie, error) {
	verifier := oauth2.GenerateVerifier()
	def := opts.Cookies.PKCECodeVerifier
	value, err := seal(opts, def, jwt.Claims{"value": verifier})
	if err != nil {
		return "", cookie.Cookie{}, fmt.Errorf("failed to seal code verifier: %w", err)
	}
	return oauth2.S256ChallengeFromVerifier(verifier), def.New(value), nil
}

func UsePKCE(opts *core.Options, cookies map[string]string) (string, cookie.Cookie, error) {
	claims, cleared, err := use(opts, opts.Cookies.PKCECodeVerifier, cookies, "PKCE code_verifier")
	if err != nil {
		return "", cleared, err
	}
	return claims.String("value"), cleared, nil
}

func CreateNonce(opts *core.Options) (string, cookie.Cookie, error) {
	nonce, err := crypto.RandomString(crypto.DefaultTokenLength)
	if err != nil {
		return "", cookie.Cookie{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	def := opts.Cookies.Nonce
	value, err := seal(opts, def, jwt.Claims{"value": nonce})
	if err != nil {
		return "", cookie.Cookie{}, fmt.Errorf("failed to seal nonce: %w", err)
	}
	return nonce, def.New(value), nil
}

func UseNonce(opts *core.Options, cookies map[string]string) (string, cookie.Cookie, error) {
	claims, cleared, err := use(opts, opts.Cookies.Nonce, cookies, "nonce")
	if err != nil {
		return "", cleared, err
	}
	return claims.String("value"), cleared, nil
}

// CreateWebAuthnChallenge seals a challenge, and for registrations the
// user being registered, into the challenge cookie.
func CreateWebAuthnChallenge(opts *core.Options, challenge string, registerData *core.User) (cookie.Cookie, error) {
	claims := jwt.Claims{"challenge": challenge}
	if registerData != nil {
		b, err := json.Marshal(registerData)
		if err != nil {
			return cookie.Cookie{}, fmt.Errorf("failed to encode registration data: %w", err)
		}
		claims["registerData"] = string(b)
	}
	def := opts.Cookies.WebAuthnChallenge
	value, err := seal(opts, def, claims)
	if err != nil {
		return cookie.Cookie{}, fmt.Errorf("failed to seal challenge: %w", err)
	}
	return def.New(value), nil
}

func UseWebAuthnChallenge(opts *core.Options, cookies map[string]string) (string, *core.User, cookie.Cookie, error) {
	claims, cleared, err := use(opts, opts.Cookies.WebAuthnChallenge, cookies, "challenge")
	if err != nil {
		return "", nil, cleared, err
	}

	var user *core.User
	if raw := claims.String("registerData"); raw != "" {
		user = &core.User{}
		if err := json.Unmarshal([]byte(raw), user); err != nil {
			return "", nil, cleared, core.WrapAuthError(core.TypeInvalidCheck, err, "registration data could not be parsed")
		}
	}
	return claims.String("challenge"), user, cleared, nil
}

// crossSite relaxes a check cookie so it survives a cross-site form post.
func crossSite(c cookie.Cookie) cookie.Cookie {
	c.Options.SameSite = http.SameSiteNoneMode
	c.Options.Secure = true
	return c
}

var errMissingProvider = errors.New("request has no OAuth provider")
