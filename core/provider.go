package core

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
)

type ProviderType string

const (
	ProviderOAuth       ProviderType = "oauth"
	ProviderOIDC        ProviderType = "oidc"
	ProviderEmail       ProviderType = "email"
	ProviderCredentials ProviderType = "credentials"
	ProviderWebAuthn    ProviderType = "webauthn"
)

type Check string

const (
	CheckPKCE  Check = "pkce"
	CheckState Check = "state"
	CheckNonce Check = "nonce"
)

// Provider is implemented only by the provider types of this package:
// *OAuthProvider, *EmailProvider, *CredentialsProvider and *WebAuthnProvider.
type Provider interface {
	ProviderID() string
	ProviderName() string
	ProviderType() ProviderType
	isProvider()
}

type OAuthProvider struct {
	ID   string
	Name string
	// Type is ProviderOAuth or ProviderOIDC.
	Type ProviderType

	ClientID     string
	ClientSecret string
	// ClientAuthMethod is client_secret_basic (default), client_secret_post or none.
	ClientAuthMethod string

	// Issuer enables discovery of every endpoint not set explicitly.
	Issuer string
	// WellKnown overrides the discovery document URL.
	WellKnown string
	// JWKSURL verifies ID tokens of OIDC providers without an issuer.
	JWKSURL string

	Authorization Endpoint
	Token         TokenEndpoint
	Userinfo      UserinfoEndpoint

	// Checks defaults to pkce.
	Checks []Check
	// FetchUserinfo makes an OIDC provider call the userinfo endpoint
	// instead of trusting the ID token claims.
	FetchUserinfo bool
	// IDToken makes a plain OAuth provider read the profile from the ID token.
	IDToken bool

	Profile ProfileFunc
	Conform ConformFunc

	AllowDangerousEmailAccountLinking bool
	RedirectProxyURL                  string
}

func (p *OAuthProvider) ProviderID() string         { return p.ID }
func (p *OAuthProvider) ProviderName() string       { return p.Name }
func (p *OAuthProvider) ProviderType() ProviderType { return p.Type }
func (*OAuthProvider) isProvider()                  {}

// DeclaredChecks returns the configured checks. A redirect proxy always
// needs state to carry the origin.
func (p *OAuthProvider) DeclaredChecks(redirectProxyURL string) []Check {
	checks := p.Checks
	if checks == nil {
		checks = []Check{CheckPKCE}
	}
	checks = slices.Clone(checks)
	if (p.RedirectProxyURL != "" || redirectProxyURL != "") && !slices.Contains(checks, CheckState) {
		checks = append(checks, CheckState)
	}
	return checks
}

// UsesIDToken reports whether the profile comes from ID token claims.
func (p *OAuthProvider) UsesIDToken() bool {
	if p.Type == ProviderOIDC {
		return !p.FetchUserinfo
	}
	return p.IDToken
}

// VerificationRequest is handed to EmailProvider.SendVerificationRequest.
type VerificationRequest struct {
	Identifier string
	URL        string
	Expires    time.Time
	Token      string
	Provider   *EmailProvider
}

type EmailProvider struct {
	ID   string
	Name string
	From string
	// MaxAge of the verification token, 24 hours by default.
	MaxAge time.Duration

	SendVerificationRequest   func(ctx context.Context, r VerificationRequest) error
	GenerateVerificationToken func() (string, error)
	// NormalizeIdentifier replaces the default lowercase and trim rules.
	NormalizeIdentifier func(identifier string) (string, error)
}

func (p *EmailProvider) ProviderID() string       { return p.ID }
func (p *EmailProvider) ProviderName() string     { return p.Name }
func (*EmailProvider) ProviderType() ProviderType { return ProviderEmail }
func (*EmailProvider) isProvider()                {}

type CredentialField struct {
	Label       string `json:"label,omitempty"`
	Type        string `json:"type,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// AuthorizeFunc validates submitted credentials. A nil user rejects the
// sign-in; so does returning CredentialsSignin with a custom code.
type AuthorizeFunc func(ctx context.Context, credentials map[string]string, req *Request) (*User, error)

type CredentialsProvider struct {
	ID          string
	Name        string
	Credentials map[string]CredentialField
	Authorize   AuthorizeFunc
}

func (p *CredentialsProvider) ProviderID() string       { return p.ID }
func (p *CredentialsProvider) ProviderName() string     { return p.Name }
func (*CredentialsProvider) ProviderType() ProviderType { return ProviderCredentials }
func (*CredentialsProvider) isProvider()                {}

type WebAuthnAction string

const (
	WebAuthnRegister     WebAuthnAction = "register"
	WebAuthnAuthenticate WebAuthnAction = "authenticate"
)

type RelyingParty struct {
	ID     string
	Name   string
	Origin string
}

type WebAuthnVerifyInput struct {
	Action       WebAuthnAction
	Challenge    string
	Response     json.RawMessage
	RelyingParty RelyingParty
	// Authenticator is the stored credential when authenticating.
	Authenticator *Authenticator
}

type WebAuthnVerification struct {
	Verified     bool
	CredentialID string
	PublicKey    string
	Counter      int64
	DeviceType   string
	BackedUp     bool
	Transports   []string
}

type WebAuthnProvider struct {
	ID           string
	Name         string
	RelyingParty RelyingParty
	Timeout      time.Duration
	// Verify checks an attestation or assertion against the challenge.
	Verify func(ctx context.Context, in WebAuthnVerifyInput) (*WebAuthnVerification, error)
}

func (p *WebAuthnProvider) ProviderID() string       { return p.ID }
func (p *WebAuthnProvider) ProviderName() string     { return p.Name }
func (*WebAuthnProvider) ProviderType() ProviderType { return ProviderWebAuthn }
func (*WebAuthnProvider) isProvider()                {}

// DefaultProfile maps standard OIDC claims.
func DefaultProfile(profile Profile, _ TokenSet) (*User, error) {
	id := ProfileString(profile, "sub")
	if id == "" {
		id = ProfileString(profile, "id")
	}
	if id == "" {
		return nil, fmt.Errorf("profile has no sub or id claim")
	}

	name := ProfileString(profile, "name")
	if name == "" {
		name = ProfileString(profile, "nickname")
	}
	if name == "" {
		name = ProfileString(profile, "preferred_username")
	}

	return &User{
		ID:    id,
		Name:  name,
		Email: ProfileString(profile, "email"),
		Image: ProfileString(profile, "picture"),
	}, nil
}

// ProfileString reads a string or numeric claim as a string.
func ProfileString(profile Profile, key string) string {
	switch v := profile[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// FindProvider returns the provider with the given id.
func FindProvider(providers []Provider, id string) (Provider, bool) {
	for _, p := range providers {
		if p.ProviderID() == id {
			return p, true
		}
	}
	return nil, false
}
