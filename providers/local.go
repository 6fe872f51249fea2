package providers

import (
	"context"
	"time"

	"github.com/lborres/gatehouse/core"
)

const (
	DefaultEmailMaxAge     = 24 * time.Hour
	DefaultWebAuthnTimeout = 5 * time.Minute
)

// Credentials returns a username and password style provider.
func Credentials(authorize core.AuthorizeFunc, fields map[string]core.CredentialField) *core.CredentialsProvider {
	if fields == nil {
		fields = map[string]core.CredentialField{
			"email":    {Label: "Email", Type: "email"},
			"password": {Label: "Password", Type: "password"},
		}
	}
	return &core.CredentialsProvider{
		ID:          "credentials",
		Name:        "Credentials",
		Credentials: fields,
		Authorize:   authorize,
	}
}

// Email returns a magic link provider that hands each link to send.
func Email(from string, send func(ctx context.Context, r core.VerificationRequest) error) *core.EmailProvider {
	return &core.EmailProvider{
		ID:                      "email",
		Name:                    "Email",
		From:                    from,
		MaxAge:                  DefaultEmailMaxAge,
		SendVerificationRequest: send,
	}
}

// Passkey returns a WebAuthn provider. verify checks attestations and
// assertions, typically with a WebAuthn server library.
func Passkey(rp core.RelyingParty, verify func(ctx context.Context, in core.WebAuthnVerifyInput) (*core.WebAuthnVerification, error)) *core.WebAuthnProvider {
	return &core.WebAuthnProvider{
		ID:           "passkey",
		Name:         "Passkey",
		RelyingParty: rp,
		Timeout:      DefaultWebAuthnTimeout,
		Verify:       verify,
	}
}
