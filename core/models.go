package core

import "time"

// User is the canonical identity produced by a provider's profile mapping.
type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Email         string     `json:"email,omitempty"`
	Image         string     `json:"image,omitempty"`
	EmailVerified *time.Time `json:"emailVerified,omitempty"`
	// Extra carries provider specific profile fields.
	Extra map[string]any `json:"-"`
}

// AccountKey identifies one provider identity.
type AccountKey struct {
	Provider          string
	ProviderAccountID string
}

// Account links a User to one provider identity. There is at most one
// Account per AccountKey.
type Account struct {
	UserID            string       `json:"userId"`
	Type              ProviderType `json:"type"`
	Provider          string       `json:"provider"`
	ProviderAccountID string       `json:"providerAccountId"`
	AccessToken       string       `json:"-"`
	RefreshToken      string       `json:"-"`
	IDToken           string       `json:"-"`
	TokenType         string       `json:"token_type,omitempty"`
	Scope             string       `json:"scope,omitempty"`
	// ExpiresAt is a unix timestamp in seconds, zero when unknown.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

func (a *Account) Key() AccountKey {
	return AccountKey{Provider: a.Provider, ProviderAccountID: a.ProviderAccountID}
}

// Session is a database-backed session row.
type Session struct {
	SessionToken string    `json:"sessionToken"`
	UserID       string    `json:"userId"`
	Expires      time.Time `json:"expires"`
}

type SessionAndUser struct {
	Session *Session `json:"session"`
	User    *User    `json:"user"`
}

// VerificationToken is a single-use email sign-in token. Token holds the
// hash of the value mailed to the user, never the value itself.
type VerificationToken struct {
	Identifier string    `json:"identifier"`
	Token      string    `json:"token"`
	Expires    time.Time `json:"expires"`
}

// Authenticator is a registered WebAuthn credential.
type Authenticator struct {
	CredentialID         string `json:"credentialID"`
	UserID               string `json:"userId"`
	ProviderAccountID    string `json:"providerAccountId"`
	CredentialPublicKey  string `json:"credentialPublicKey"`
	Counter              int64  `json:"counter"`
	CredentialDeviceType string `json:"credentialDeviceType"`
	CredentialBackedUp   bool   `json:"credentialBackedUp"`
	Transports           string `json:"transports,omitempty"`
}
