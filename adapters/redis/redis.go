// Package redis stores users, accounts, sessions, verification tokens and
// WebAuthn authenticators in Redis as JSON values.
//
// Key layout, relative to the prefix:
//
//	user:{id}                    user
//	email:{lowercased email}     user id
//	account:{provider}:{id}      account
//	session:{token}              session, expiring with the session
//	vt:{identifier}:{token}      verification token, expiring with the token
//	authenticator:{credentialID} authenticator
//	user:{id}:accounts           set of account keys
//	user:{id}:sessions           set of session keys
//	user:{id}:authenticators     set of authenticator keys
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lborres/gatehouse/core"
)

const DefaultKeyPrefix = "gatehouse:"

var (
	ErrNotFound   = errors.New("redis: record not found")
	ErrEmailTaken = errors.New("redis: email already belongs to another user")
)

type Adapter struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ core.FullAdapter          = (*Adapter)(nil)
	_ core.AuthenticatorStorage = (*Adapter)(nil)
)

// New wraps client. An empty prefix means DefaultKeyPrefix.
func New(client redis.UniversalClient, prefix string) *Adapter {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Adapter{
		client: client,
		prefix: prefix,
	}
}

func (a *Adapter) userKey(id string) string { return a.prefix + "user:" + id }

func (a *Adapter) emailKey(email string) string {
	return a.prefix + "email:" + strings.ToLower(email)
}

func (a *Adapter) accountKey(key core.AccountKey) string {
	return a.prefix + "account:" + key.Provider + ":" + key.ProviderAccountID
}

func (a *Adapter) sessionKey(token string) string { return a.prefix + "session:" + token }

func (a *Adapter) tokenKey(identifier, token string) string {
	return a.prefix + "vt:" + identifier + ":" + token
}

func (a *Adapter) authenticatorKey(credentialID string) string {
	return a.prefix + "authenticator:" + credentialID
}

func (a *Adapter) indexKey(userID, kind string) string {
	return a.userKey(userID) + ":" + kind
}

// getJSON decodes key into v. found is false when the key does not exist.
func (a *Adapter) getJSON(ctx context.Context, key string, v any) (found bool, err error) {
	raw, err := a.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// ttlUntil converts an absolute expiry to a key TTL. Expiries already in
// the past keep the key for a millisecond so the write itself succeeds.
func ttlUntil(expires time.Time) time.Duration {
	if expires.IsZero() {
		return 0
	}
	if ttl := time.Until(expires); ttl > time.Millisecond {
		return ttl
	}
	return time.Millisecond
}
