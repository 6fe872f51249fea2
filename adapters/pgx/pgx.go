// Package pgx stores users, accounts, sessions, verification tokens and
// WebAuthn authenticators in PostgreSQL.
package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lborres/gatehouse/core"
)

// Schema is the reference DDL. Migrate applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name           TEXT,
	email          TEXT UNIQUE,
	email_verified TIMESTAMPTZ,
	image          TEXT
);

CREATE TABLE IF NOT EXISTS accounts (
	user_id             TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	type                TEXT NOT NULL,
	provider            TEXT NOT NULL,
	provider_account_id TEXT NOT NULL,
	access_token        TEXT,
	refresh_token       TEXT,
	id_token            TEXT,
	token_type          TEXT,
	scope               TEXT,
	expires_at          BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (provider, provider_account_id)
);

CREATE TABLE IF NOT EXISTS sessions (
	session_token TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS verification_tokens (
	identifier TEXT NOT NULL,
	token      TEXT NOT NULL,
	expires    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (identifier, token)
);

CREATE TABLE IF NOT EXISTS authenticators (
	credential_id          TEXT PRIMARY KEY,
	user_id                TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider_account_id    TEXT NOT NULL,
	credential_public_key  TEXT NOT NULL,
	counter                BIGINT NOT NULL DEFAULT 0,
	credential_device_type TEXT NOT NULL DEFAULT '',
	credential_backed_up   BOOLEAN NOT NULL DEFAULT false,
	transports             TEXT
);
`

// ErrNotFound is returned by updates of rows that do not exist.
var ErrNotFound = errors.New("record not found")

type Adapter struct {
	pool *pgxpool.Pool
}

var (
	_ core.FullAdapter          = (*Adapter)(nil)
	_ core.AuthenticatorStorage = (*Adapter)(nil)
)

func New(pool *pgxpool.Pool) *Adapter {
	return &Adapter{
		pool: pool,
	}
}

// Migrate creates the tables when they do not exist.
func (a *Adapter) Migrate(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// text maps the empty string to NULL.
func text(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
