package pgx

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lborres/gatehouse/core"
)

const authenticatorColumns = `credential_id, user_id, provider_account_id, credential_public_key, counter, credential_device_type, credential_backed_up, transports`

func scanAuthenticator(row pgx.Row) (*core.Authenticator, error) {
	auth := &core.Authenticator{}
	var transports *string
	err := row.Scan(
		&auth.CredentialID, &auth.UserID, &auth.ProviderAccountID, &auth.CredentialPublicKey,
		&auth.Counter, &auth.CredentialDeviceType, &auth.CredentialBackedUp, &transports,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	auth.Transports = deref(transports)
	return auth, nil
}

func (a *Adapter) CreateAuthenticator(ctx context.Context, auth *core.Authenticator) (*core.Authenticator, error) {
	query := `INSERT INTO authenticators (` + authenticatorColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING ` + authenticatorColumns

	return scanAuthenticator(a.pool.QueryRow(ctx, query,
		auth.CredentialID, auth.UserID, auth.ProviderAccountID, auth.CredentialPublicKey,
		auth.Counter, auth.CredentialDeviceType, auth.CredentialBackedUp, text(auth.Transports),
	))
}

func (a *Adapter) GetAuthenticator(ctx context.Context, credentialID string) (*core.Authenticator, error) {
	query := `SELECT ` + authenticatorColumns + ` FROM authenticators WHERE credential_id = $1`
	return scanAuthenticator(a.pool.QueryRow(ctx, query, credentialID))
}

func (a *Adapter) ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*core.Authenticator, error) {
	query := `SELECT ` + authenticatorColumns + ` FROM authenticators WHERE user_id = $1 ORDER BY credential_id`

	rows, err := a.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Authenticator
	for rows.Next() {
		auth, err := scanAuthenticator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, auth)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (a *Adapter) UpdateAuthenticatorCounter(ctx context.Context, credentialID string, counter int64) (*core.Authenticator, error) {
	query := `UPDATE authenticators SET counter = $2 WHERE credential_id = $1 RETURNING ` + authenticatorColumns

	auth, err := scanAuthenticator(a.pool.QueryRow(ctx, query, credentialID, counter))
	if err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, ErrNotFound
	}
	return auth, nil
}
