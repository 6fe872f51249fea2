package pgx

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lborres/gatehouse/core"
)

const accountColumns = `user_id, type, provider, provider_account_id, access_token, refresh_token, id_token, token_type, scope, expires_at`

func scanAccount(row pgx.Row) (*core.Account, error) {
	acc := &core.Account{}
	var accessToken, refreshToken, idToken, tokenType, scope *string
	err := row.Scan(
		&acc.UserID, &acc.Type, &acc.Provider, &acc.ProviderAccountID,
		&accessToken, &refreshToken, &idToken, &tokenType, &scope, &acc.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	acc.AccessToken, acc.RefreshToken, acc.IDToken = deref(accessToken), deref(refreshToken), deref(idToken)
	acc.TokenType, acc.Scope = deref(tokenType), deref(scope)
	return acc, nil
}

// LinkAccount inserts the account unless (provider, provider_account_id)
// is taken, then returns the stored row. ON CONFLICT waits for a
// concurrent insert to commit, so the row read back is the winner's.
func (a *Adapter) LinkAccount(ctx context.Context, acc *core.Account) (*core.Account, error) {
	query := `INSERT INTO accounts (` + accountColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (provider, provider_account_id) DO NOTHING`

	_, err := a.pool.Exec(ctx, query,
		acc.UserID, acc.Type, acc.Provider, acc.ProviderAccountID,
		text(acc.AccessToken), text(acc.RefreshToken), text(acc.IDToken), text(acc.TokenType), text(acc.Scope), acc.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	stored, err := a.GetAccount(ctx, acc.ProviderAccountID, acc.Provider)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrNotFound
	}
	return stored, nil
}

func (a *Adapter) UnlinkAccount(ctx context.Context, key core.AccountKey) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM accounts WHERE provider = $1 AND provider_account_id = $2`,
		key.Provider, key.ProviderAccountID)
	return err
}

func (a *Adapter) GetAccount(ctx context.Context, providerAccountID, provider string) (*core.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE provider = $1 AND provider_account_id = $2`
	return scanAccount(a.pool.QueryRow(ctx, query, provider, providerAccountID))
}
