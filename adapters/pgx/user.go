package pgx

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lborres/gatehouse/core"
)

const userColumns = `u.id, u.name, u.email, u.email_verified, u.image`

func scanUser(row pgx.Row) (*core.User, error) {
	user := &core.User{}
	var name, email, image *string
	err := row.Scan(&user.ID, &name, &email, &user.EmailVerified, &image)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.Name, user.Email, user.Image = deref(name), deref(email), deref(image)
	return user, nil
}

func (a *Adapter) CreateUser(ctx context.Context, user *core.User) (*core.User, error) {
	id := text(user.ID)
	query := `INSERT INTO users AS u (id, name, email, email_verified, image)
	          VALUES (COALESCE($1, gen_random_uuid()::text), $2, $3, $4, $5)
	          RETURNING ` + userColumns

	return scanUser(a.pool.QueryRow(ctx, query,
		id, text(user.Name), text(user.Email), user.EmailVerified, text(user.Image),
	))
}

func (a *Adapter) GetUser(ctx context.Context, id string) (*core.User, error) {
	q := `SELECT ` + userColumns + ` FROM users u WHERE u.id = $1`
	return scanUser(a.pool.QueryRow(ctx, q, id))
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	q := `SELECT ` + userColumns + ` FROM users u WHERE lower(u.email) = lower($1)`
	return scanUser(a.pool.QueryRow(ctx, q, email))
}

func (a *Adapter) GetUserByAccount(ctx context.Context, key core.AccountKey) (*core.User, error) {
	q := `SELECT ` + userColumns + `
	      FROM users u JOIN accounts acc ON acc.user_id = u.id
	      WHERE acc.provider = $1 AND acc.provider_account_id = $2`
	return scanUser(a.pool.QueryRow(ctx, q, key.Provider, key.ProviderAccountID))
}

// UpdateUser writes the non-zero fields of user.
func (a *Adapter) UpdateUser(ctx context.Context, user *core.User) (*core.User, error) {
	query := `UPDATE users AS u SET
	            name = COALESCE($2, u.name),
	            email = COALESCE($3, u.email),
	            email_verified = COALESCE($4, u.email_verified),
	            image = COALESCE($5, u.image)
	          WHERE u.id = $1
	          RETURNING ` + userColumns

	updated, err := scanUser(a.pool.QueryRow(ctx, query,
		user.ID, text(user.Name), text(user.Email), user.EmailVerified, text(user.Image),
	))
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrNotFound
	}
	return updated, nil
}

// DeleteUser removes the user; accounts, sessions and authenticators
// cascade.
func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}
