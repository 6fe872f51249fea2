package pgx

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lborres/gatehouse/core"
)

func scanSession(row pgx.Row) (*core.Session, error) {
	s := &core.Session{}
	if err := row.Scan(&s.SessionToken, &s.UserID, &s.Expires); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (a *Adapter) CreateSession(ctx context.Context, session *core.Session) (*core.Session, error) {
	query := `INSERT INTO sessions (session_token, user_id, expires) VALUES ($1, $2, $3)
	          RETURNING session_token, user_id, expires`
	return scanSession(a.pool.QueryRow(ctx, query, session.SessionToken, session.UserID, session.Expires))
}

func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*core.SessionAndUser, error) {
	query := `SELECT s.session_token, s.user_id, s.expires, ` + userColumns + `
	          FROM sessions s JOIN users u ON u.id = s.user_id
	          WHERE s.session_token = $1`

	s := &core.Session{}
	user := &core.User{}
	var name, email, image *string
	err := a.pool.QueryRow(ctx, query, sessionToken).Scan(
		&s.SessionToken, &s.UserID, &s.Expires,
		&user.ID, &name, &email, &user.EmailVerified, &image,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.Name, user.Email, user.Image = deref(name), deref(email), deref(image)
	return &core.SessionAndUser{Session: s, User: user}, nil
}

// UpdateSession moves the expiry. It returns nil when the session is gone.
func (a *Adapter) UpdateSession(ctx context.Context, session *core.Session) (*core.Session, error) {
	query := `UPDATE sessions SET expires = $2 WHERE session_token = $1
	          RETURNING session_token, user_id, expires`
	return scanSession(a.pool.QueryRow(ctx, query, session.SessionToken, session.Expires))
}

func (a *Adapter) DeleteSession(ctx context.Context, sessionToken string) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM sessions WHERE session_token = $1`, sessionToken)
	return err
}

func (a *Adapter) CreateVerificationToken(ctx context.Context, t *core.VerificationToken) (*core.VerificationToken, error) {
	query := `INSERT INTO verification_tokens (identifier, token, expires) VALUES ($1, $2, $3)`
	if _, err := a.pool.Exec(ctx, query, t.Identifier, t.Token, t.Expires); err != nil {
		return nil, err
	}
	c := *t
	return &c, nil
}

// UseVerificationToken deletes and returns the token in one statement, so
// only one caller can use it.
func (a *Adapter) UseVerificationToken(ctx context.Context, identifier, token string) (*core.VerificationToken, error) {
	query := `DELETE FROM verification_tokens WHERE identifier = $1 AND token = $2
	          RETURNING identifier, token, expires`

	vt := &core.VerificationToken{}
	err := a.pool.QueryRow(ctx, query, identifier, token).Scan(&vt.Identifier, &vt.Token, &vt.Expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return vt, nil
}
