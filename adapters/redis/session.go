package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/lborres/gatehouse/core"
)

func (a *Adapter) CreateSession(ctx context.Context, s *core.Session) (*core.Session, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	key := a.sessionKey(s.SessionToken)

	pipe := a.client.TxPipeline()
	pipe.Set(ctx, key, data, ttlUntil(s.Expires))
	pipe.SAdd(ctx, a.indexKey(s.UserID, "sessions"), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	c := *s
	return &c, nil
}

func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*core.SessionAndUser, error) {
	s := &core.Session{}
	found, err := a.getJSON(ctx, a.sessionKey(sessionToken), s)
	if err != nil || !found {
		return nil, err
	}
	u, err := a.GetUser(ctx, s.UserID)
	if err != nil || u == nil {
		return nil, err
	}
	return &core.SessionAndUser{Session: s, User: u}, nil
}

// UpdateSession moves the expiry and the key TTL with it. It returns nil
// when the session is gone.
func (a *Adapter) UpdateSession(ctx context.Context, s *core.Session) (*core.Session, error) {
	stored := &core.Session{}
	found, err := a.getJSON(ctx, a.sessionKey(s.SessionToken), stored)
	if err != nil || !found {
		return nil, err
	}
	if !s.Expires.IsZero() {
		stored.Expires = s.Expires
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	if err := a.client.Set(ctx, a.sessionKey(s.SessionToken), data, ttlUntil(stored.Expires)).Err(); err != nil {
		return nil, err
	}
	return stored, nil
}

func (a *Adapter) DeleteSession(ctx context.Context, sessionToken string) error {
	return a.client.Del(ctx, a.sessionKey(sessionToken)).Err()
}

func (a *Adapter) CreateVerificationToken(ctx context.Context, t *core.VerificationToken) (*core.VerificationToken, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	if err := a.client.Set(ctx, a.tokenKey(t.Identifier, t.Token), data, ttlUntil(t.Expires)).Err(); err != nil {
		return nil, err
	}
	c := *t
	return &c, nil
}

// UseVerificationToken reads and deletes the token with GETDEL.
func (a *Adapter) UseVerificationToken(ctx context.Context, identifier, token string) (*core.VerificationToken, error) {
	raw, err := a.client.GetDel(ctx, a.tokenKey(identifier, token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	vt := &core.VerificationToken{}
	if err := json.Unmarshal(raw, vt); err != nil {
		return nil, err
	}
	return vt, nil
}
