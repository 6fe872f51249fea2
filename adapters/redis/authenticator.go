package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/lborres/gatehouse/core"
)

func (a *Adapter) CreateAuthenticator(ctx context.Context, auth *core.Authenticator) (*core.Authenticator, error) {
	data, err := json.Marshal(auth)
	if err != nil {
		return nil, err
	}
	key := a.authenticatorKey(auth.CredentialID)

	pipe := a.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, a.indexKey(auth.UserID, "authenticators"), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	c := *auth
	return &c, nil
}

func (a *Adapter) GetAuthenticator(ctx context.Context, credentialID string) (*core.Authenticator, error) {
	auth := &core.Authenticator{}
	found, err := a.getJSON(ctx, a.authenticatorKey(credentialID), auth)
	if err != nil || !found {
		return nil, err
	}
	return auth, nil
}

func (a *Adapter) ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*core.Authenticator, error) {
	keys, err := a.client.SMembers(ctx, a.indexKey(userID, "authenticators")).Result()
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	values, err := a.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var out []*core.Authenticator
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		auth := &core.Authenticator{}
		if err := json.Unmarshal([]byte(s), auth); err != nil {
			return nil, err
		}
		out = append(out, auth)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CredentialID < out[j].CredentialID })
	return out, nil
}

func (a *Adapter) UpdateAuthenticatorCounter(ctx context.Context, credentialID string, counter int64) (*core.Authenticator, error) {
	key := a.authenticatorKey(credentialID)
	var updated *core.Authenticator

	err := a.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		auth := &core.Authenticator{}
		if err := json.Unmarshal(raw, auth); err != nil {
			return err
		}
		auth.Counter = counter

		data, err := json.Marshal(auth)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err == nil {
			updated = auth
		}
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}
