package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lborres/gatehouse/core"
)

// CreateUser claims the email index before writing the user, so two users
// never share an email.
func (a *Adapter) CreateUser(ctx context.Context, u *core.User) (*core.User, error) {
	stored := *u
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	if stored.Email != "" {
		ok, err := a.client.SetNX(ctx, a.emailKey(stored.Email), stored.ID, 0).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrEmailTaken
		}
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, err
	}
	if err := a.client.Set(ctx, a.userKey(stored.ID), data, 0).Err(); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (a *Adapter) GetUser(ctx context.Context, id string) (*core.User, error) {
	u := &core.User{}
	found, err := a.getJSON(ctx, a.userKey(id), u)
	if err != nil || !found {
		return nil, err
	}
	return u, nil
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	id, err := a.client.Get(ctx, a.emailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a.GetUser(ctx, id)
}

func (a *Adapter) GetUserByAccount(ctx context.Context, key core.AccountKey) (*core.User, error) {
	acc := &core.Account{}
	found, err := a.getJSON(ctx, a.accountKey(key), acc)
	if err != nil || !found {
		return nil, err
	}
	return a.GetUser(ctx, acc.UserID)
}

// UpdateUser merges the non-zero fields of u inside a WATCH transaction.
func (a *Adapter) UpdateUser(ctx context.Context, u *core.User) (*core.User, error) {
	key := a.userKey(u.ID)
	var updated *core.User

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		stored := &core.User{}
		if err := json.Unmarshal(raw, stored); err != nil {
			return err
		}

		oldEmail := stored.Email
		if u.Name != "" {
			stored.Name = u.Name
		}
		if u.Email != "" {
			stored.Email = u.Email
		}
		if u.Image != "" {
			stored.Image = u.Image
		}
		if u.EmailVerified != nil {
			t := *u.EmailVerified
			stored.EmailVerified = &t
		}

		emailChanged := a.emailKey(oldEmail) != a.emailKey(stored.Email)
		if emailChanged {
			ok, err := tx.SetNX(ctx, a.emailKey(stored.Email), stored.ID, 0).Result()
			if err != nil {
				return err
			}
			if !ok {
				return ErrEmailTaken
			}
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if emailChanged && oldEmail != "" {
				pipe.Del(ctx, a.emailKey(oldEmail))
			}
			return nil
		})
		if err == nil {
			updated = stored
		}
		return err
	}

	if err := a.client.Watch(ctx, txf, key); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteUser removes the user with its email index, accounts, sessions and
// authenticators.
func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	u, err := a.GetUser(ctx, id)
	if err != nil || u == nil {
		return err
	}

	keys := []string{a.userKey(id)}
	if u.Email != "" {
		keys = append(keys, a.emailKey(u.Email))
	}
	for _, kind := range []string{"accounts", "sessions", "authenticators"} {
		index := a.indexKey(id, kind)
		members, err := a.client.SMembers(ctx, index).Result()
		if err != nil {
			return err
		}
		keys = append(keys, members...)
		keys = append(keys, index)
	}
	return a.client.Del(ctx, keys...).Err()
}
