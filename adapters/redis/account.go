package redis

import (
	"context"
	"encoding/json"

	"github.com/lborres/gatehouse/core"
)

// LinkAccount writes the account with SETNX. When the key is taken the
// stored row is returned instead.
func (a *Adapter) LinkAccount(ctx context.Context, acc *core.Account) (*core.Account, error) {
	key := a.accountKey(acc.Key())
	data, err := json.Marshal(acc)
	if err != nil {
		return nil, err
	}

	created, err := a.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return nil, err
	}
	if created {
		if err := a.client.SAdd(ctx, a.indexKey(acc.UserID, "accounts"), key).Err(); err != nil {
			return nil, err
		}
		c := *acc
		return &c, nil
	}

	stored := &core.Account{}
	found, err := a.getJSON(ctx, key, stored)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return stored, nil
}

func (a *Adapter) UnlinkAccount(ctx context.Context, key core.AccountKey) error {
	stored := &core.Account{}
	found, err := a.getJSON(ctx, a.accountKey(key), stored)
	if err != nil || !found {
		return err
	}

	pipe := a.client.TxPipeline()
	pipe.Del(ctx, a.accountKey(key))
	pipe.SRem(ctx, a.indexKey(stored.UserID, "accounts"), a.accountKey(key))
	_, err = pipe.Exec(ctx)
	return err
}

func (a *Adapter) GetAccount(ctx context.Context, providerAccountID, provider string) (*core.Account, error) {
	acc := &core.Account{}
	found, err := a.getJSON(ctx, a.accountKey(core.AccountKey{Provider: provider, ProviderAccountID: providerAccountID}), acc)
	if err != nil || !found {
		return nil, err
	}
	return acc, nil
}
