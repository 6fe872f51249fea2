package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lborres/gatehouse/core"
)

const (
	relinkAttempts = 5
	relinkBackoff  = 20 * time.Millisecond
)

type loginResult struct {
	User      *core.User
	Account   *core.Account
	Session   *core.Session
	IsNewUser bool
}

// loginOrRegister resolves the signed-in user for a verified identity,
// creating the user and linking the account where needed. Without an
// adapter the profile user is returned as is.
func (h *Handler) loginOrRegister(ctx context.Context, opts *core.Options, sessionToken string, profile *core.User, account *core.Account) (*loginResult, error) {
	if h.cfg.Adapter == nil {
		return &loginResult{User: profile, Account: account}, nil
	}
	users, ok := h.cfg.Adapter.(core.UserStorage)
	if !ok {
		return nil, core.NewAuthError(core.TypeMissingAdapterMethods, "adapter does not implement UserStorage")
	}

	current, err := h.sessions.Current(ctx, opts, sessionToken)
	if err != nil {
		return nil, err
	}
	var currentUser *core.User
	if current != nil {
		currentUser = current.User
	}

	var res *loginResult
	switch account.Type {
	case core.ProviderEmail:
		res, err = h.loginEmail(ctx, users, profile, account)
	case core.ProviderWebAuthn:
		res, err = h.loginWebAuthn(ctx, users, currentUser, profile, account)
	default:
		res, err = h.loginOAuth(ctx, opts, users, currentUser, profile, account)
	}
	if err != nil {
		return nil, err
	}
	res.Account = account

	if h.sessions.useJWT() {
		return res, nil
	}
	if current != nil && current.Session != nil && current.Session.UserID != res.User.ID {
		if err := h.sessions.storage.DeleteSession(ctx, current.Session.SessionToken); err != nil {
			return nil, adapterError(err, "failed to delete previous session")
		}
		current = nil
	}
	if current != nil && current.Session != nil {
		res.Session = current.Session
		return res, nil
	}
	res.Session, err = h.sessions.Create(ctx, res.User.ID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (h *Handler) loginEmail(ctx context.Context, users core.UserStorage, profile *core.User, account *core.Account) (*loginResult, error) {
	existing, err := users.GetUserByEmail(ctx, profile.Email)
	if err != nil {
		return nil, adapterError(err, "failed to look up user by email")
	}

	verified := timeNow()
	if existing != nil {
		updated, err := users.UpdateUser(ctx, &core.User{ID: existing.ID, EmailVerified: &verified})
		if err != nil {
			return nil, adapterError(err, "failed to mark email verified")
		}
		h.sessions.userChanged(updated.ID)
		if h.cfg.Events.UpdateUser != nil {
			h.emit("updateUser", func() error { return h.cfg.Events.UpdateUser(ctx, updated) })
		}
		account.UserID = updated.ID
		return &loginResult{User: updated}, nil
	}

	created, err := users.CreateUser(ctx, &core.User{
		Email:         profile.Email,
		Name:          profile.Name,
		Image:         profile.Image,
		EmailVerified: &verified,
	})
	if err != nil {
		return nil, adapterError(err, "failed to create user")
	}
	if h.cfg.Events.CreateUser != nil {
		h.emit("createUser", func() error { return h.cfg.Events.CreateUser(ctx, created) })
	}
	account.UserID = created.ID
	return &loginResult{User: created, IsNewUser: true}, nil
}

func (h *Handler) loginWebAuthn(ctx context.Context, users core.UserStorage, currentUser, profile *core.User, account *core.Account) (*loginResult, error) {
	byAccount, err := users.GetUserByAccount(ctx, account.Key())
	if err != nil {
		return nil, adapterError(err, "failed to look up user by account")
	}
	if byAccount != nil {
		if currentUser != nil && currentUser.ID != byAccount.ID {
			return nil, core.NewAuthError(core.TypeAccountNotLinked, "the account is already associated with another user")
		}
		account.UserID = byAccount.ID
		return &loginResult{User: byAccount}, nil
	}

	res := &loginResult{User: currentUser}
	if currentUser == nil {
		if profile.Email != "" {
			byEmail, err := users.GetUserByEmail(ctx, profile.Email)
			if err != nil {
				return nil, adapterError(err, "failed to look up user by email")
			}
			if byEmail != nil {
				return nil, core.NewAuthError(core.TypeAccountNotLinked, "another account already exists with the same email address")
			}
		}
		created, err := users.CreateUser(ctx, &core.User{Name: profile.Name, Email: profile.Email, Image: profile.Image})
		if err != nil {
			return nil, adapterError(err, "failed to create user")
		}
		res = &loginResult{User: created, IsNewUser: true}
	}
	return h.linkNew(ctx, res, profile, account)
}

func (h *Handler) loginOAuth(ctx context.Context, opts *core.Options, users core.UserStorage, currentUser, profile *core.User, account *core.Account) (*loginResult, error) {
	byAccount, err := users.GetUserByAccount(ctx, account.Key())
	if err != nil {
		return nil, adapterError(err, "failed to look up user by account")
	}
	if byAccount != nil {
		if currentUser != nil && currentUser.ID != byAccount.ID {
			return nil, core.NewAuthError(core.TypeOAuthAccountNotLinked, "the account is already associated with another user")
		}
		account.UserID = byAccount.ID
		return &loginResult{User: byAccount}, nil
	}

	if currentUser != nil {
		return h.link(ctx, &loginResult{User: currentUser}, profile, account)
	}

	if profile.Email != "" {
		byEmail, err := users.GetUserByEmail(ctx, profile.Email)
		if err != nil {
			return nil, adapterError(err, "failed to look up user by email")
		}
		if byEmail != nil {
			p, _ := opts.Provider.(*core.OAuthProvider)
			if p == nil || !p.AllowDangerousEmailAccountLinking {
				return nil, core.NewAuthError(core.TypeOAuthAccountNotLinked, "another account already exists with the same email address")
			}
			return h.link(ctx, &loginResult{User: byEmail}, profile, account)
		}
	}

	created, err := users.CreateUser(ctx, &core.User{
		Name:  profile.Name,
		Email: profile.Email,
		Image: profile.Image,
		Extra: profile.Extra,
	})
	if err != nil {
		if winner := h.linkedUser(ctx, users, account.Key()); winner != nil {
			h.logger.Debug("account linked concurrently, adopting stored user", zap.String("user_id", winner.ID))
			account.UserID = winner.ID
			return &loginResult{User: winner}, nil
		}
		return nil, adapterError(err, "failed to create user")
	}
	return h.linkNew(ctx, &loginResult{User: created, IsNewUser: true}, profile, account)
}

// linkedUser re-reads the account after CreateUser failed. A concurrent
// sign-in for the same identity claims the email before it links the
// account, so the lookup is retried briefly before giving up.
func (h *Handler) linkedUser(ctx context.Context, users core.UserStorage, key core.AccountKey) *core.User {
	for attempt := 1; ; attempt++ {
		u, err := users.GetUserByAccount(ctx, key)
		if err != nil {
			h.logger.Warn("failed to re-read account after create failure", zap.Error(err))
			return nil
		}
		if u != nil || attempt == relinkAttempts {
			return u
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(attempt) * relinkBackoff):
		}
	}
}

// linkNew links the account and, unless a concurrent sign-in won the
// link, reports the user as created.
func (h *Handler) linkNew(ctx context.Context, res *loginResult, profile *core.User, account *core.Account) (*loginResult, error) {
	res, err := h.link(ctx, res, profile, account)
	if err != nil {
		return nil, err
	}
	if res.IsNewUser && h.cfg.Events.CreateUser != nil {
		h.emit("createUser", func() error { return h.cfg.Events.CreateUser(ctx, res.User) })
	}
	return res, nil
}

// link stores the account for res.User. LinkAccount is an upsert, so when
// a concurrent sign-in linked the same identity first the stored row wins:
// its user is adopted and a user created by this request is deleted.
func (h *Handler) link(ctx context.Context, res *loginResult, profile *core.User, account *core.Account) (*loginResult, error) {
	accounts, ok := h.cfg.Adapter.(core.AccountStorage)
	if !ok {
		return nil, core.NewAuthError(core.TypeMissingAdapterMethods, "adapter does not implement AccountStorage")
	}

	account.UserID = res.User.ID
	stored, err := accounts.LinkAccount(ctx, account)
	if err != nil {
		return nil, adapterError(err, "failed to link account")
	}

	if stored != nil && stored.UserID != res.User.ID {
		if !res.IsNewUser {
			return nil, core.NewAuthError(core.TypeOAuthAccountNotLinked, "the account is already associated with another user")
		}
		if err := h.adopt(ctx, res, stored); err != nil {
			return nil, err
		}
		account.UserID = res.User.ID
		return res, nil
	}

	if h.cfg.Events.LinkAccount != nil {
		e := core.LinkAccountEvent{User: res.User, Account: account, Profile: profileOf(profile)}
		h.emit("linkAccount", func() error { return h.cfg.Events.LinkAccount(ctx, e) })
	}
	return res, nil
}

func (h *Handler) adopt(ctx context.Context, res *loginResult, stored *core.Account) error {
	users := h.cfg.Adapter.(core.UserStorage)
	winner, err := users.GetUser(ctx, stored.UserID)
	if err != nil {
		return adapterError(err, "failed to load linked user")
	}
	if winner == nil {
		return core.NewAuthError(core.TypeAdapterError, "linked account refers to a missing user")
	}

	orphan := res.User.ID
	if d, ok := h.cfg.Adapter.(core.UserDeleter); ok {
		if err := d.DeleteUser(ctx, orphan); err != nil {
			h.logger.Error("failed to delete orphaned user", zap.String("user_id", orphan), zap.Error(err))
		}
		h.sessions.userChanged(orphan)
	}
	h.logger.Debug("account linked concurrently, adopting stored user",
		zap.String("user_id", winner.ID),
		zap.String("orphan_id", orphan),
	)

	res.User = winner
	res.IsNewUser = false
	return nil
}

// profileOf exposes the normalized user as a raw profile for events.
func profileOf(u *core.User) core.Profile {
	if u == nil {
		return nil
	}
	p := core.Profile{"id": u.ID}
	if u.Name != "" {
		p["name"] = u.Name
	}
	if u.Email != "" {
		p["email"] = u.Email
	}
	if u.Image != "" {
		p["image"] = u.Image
	}
	for k, v := range u.Extra {
		p[k] = v
	}
	return p
}
