// Package memory is an in-process storage adapter. It implements every
// storage interface and is meant for tests, development and single
// instance deployments.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lborres/gatehouse/core"
)

var ErrNotFound = errors.New("memory: record not found")

type tokenKey struct {
	identifier string
	token      string
}

// Adapter is safe for concurrent use. Returned records are copies.
type Adapter struct {
	mu             sync.RWMutex
	users          map[string]*core.User
	accounts       map[core.AccountKey]*core.Account
	sessions       map[string]*core.Session
	tokens         map[tokenKey]*core.VerificationToken
	authenticators map[string]*core.Authenticator
}

var (
	_ core.FullAdapter          = (*Adapter)(nil)
	_ core.AuthenticatorStorage = (*Adapter)(nil)
)

func New() *Adapter {
	return &Adapter{
		users:          make(map[string]*core.User),
		accounts:       make(map[core.AccountKey]*core.Account),
		sessions:       make(map[string]*core.Session),
		tokens:         make(map[tokenKey]*core.VerificationToken),
		authenticators: make(map[string]*core.Authenticator),
	}
}

func copyUser(u *core.User) *core.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func copyAccount(a *core.Account) *core.Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func copySession(s *core.Session) *core.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (a *Adapter) CreateUser(_ context.Context, u *core.User) (*core.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stored := copyUser(u)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	a.users[stored.ID] = stored
	return copyUser(stored), nil
}

func (a *Adapter) GetUser(_ context.Context, id string) (*core.User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyUser(a.users[id]), nil
}

func (a *Adapter) GetUserByEmail(_ context.Context, email string) (*core.User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, u := range a.users {
		if u.Email != "" && strings.EqualFold(u.Email, email) {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (a *Adapter) GetUserByAccount(_ context.Context, key core.AccountKey) (*core.User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acc, ok := a.accounts[key]
	if !ok {
		return nil, nil
	}
	return copyUser(a.users[acc.UserID]), nil
}

func (a *Adapter) UpdateUser(_ context.Context, u *core.User) (*core.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stored, ok := a.users[u.ID]
	if !ok {
		return nil, ErrNotFound
	}
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
	return copyUser(stored), nil
}

// DeleteUser removes the user with its accounts, sessions and authenticators.
func (a *Adapter) DeleteUser(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.users, id)
	for k, acc := range a.accounts {
		if acc.UserID == id {
			delete(a.accounts, k)
		}
	}
	for k, s := range a.sessions {
		if s.UserID == id {
			delete(a.sessions, k)
		}
	}
	for k, auth := range a.authenticators {
		if auth.UserID == id {
			delete(a.authenticators, k)
		}
	}
	return nil
}

// LinkAccount keeps the first row stored for a key and returns it.
func (a *Adapter) LinkAccount(_ context.Context, acc *core.Account) (*core.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.accounts[acc.Key()]; ok {
		return copyAccount(existing), nil
	}
	stored := copyAccount(acc)
	a.accounts[acc.Key()] = stored
	return copyAccount(stored), nil
}

func (a *Adapter) UnlinkAccount(_ context.Context, key core.AccountKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.accounts, key)
	return nil
}

func (a *Adapter) GetAccount(_ context.Context, providerAccountID, provider string) (*core.Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyAccount(a.accounts[core.AccountKey{Provider: provider, ProviderAccountID: providerAccountID}]), nil
}

func (a *Adapter) CreateSession(_ context.Context, s *core.Session) (*core.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[s.SessionToken] = copySession(s)
	return copySession(s), nil
}

func (a *Adapter) GetSessionAndUser(_ context.Context, sessionToken string) (*core.SessionAndUser, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.sessions[sessionToken]
	if !ok {
		return nil, nil
	}
	u, ok := a.users[s.UserID]
	if !ok {
		return nil, nil
	}
	return &core.SessionAndUser{Session: copySession(s), User: copyUser(u)}, nil
}

func (a *Adapter) UpdateSession(_ context.Context, s *core.Session) (*core.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stored, ok := a.sessions[s.SessionToken]
	if !ok {
		return nil, nil
	}
	if s.UserID != "" {
		stored.UserID = s.UserID
	}
	if !s.Expires.IsZero() {
		stored.Expires = s.Expires
	}
	return copySession(stored), nil
}

func (a *Adapter) DeleteSession(_ context.Context, sessionToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionToken)
	return nil
}

func (a *Adapter) CreateVerificationToken(_ context.Context, t *core.VerificationToken) (*core.VerificationToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := *t
	a.tokens[tokenKey{t.Identifier, t.Token}] = &c
	return t, nil
}

// UseVerificationToken deletes the token, so only the first caller gets it.
func (a *Adapter) UseVerificationToken(_ context.Context, identifier, token string) (*core.VerificationToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := tokenKey{identifier, token}
	t, ok := a.tokens[k]
	if !ok {
		return nil, nil
	}
	delete(a.tokens, k)
	return t, nil
}

func (a *Adapter) CreateAuthenticator(_ context.Context, auth *core.Authenticator) (*core.Authenticator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := *auth
	a.authenticators[auth.CredentialID] = &c
	return auth, nil
}

func (a *Adapter) GetAuthenticator(_ context.Context, credentialID string) (*core.Authenticator, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	auth, ok := a.authenticators[credentialID]
	if !ok {
		return nil, nil
	}
	c := *auth
	return &c, nil
}

func (a *Adapter) ListAuthenticatorsByUserID(_ context.Context, userID string) ([]*core.Authenticator, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []*core.Authenticator
	for _, auth := range a.authenticators {
		if auth.UserID == userID {
			c := *auth
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CredentialID < out[j].CredentialID })
	return out, nil
}

func (a *Adapter) UpdateAuthenticatorCounter(_ context.Context, credentialID string, counter int64) (*core.Authenticator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	auth, ok := a.authenticators[credentialID]
	if !ok {
		return nil, ErrNotFound
	}
	auth.Counter = counter
	c := *auth
	return &c, nil
}

// Users returns a snapshot of every stored user.
func (a *Adapter) Users() []*core.User {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*core.User, 0, len(a.users))
	for _, u := range a.users {
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
