package core

import "context"

// Adapter is any value implementing one or more of the storage interfaces
// below. Which ones are required depends on the configured providers and
// session strategy; AssertConfig reports what is missing.
//
// Lookups return (nil, nil) when nothing matches. An error means the store
// itself failed.
type Adapter interface{}

type UserStorage interface {
	// CreateUser persists u. An empty ID is assigned by the adapter.
	CreateUser(ctx context.Context, u *User) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByAccount(ctx context.Context, key AccountKey) (*User, error)
	// UpdateUser applies the non-zero fields of u to the stored user.
	UpdateUser(ctx context.Context, u *User) (*User, error)
}

type AccountStorage interface {
	// LinkAccount is an upsert on (provider, providerAccountId). It returns
	// the stored row, which belongs to whichever user linked it first.
	LinkAccount(ctx context.Context, a *Account) (*Account, error)
}

type SessionStorage interface {
	CreateSession(ctx context.Context, s *Session) (*Session, error)
	GetSessionAndUser(ctx context.Context, sessionToken string) (*SessionAndUser, error)
	UpdateSession(ctx context.Context, s *Session) (*Session, error)
	DeleteSession(ctx context.Context, sessionToken string) error
}

type VerificationTokenStorage interface {
	CreateVerificationToken(ctx context.Context, t *VerificationToken) (*VerificationToken, error)
	// UseVerificationToken deletes and returns the token. A second call
	// with the same pair returns nil.
	UseVerificationToken(ctx context.Context, identifier, token string) (*VerificationToken, error)
}

type AuthenticatorStorage interface {
	GetAccount(ctx context.Context, providerAccountID, provider string) (*Account, error)
	CreateAuthenticator(ctx context.Context, a *Authenticator) (*Authenticator, error)
	GetAuthenticator(ctx context.Context, credentialID string) (*Authenticator, error)
	ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*Authenticator, error)
	UpdateAuthenticatorCounter(ctx context.Context, credentialID string, counter int64) (*Authenticator, error)
}

// Optional capabilities.
type (
	UserDeleter interface {
		DeleteUser(ctx context.Context, id string) error
	}
	AccountUnlinker interface {
		UnlinkAccount(ctx context.Context, key AccountKey) error
	}
)

// FullAdapter is implemented by adapters that support every flow.
type FullAdapter interface {
	UserStorage
	AccountStorage
	SessionStorage
	VerificationTokenStorage
	UserDeleter
	AccountUnlinker
}

type adapterMethod struct {
	name string
	has  func(Adapter) bool
}

var (
	emailMethods = []adapterMethod{
		{"CreateVerificationToken", func(a Adapter) bool {
			_, ok := a.(interface {
				CreateVerificationToken(context.Context, *VerificationToken) (*VerificationToken, error)
			})
			return ok
		}},
		{"UseVerificationToken", func(a Adapter) bool {
			_, ok := a.(interface {
				UseVerificationToken(context.Context, string, string) (*VerificationToken, error)
			})
			return ok
		}},
		getUserByEmailMethod,
	}

	getUserByEmailMethod = adapterMethod{"GetUserByEmail", func(a Adapter) bool {
		_, ok := a.(interface {
			GetUserByEmail(context.Context, string) (*User, error)
		})
		return ok
	}}

	sessionMethods = []adapterMethod{
		{"CreateUser", func(a Adapter) bool {
			_, ok := a.(interface {
				CreateUser(context.Context, *User) (*User, error)
			})
			return ok
		}},
		{"GetUser", func(a Adapter) bool {
			_, ok := a.(interface {
				GetUser(context.Context, string) (*User, error)
			})
			return ok
		}},
		getUserByEmailMethod,
		{"GetUserByAccount", func(a Adapter) bool {
			_, ok := a.(interface {
				GetUserByAccount(context.Context, AccountKey) (*User, error)
			})
			return ok
		}},
		{"UpdateUser", func(a Adapter) bool {
			_, ok := a.(interface {
				UpdateUser(context.Context, *User) (*User, error)
			})
			return ok
		}},
		{"LinkAccount", func(a Adapter) bool {
			_, ok := a.(interface {
				LinkAccount(context.Context, *Account) (*Account, error)
			})
			return ok
		}},
		{"CreateSession", func(a Adapter) bool {
			_, ok := a.(interface {
				CreateSession(context.Context, *Session) (*Session, error)
			})
			return ok
		}},
		{"GetSessionAndUser", func(a Adapter) bool {
			_, ok := a.(interface {
				GetSessionAndUser(context.Context, string) (*SessionAndUser, error)
			})
			return ok
		}},
		{"UpdateSession", func(a Adapter) bool {
			_, ok := a.(interface {
				UpdateSession(context.Context, *Session) (*Session, error)
			})
			return ok
		}},
		{"DeleteSession", func(a Adapter) bool {
			_, ok := a.(interface {
				DeleteSession(context.Context, string) error
			})
			return ok
		}},
	}

	authenticatorMethods = []adapterMethod{
		{"GetAccount", func(a Adapter) bool {
			_, ok := a.(interface {
				GetAccount(context.Context, string, string) (*Account, error)
			})
			return ok
		}},
		{"CreateAuthenticator", func(a Adapter) bool {
			_, ok := a.(interface {
				CreateAuthenticator(context.Context, *Authenticator) (*Authenticator, error)
			})
			return ok
		}},
		{"GetAuthenticator", func(a Adapter) bool {
			_, ok := a.(interface {
				GetAuthenticator(context.Context, string) (*Authenticator, error)
			})
			return ok
		}},
		{"ListAuthenticatorsByUserID", func(a Adapter) bool {
			_, ok := a.(interface {
				ListAuthenticatorsByUserID(context.Context, string) ([]*Authenticator, error)
			})
			return ok
		}},
		{"UpdateAuthenticatorCounter", func(a Adapter) bool {
			_, ok := a.(interface {
				UpdateAuthenticatorCounter(context.Context, string, int64) (*Authenticator, error)
			})
			return ok
		}},
	}
)

// missingMethods lists, in order and without duplicates, the methods of
// the given sets that a does not implement.
func missingMethods(a Adapter, sets ...[]adapterMethod) []string {
	seen := make(map[string]bool)
	var missing []string
	for _, set := range sets {
		for _, m := range set {
			if seen[m.name] {
				continue
			}
			seen[m.name] = true
			if !m.has(a) {
				missing = append(missing, m.name)
			}
		}
	}
	return missing
}
