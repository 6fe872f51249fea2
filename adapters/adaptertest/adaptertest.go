// Package adaptertest is a conformance suite for storage adapters.
package adaptertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lborres/gatehouse/core"
)

// Adapter is what the suite exercises.
type Adapter interface {
	core.UserStorage
	core.AccountStorage
	core.SessionStorage
	core.VerificationTokenStorage
	core.UserDeleter
}

// Run runs the suite. newAdapter must return an empty adapter.
func Run(t *testing.T, newAdapter func(t *testing.T) Adapter) {
	t.Helper()

	t.Run("CreateUserAssignsID", func(t *testing.T) { testCreateUser(t, newAdapter(t)) })
	t.Run("LookupsMissReturnNil", func(t *testing.T) { testMisses(t, newAdapter(t)) })
	t.Run("UpdateUserKeepsZeroFields", func(t *testing.T) { testUpdateUser(t, newAdapter(t)) })
	t.Run("LinkAccountIsUpsert", func(t *testing.T) { testLinkAccount(t, newAdapter(t)) })
	t.Run("LinkAccountConcurrent", func(t *testing.T) { testLinkAccountConcurrent(t, newAdapter(t)) })
	t.Run("SessionLifecycle", func(t *testing.T) { testSessions(t, newAdapter(t)) })
	t.Run("VerificationTokenSingleUse", func(t *testing.T) { testVerificationToken(t, newAdapter(t)) })
	t.Run("DeleteUserCascades", func(t *testing.T) { testDeleteUser(t, newAdapter(t)) })
}

func testCreateUser(t *testing.T, a Adapter) {
	// Arrange
	ctx := context.Background()

	// Act
	u, err := a.CreateUser(ctx, &core.User{Name: "Ada", Email: "ada@example.com"})

	// Assert
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	got, err := a.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.Name)

	byEmail, err := a.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, u.ID, byEmail.ID)
}

// Requirement: lookups that match nothing return (nil, nil)
func testMisses(t *testing.T, a Adapter) {
	ctx := context.Background()

	u, err := a.GetUser(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = a.GetUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = a.GetUserByAccount(ctx, core.AccountKey{Provider: "gh", ProviderAccountID: "404"})
	require.NoError(t, err)
	assert.Nil(t, u)

	s, err := a.GetSessionAndUser(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, s)

	vt, err := a.UseVerificationToken(ctx, "nobody@example.com", "missing")
	require.NoError(t, err)
	assert.Nil(t, vt)
}

func testUpdateUser(t *testing.T, a Adapter) {
	// Arrange
	ctx := context.Background()
	u, err := a.CreateUser(ctx, &core.User{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	verified := time.Now().UTC().Truncate(time.Second)

	// Act
	updated, err := a.UpdateUser(ctx, &core.User{ID: u.ID, EmailVerified: &verified})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.Name)
	assert.Equal(t, "ada@example.com", updated.Email)
	require.NotNil(t, updated.EmailVerified)
	assert.True(t, verified.Equal(*updated.EmailVerified))
}

// Requirement: at most one account per (provider, providerAccountId); the
// first link wins
func testLinkAccount(t *testing.T, a Adapter) {
	// Arrange
	ctx := context.Background()
	first, err := a.CreateUser(ctx, &core.User{Email: "first@example.com"})
	require.NoError(t, err)
	second, err := a.CreateUser(ctx, &core.User{Email: "second@example.com"})
	require.NoError(t, err)
	key := core.AccountKey{Provider: "gh", ProviderAccountID: "42"}

	// Act
	stored, err := a.LinkAccount(ctx, &core.Account{UserID: first.ID, Type: core.ProviderOAuth, Provider: key.Provider, ProviderAccountID: key.ProviderAccountID})
	require.NoError(t, err)
	again, err := a.LinkAccount(ctx, &core.Account{UserID: second.ID, Type: core.ProviderOAuth, Provider: key.Provider, ProviderAccountID: key.ProviderAccountID})
	require.NoError(t, err)

	// Assert
	assert.Equal(t, first.ID, stored.UserID)
	assert.Equal(t, first.ID, again.UserID)
	owner, err := a.GetUserByAccount(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, first.ID, owner.ID)
}

func testLinkAccountConcurrent(t *testing.T, a Adapter) {
	// Arrange
	ctx := context.Background()
	const n = 8
	ids := make([]string, n)
	for i := range ids {
		u, err := a.CreateUser(ctx, &core.User{})
		require.NoError(t, err)
		ids[i] = u.ID
	}

	// Act
	owners := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, err := a.LinkAccount(ctx, &core.Account{UserID: ids[i], Type: core.ProviderOAuth, Provider: "gh", ProviderAccountID: "race"})
			errs[i] = err
			if stored != nil {
				owners[i] = stored.UserID
			}
		}(i)
	}
	wg.Wait()

	// Assert
	for i := range owners {
		require.NoError(t, errs[i])
		assert.Equal(t, owners[0], owners[i])
	}
	owner, err := a.GetUserByAccount(ctx, core.AccountKey{Provider: "gh", ProviderAccountID: "race"})
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, owners[0], owner.ID)
}

func testSessions(t *testing.T, a Adapter) {
	// Arrange
	ctx := context.Background()
	u, err := a.CreateUser(ctx, &core.User{Email: "s@example.com"})
	require.NoError(t, err)
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	// Act
	_, err = a.CreateSession(ctx, &core.Session{SessionToken: "tok", UserID: u.ID, Expires: expires})
	require.NoError(t, err)
	got, err := a.GetSessionAndUser(ctx, "tok")
	require.NoError(t, err)

	// Assert
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.User.ID)
	assert.True(t, expires.Equal(got.Session.Expires))

	later := expires.Add(time.Hour)
	updated, err := a.UpdateSession(ctx, &core.Session{SessionToken: "tok", Expires: later})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.True(t, later.Equal(updated.Expires))
	assert.Equal(t, u.ID, updated.UserID)

	require.NoError(t, a.DeleteSession(ctx, "tok"))
	got, err = a.GetSessionAndUser(ctx, "tok")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// Requirement: a verification token can be used exactly once
func testVerificationToken(t *testing.T, a Adapter) {
	// Arrange
	ctx := context.Background()
	_, err := a.CreateVerificationToken(ctx, &core.VerificationToken{
		Identifier: "v@example.com",
		Token:      "hashed",
		Expires:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	// Act
	first, err := a.UseVerificationToken(ctx, "v@example.com", "hashed")
	require.NoError(t, err)
	second, err := a.UseVerificationToken(ctx, "v@example.com", "hashed")
	require.NoError(t, err)

	// Assert
	require.NotNil(t, first)
	assert.Equal(t, "v@example.com", first.Identifier)
	assert.Nil(t, second)
}

func testDeleteUser(t *testing.T, a Adapter) {
	// Arrange
	ctx := context.Background()
	u, err := a.CreateUser(ctx, &core.User{Email: "gone@example.com"})
	require.NoError(t, err)
	_, err = a.LinkAccount(ctx, &core.Account{UserID: u.ID, Type: core.ProviderOAuth, Provider: "gh", ProviderAccountID: "gone"})
	require.NoError(t, err)
	_, err = a.CreateSession(ctx, &core.Session{SessionToken: "gone", UserID: u.ID, Expires: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	// Act
	require.NoError(t, a.DeleteUser(ctx, u.ID))

	// Assert
	got, err := a.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	owner, err := a.GetUserByAccount(ctx, core.AccountKey{Provider: "gh", ProviderAccountID: "gone"})
	require.NoError(t, err)
	assert.Nil(t, owner)
	s, err := a.GetSessionAndUser(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, s)
}
