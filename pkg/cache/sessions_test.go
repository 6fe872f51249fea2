package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lborres/gatehouse/core"
)

type countingSessions struct {
	rows  map[string]*core.SessionAndUser
	reads int
}

func (s *countingSessions) CreateSession(_ context.Context, sess *core.Session) (*core.Session, error) {
	s.rows[sess.SessionToken] = &core.SessionAndUser{Session: sess, User: &core.User{ID: sess.UserID}}
	return sess, nil
}

func (s *countingSessions) GetSessionAndUser(_ context.Context, token string) (*core.SessionAndUser, error) {
	s.reads++
	return s.rows[token], nil
}

func (s *countingSessions) UpdateSession(_ context.Context, sess *core.Session) (*core.Session, error) {
	s.rows[sess.SessionToken].Session = sess
	return sess, nil
}

func (s *countingSessions) DeleteSession(_ context.Context, token string) error {
	delete(s.rows, token)
	return nil
}

func TestSessionStorage_CachesReads(t *testing.T) {
	// Arrange
	ctx := context.Background()
	next := &countingSessions{rows: map[string]*core.SessionAndUser{}}
	store := WrapSessions(next, NewInMemoryCache(core.CacheConfig{}))
	_, err := store.CreateSession(ctx, &core.Session{SessionToken: "tok", UserID: "u1", Expires: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	// Act
	first, err := store.GetSessionAndUser(ctx, "tok")
	require.NoError(t, err)
	second, err := store.GetSessionAndUser(ctx, "tok")
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 1, next.reads)
	assert.Same(t, first, second)
}

// Requirement: a deleted session is never served from the cache
func TestSessionStorage_DeleteInvalidates(t *testing.T) {
	// Arrange
	ctx := context.Background()
	next := &countingSessions{rows: map[string]*core.SessionAndUser{}}
	store := WrapSessions(next, NewInMemoryCache(core.CacheConfig{}))
	_, err := store.CreateSession(ctx, &core.Session{SessionToken: "tok", UserID: "u1", Expires: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = store.GetSessionAndUser(ctx, "tok")
	require.NoError(t, err)

	// Act
	require.NoError(t, store.DeleteSession(ctx, "tok"))
	got, err := store.GetSessionAndUser(ctx, "tok")

	// Assert
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStorage_MissIsNotCached(t *testing.T) {
	ctx := context.Background()
	next := &countingSessions{rows: map[string]*core.SessionAndUser{}}
	store := WrapSessions(next, NewInMemoryCache(core.CacheConfig{}))

	_, _ = store.GetSessionAndUser(ctx, "missing")
	_, _ = store.GetSessionAndUser(ctx, "missing")

	assert.Equal(t, 2, next.reads)
}

// clearOnlyCache hides InMemoryCache.DeleteUser.
type clearOnlyCache struct {
	core.Cache
	cleared int
}

func (c *clearOnlyCache) Clear() error {
	c.cleared++
	return c.Cache.Clear()
}

func TestSessionStorage_InvalidateUser(t *testing.T) {
	tests := []struct {
		name  string
		cache func() core.Cache
	}{
		{name: "deletes by user", cache: func() core.Cache { return NewInMemoryCache(core.CacheConfig{}) }},
		{name: "clears other caches", cache: func() core.Cache {
			return &clearOnlyCache{Cache: NewInMemoryCache(core.CacheConfig{})}
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			ctx := context.Background()
			next := &countingSessions{rows: map[string]*core.SessionAndUser{}}
			store := WrapSessions(next, test.cache())
			_, err := store.CreateSession(ctx, &core.Session{SessionToken: "tok", UserID: "u1", Expires: time.Now().Add(time.Hour)})
			require.NoError(t, err)
			_, err = store.GetSessionAndUser(ctx, "tok")
			require.NoError(t, err)
			next.rows["tok"] = &core.SessionAndUser{Session: next.rows["tok"].Session, User: &core.User{ID: "u1", Name: "Renamed"}}

			// Act
			store.InvalidateUser("u1")
			got, err := store.GetSessionAndUser(ctx, "tok")

			// Assert
			require.NoError(t, err)
			assert.Equal(t, "Renamed", got.User.Name)
			assert.Equal(t, 2, next.reads)
		})
	}
}
