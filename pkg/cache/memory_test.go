package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lborres/gatehouse/core"
)

func withNow(t *testing.T, now *time.Time) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return *now }
	t.Cleanup(func() { timeNow = prev })
}

func entry(token string, expires time.Time) *core.SessionAndUser {
	return &core.SessionAndUser{
		Session: &core.Session{SessionToken: token, UserID: "user456", Expires: expires},
		User:    &core.User{ID: "user456", Email: "a@example.com"},
	}
}

func TestInMemoryCacheGetSetShouldStoreAndRetrieve(t *testing.T) {
	// Arrange
	c := NewInMemoryCache(core.CacheConfig{TTL: 5 * time.Minute, MaxSize: 500})
	v := entry("tok", time.Now().Add(24*time.Hour))

	// Act
	require.NoError(t, c.Set("tok", v))
	got, err := c.Get("tok")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "user456", got.User.ID)
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestInMemoryCacheGetNonExistentShouldReturnErrCacheNotFound(t *testing.T) {
	c := NewInMemoryCache(core.CacheConfig{})

	_, err := c.Get("nonexistent")

	assert.ErrorIs(t, err, core.ErrCacheNotFound)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestInMemoryCacheExpiryShouldExpireEntriesAfterTTL(t *testing.T) {
	// Arrange
	now := time.Unix(1_700_000_000, 0)
	withNow(t, &now)
	c := NewInMemoryCache(core.CacheConfig{TTL: time.Minute})
	require.NoError(t, c.Set("tok", entry("tok", now.Add(time.Hour))))

	// Act
	now = now.Add(2 * time.Minute)
	_, err := c.Get("tok")

	// Assert
	assert.ErrorIs(t, err, core.ErrCacheNotFound)
	assert.Zero(t, c.Len())
}

func TestInMemoryCacheShouldDropExpiredSessions(t *testing.T) {
	// Arrange
	now := time.Unix(1_700_000_000, 0)
	withNow(t, &now)
	c := NewInMemoryCache(core.CacheConfig{TTL: time.Hour})
	require.NoError(t, c.Set("tok", entry("tok", now.Add(time.Second))))

	// Act
	now = now.Add(time.Minute)
	_, err := c.Get("tok")

	// Assert
	assert.ErrorIs(t, err, core.ErrCacheNotFound)
}

func TestInMemoryCacheShouldEvictWhenFull(t *testing.T) {
	// Arrange
	c := NewInMemoryCache(core.CacheConfig{MaxSize: 2})
	exp := time.Now().Add(time.Hour)

	// Act
	for _, tok := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(tok, entry(tok, exp)))
	}

	// Assert
	stats := c.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(3), stats.Sets)
}

func TestInMemoryCacheClear(t *testing.T) {
	c := NewInMemoryCache(core.CacheConfig{})
	require.NoError(t, c.Set("a", entry("a", time.Now().Add(time.Hour))))

	require.NoError(t, c.Clear())

	assert.Zero(t, c.Len())
}

// Requirement: a changed user is never served from the cache
func TestInMemoryCacheDeleteUser(t *testing.T) {
	// Arrange
	c := NewInMemoryCache(core.CacheConfig{})
	expires := time.Now().Add(time.Hour)
	require.NoError(t, c.Set("a", entry("a", expires)))
	require.NoError(t, c.Set("b", entry("b", expires)))
	other := entry("c", expires)
	other.User.ID = "user789"
	require.NoError(t, c.Set("c", other))

	// Act
	require.NoError(t, c.DeleteUser("user456"))

	// Assert
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(2), c.Stats().Deletes)
	_, err := c.Get("c")
	assert.NoError(t, err)
}

func TestInMemoryCacheReportsStats(t *testing.T) {
	var c core.CacheWithStats = NewInMemoryCache(core.CacheConfig{TTL: time.Minute})

	_, _ = c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, time.Minute, stats.TTL)
}
