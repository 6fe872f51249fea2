// Package cache holds an in-memory cache for database session lookups and
// a SessionStorage decorator that uses it.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lborres/gatehouse/core"
)

// InMemoryCache implements core.CacheWithStats.
type InMemoryCache struct {
	cache   map[string]*cachedRecord
	mu      sync.RWMutex
	ttl     time.Duration
	maxSize int

	// counters
	hits      int64
	misses    int64
	sets      int64
	deletes   int64
	evictions int64
}

type cachedRecord struct {
	value    *core.SessionAndUser
	cachedAt time.Time
}

var _ core.CacheWithStats = (*InMemoryCache)(nil)

var timeNow = time.Now

func NewInMemoryCache(c core.CacheConfig) *InMemoryCache {
	if c.TTL == 0 {
		c.TTL = 5 * time.Minute
	}
	if c.MaxSize == 0 {
		c.MaxSize = 500
	}

	return &InMemoryCache{
		cache:   make(map[string]*cachedRecord),
		ttl:     c.TTL,
		maxSize: c.MaxSize,
	}
}

// Get returns the cached lookup. Entries older than the TTL, or whose
// session has expired, are dropped.
func (c *InMemoryCache) Get(sessionToken string) (*core.SessionAndUser, error) {
	c.mu.RLock()
	record, exists := c.cache[sessionToken]
	c.mu.RUnlock()

	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return nil, core.ErrCacheNotFound
	}

	now := timeNow()
	if now.Sub(record.cachedAt) > c.ttl || !now.Before(record.value.Session.Expires) {
		atomic.AddInt64(&c.misses, 1)
		_ = c.Delete(sessionToken)
		return nil, core.ErrCacheNotFound
	}

	atomic.AddInt64(&c.hits, 1)
	return record.value, nil
}

func (c *InMemoryCache) Set(sessionToken string, v *core.SessionAndUser) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple eviction if full
	if _, replacing := c.cache[sessionToken]; !replacing && len(c.cache) >= c.maxSize {
		for k := range c.cache {
			delete(c.cache, k)
			atomic.AddInt64(&c.evictions, 1)
			break
		}
	}

	c.cache[sessionToken] = &cachedRecord{
		value:    v,
		cachedAt: timeNow(),
	}

	atomic.AddInt64(&c.sets, 1)
	return nil
}

func (c *InMemoryCache) Delete(sessionToken string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, existed := c.cache[sessionToken]; existed {
		delete(c.cache, sessionToken)
		atomic.AddInt64(&c.deletes, 1)
	}
	return nil
}

// DeleteUser drops every cached lookup that belongs to userID.
func (c *InMemoryCache) DeleteUser(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, record := range c.cache {
		if record.value.User != nil && record.value.User.ID == userID {
			delete(c.cache, k)
			atomic.AddInt64(&c.deletes, 1)
		}
	}
	return nil
}

func (c *InMemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*cachedRecord)
	return nil
}

func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *InMemoryCache) Stats() core.CacheStats {
	return core.CacheStats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Sets:      atomic.LoadInt64(&c.sets),
		Deletes:   atomic.LoadInt64(&c.deletes),
		Evictions: atomic.LoadInt64(&c.evictions),
		Size:      c.Len(),
		TTL:       c.ttl,
	}
}
