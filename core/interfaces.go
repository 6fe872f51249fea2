package core

import (
	"context"
	"time"
)

// Handler is implemented by the engine. HTTP adapters call it for every
// request under the base path.
type Handler interface {
	Handle(ctx context.Context, req *Request) *Response
}

// HTTPAdapter mounts the engine on a router.
type HTTPAdapter interface {
	RegisterRoutes(h Handler, basePath string) error
}

// Cache caches database session lookups by session token.
type Cache interface {
	Get(sessionToken string) (*SessionAndUser, error)
	Set(sessionToken string, v *SessionAndUser) error
	Delete(sessionToken string) error
	Clear() error
}

type CacheWithStats interface {
	Cache
	Stats() CacheStats
}

type CacheConfig struct {
	TTL     time.Duration
	MaxSize int
}

// CacheStats are simple counters for cache behavior.
type CacheStats struct {
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Sets      int64         `json:"sets"`
	Deletes   int64         `json:"deletes"`
	Evictions int64         `json:"evictions"`
	Size      int           `json:"size"`
	TTL       time.Duration `json:"ttl"`
}
