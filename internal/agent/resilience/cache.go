package resilience

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a TTL key/value store used by stages as a response cache and as a fallback
// source when a remote call is unavailable.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// CacheKey hashes parts into a stable key under prefix.
func CacheKey(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return prefix + ":" + hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache bounded to maxEntries. When full, the least
// recently used entry is dropped; expired entries are dropped when read.
type MemoryCache struct {
	entries    *lru.Cache[string, cacheEntry]
	defaultTTL time.Duration
	now        func() time.Time
}

const defaultMaxEntries = 10000

// NewMemoryCache returns a cache holding at most maxEntries; maxEntries <= 0 means
// 10000.
func NewMemoryCache(defaultTTL time.Duration, maxEntries int) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	// lru.New only fails for a non-positive size
	entries, _ := lru.New[string, cacheEntry](maxEntries)
	return &MemoryCache{
		entries:    entries,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return "", false
	}
	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return "", false
	}
	return e.value, true
}

// Set stores value for ttl; ttl <= 0 uses the cache default.
func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.entries.Add(key, cacheEntry{value: value, expiresAt: c.now().Add(ttl)})
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.entries.Remove(key)
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
