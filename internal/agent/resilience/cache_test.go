package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyStable(t *testing.T) {
	a := CacheKey("analysis", "hello", "en")
	assert.Equal(t, a, CacheKey("analysis", "hello", "en"))
	assert.NotEqual(t, a, CacheKey("analysis", "hell", "oen"))
	assert.NotEqual(t, a, CacheKey("response", "hello", "en"))
	assert.Contains(t, a, "analysis:")
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewMemoryCache(time.Minute, 0)
	c.now = clock.Now

	c.Set(ctx, "k", "v", 0)
	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	clock.Advance(time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestMemoryCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, 0)
	c.Set(ctx, "k", "v", time.Hour)
	c.Delete(ctx, "k")
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Hour, 2)

	c.Set(ctx, "old", "1", time.Hour)
	c.Set(ctx, "read", "2", time.Hour)
	_, ok := c.Get(ctx, "old")
	require.True(t, ok)
	c.Set(ctx, "new", "3", time.Hour)

	assert.Equal(t, 2, c.Len())
	_, ok = c.Get(ctx, "read")
	assert.False(t, ok, "entry not read since insert is evicted first")
	_, ok = c.Get(ctx, "old")
	assert.True(t, ok)

	c.Set(ctx, "old", "updated", time.Hour)
	assert.Equal(t, 2, c.Len())
	v, _ := c.Get(ctx, "old")
	assert.Equal(t, "updated", v)
}

func TestMemoryCachePerEntryTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewMemoryCache(time.Hour, 0)
	c.now = clock.Now

	c.Set(ctx, "short", "1", time.Minute)
	c.Set(ctx, "default", "2", 0)
	clock.Advance(2 * time.Minute)

	_, ok := c.Get(ctx, "short")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "default")
	assert.True(t, ok)
}
