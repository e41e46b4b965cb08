package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

// RedisCache shares the response cache between bot instances. Redis errors degrade
// to cache misses.
type RedisCache struct {
	rdb        redis.Cmdable
	prefix     string
	defaultTTL time.Duration
}

func NewRedisCache(rdb redis.Cmdable, prefix string, defaultTTL time.Duration) *RedisCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &RedisCache{rdb: rdb, prefix: prefix, defaultTTL: defaultTTL}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + ":cache:" + k
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.rdb.Get(ctx, c.key(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logx.Warn().Err(err).Str("key", key).Msg("redis cache get failed")
		}
		return "", false
	}
	return v, true
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		logx.Warn().Err(err).Str("key", key).Msg("redis cache set failed")
	}
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, c.key(key)).Err(); err != nil {
		logx.Warn().Err(err).Str("key", key).Msg("redis cache delete failed")
	}
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
