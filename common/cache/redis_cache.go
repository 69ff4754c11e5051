package cache

import (
	"context"
	"errors"
	"time"

	"github.com/x121/undotree/common/metrics"
	rediscommon "github.com/x121/undotree/common/redis"
)

// RedisCache shares cached entries between API instances
type RedisCache struct {
	client *rediscommon.Client
	prefix string
}

// NewRedisCache creates a cache storing keys under prefix
func NewRedisCache(client *rediscommon.Client, prefix string) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
	}
}

// Get retrieves a value; a missing key is a miss, not an error
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key)
	if errors.Is(err, rediscommon.ErrNotFound) {
		metrics.CacheLookups.WithLabelValues("redis", "miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues("redis", "error").Inc()
		return nil, false, err
	}
	metrics.CacheLookups.WithLabelValues("redis", "hit").Inc()
	return val, true, nil
}

// Set stores a value with TTL
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl)
}

// Delete removes a value
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Delete(ctx, c.prefix+key)
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
