package recurrence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares occurrence windows between processes through redis.
type RedisCache struct {
	redis *redis.Client
}

// NewRedisCache creates a cache backed by client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{redis: client}
}

func cacheKey(seriesID string) string {
	return fmt.Sprintf("occurrences:%s", seriesID)
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, seriesID string) (*CacheEntry, error) {
	data, err := c.redis.Get(ctx, cacheKey(seriesID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cached occurrences: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding cached occurrences: %w", err)
	}
	return &entry, nil
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, entry *CacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding occurrences: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.redis.Set(ctx, cacheKey(entry.SeriesID), data, ttl).Err(); err != nil {
		return fmt.Errorf("caching occurrences: %w", err)
	}
	return nil
}

// Invalidate implements Cache.
func (c *RedisCache) Invalidate(ctx context.Context, seriesID string) error {
	if err := c.redis.Del(ctx, cacheKey(seriesID)).Err(); err != nil {
		return fmt.Errorf("invalidating cached occurrences: %w", err)
	}
	return nil
}
