package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyCacheCheck memoizes cache-check answers per normalized query
	CacheKeyCacheCheck CacheKeyType = "cachecheck"
	// CacheKeyJobResults memoizes resolved results of completed jobs
	CacheKeyJobResults CacheKeyType = "jobresults"
)

// CacheService stores JSON snapshots in Redis with a default TTL
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{redis: redis, ttl: ttl}
}

// GenerateCacheKey builds <type>:<param1>:<param2>..., lower-cased
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, p := range params {
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, ":")
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, ttl)
}

// Get decodes the value at key into dest; it reports false on a miss
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, found, err := c.redis.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	return c.redis.Del(ctx, keys...)
}

// InvalidateType removes every key of the given type
func (c *CacheService) InvalidateType(ctx context.Context, keyType CacheKeyType) error {
	_, err := c.redis.DelPattern(ctx, string(keyType)+":*")
	return err
}

// TTL returns the configured default TTL
func (c *CacheService) TTL() time.Duration {
	return c.ttl
}
