package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Cache stores block timestamps.
type Cache interface {
	Name() string
	Get(ctx context.Context, block uint64) (int64, bool, error)
	Set(ctx context.Context, block uint64, timestamp int64) error
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu     sync.RWMutex
	blocks map[uint64]int64
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{blocks: make(map[uint64]int64)}
}

// Name returns "memory".
func (c *MemoryCache) Name() string { return "memory" }

// Get returns the cached timestamp of block.
func (c *MemoryCache) Get(_ context.Context, block uint64) (int64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.blocks[block]
	return ts, ok, nil
}

// Set caches the timestamp of block.
func (c *MemoryCache) Set(_ context.Context, block uint64, timestamp int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[block] = timestamp
	return nil
}

// RedisCache stores timestamps in Redis under "<prefix>:<block>".
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a cache on addr. prefix namespaces keys per chain.
func NewRedisCache(addr, password string, db int, prefix string) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheWithClient(client, prefix)
}

// NewRedisCacheWithClient creates a cache on an existing client.
func NewRedisCacheWithClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "blockts"
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Name returns "redis".
func (c *RedisCache) Name() string { return "redis" }

func (c *RedisCache) key(block uint64) string {
	return fmt.Sprintf("%s:%d", c.prefix, block)
}

// Get returns the cached timestamp of block.
func (c *RedisCache) Get(ctx context.Context, block uint64) (int64, bool, error) {
	val, err := c.client.Get(ctx, c.key(block)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get: %w", err)
	}
	ts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis value %q: %w", val, err)
	}
	return ts, true, nil
}

// Set caches the timestamp of block without expiry.
func (c *RedisCache) Set(ctx context.Context, block uint64, timestamp int64) error {
	if err := c.client.Set(ctx, c.key(block), timestamp, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
