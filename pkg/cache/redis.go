package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379/0).
	// Credentials and database number are taken from the URL.
	URL string

	// KeyPrefix is prepended to all keys.
	KeyPrefix string

	// DefaultTTL is the default expiration for keys.
	DefaultTTL time.Duration

	// PoolSize is the connection pool size.
	PoolSize int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// ReadTimeout is the read operation timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the write operation timeout.
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          "redis://localhost:6379/0",
		KeyPrefix:    "diffsets:",
		DefaultTTL:   24 * time.Hour,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisCache implements Cache using Redis as the backend.
type RedisCache struct {
	cfg    RedisConfig
	client *redis.Client
	stats  Stats
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache connects to Redis and verifies the connection with PING.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	def := DefaultRedisConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{cfg: cfg, client: client}, nil
}

// Get retrieves a value by key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefixKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&c.stats.Misses, 1)
		return nil, ErrNotFound
	}
	if err != nil {
		atomic.AddInt64(&c.stats.Misses, 1)
		return nil, fmt.Errorf("redis get: %w", err)
	}
	atomic.AddInt64(&c.stats.Hits, 1)
	return val, nil
}

// Set stores a value with optional TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefixKey(key), value, c.getTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	atomic.AddInt64(&c.stats.Sets, 1)
	return nil
}

// Delete removes a key from the cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	n, err := c.client.Del(ctx, c.prefixKey(key)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats returns client-side cache statistics.
func (c *RedisCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.stats.Hits),
		Misses: atomic.LoadInt64(&c.stats.Misses),
		Sets:   atomic.LoadInt64(&c.stats.Sets),
	}
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// prefixKey adds the configured prefix to a key.
func (c *RedisCache) prefixKey(key string) string {
	return c.cfg.KeyPrefix + key
}

// getTTL returns the TTL to use, falling back to default.
func (c *RedisCache) getTTL(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}
