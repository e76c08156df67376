// Package redis implements cache.Cache on top of go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/WhyNeet/t3-chat-clone/internal/cache"
)

var _ cache.Cache = (*Cache)(nil)

// Cache wraps a go-redis client. Keys are namespaced with an optional prefix.
type Cache struct {
	client goredis.UniversalClient
	prefix string
}

// New wraps an existing client.
func New(client goredis.UniversalClient, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// Dial parses a redis:// URI, connects and pings the server.
func Dial(ctx context.Context, uri, prefix string) (*Cache, error) {
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("redis: parse uri: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return New(client, prefix), nil
}

// Get returns the cached value. A missing key is not an error.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get: %w", err)
	}
	return v, true, nil
}

// Set stores value with ttl. A non-positive ttl keeps the key without expiry.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set: %w", err)
	}
	return nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis: del: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying connection so other redis-backed components
// can share it.
func (c *Cache) Client() goredis.UniversalClient { return c.client }
