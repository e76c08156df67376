// Package cache defines the key-value cache used to keep decrypted-path
// lookups off the durable store.
package cache

import (
	"context"
	"time"
)

// Cache is a best-effort string cache. Callers treat any error as a miss.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
