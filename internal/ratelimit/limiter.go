// Package ratelimit throttles prompt submissions per user.
package ratelimit

import (
	"context"
	"log"
	"time"
)

// Store defines the interface for rate limit storage backends.
// MemoryStore serves single-instance deployments; RedisStore shares buckets
// across instances.
type Store interface {
	// Allow consumes one token from key's bucket if available.
	Allow(ctx context.Context, key string, capacity, refillRate float64) (allowed bool, remaining float64, err error)

	// Remaining returns the tokens left in key's bucket without consuming.
	Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error)

	// Reset refills key's bucket.
	Reset(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// Limiter applies one token bucket per user on top of a Store.
type Limiter struct {
	store      Store
	capacity   float64
	refillRate float64
	logger     *log.Logger
}

// Config holds configuration for the rate limiter.
type Config struct {
	// Storage backend (optional, defaults to MemoryStore)
	Store Store

	RequestsPerSecond float64 // Sustained rate
	BurstSize         float64 // Burst capacity

	Logger *log.Logger
}

// DefaultConfig allows a burst of 10 prompts and one every two seconds after that.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 0.5,
		BurstSize:         10,
	}
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		store:      store,
		capacity:   cfg.BurstSize,
		refillRate: cfg.RequestsPerSecond,
		logger:     cfg.Logger,
	}
}

// Allow reports whether userID may submit another request. An empty userID is
// always allowed. Store errors fail open.
func (l *Limiter) Allow(ctx context.Context, userID string) bool {
	if userID == "" {
		return true
	}
	allowed, _, err := l.store.Allow(ctx, key(userID), l.capacity, l.refillRate)
	if err != nil {
		if l.logger != nil {
			l.logger.Printf("ratelimit: store error, allowing request: %v", err)
		}
		return true
	}
	return allowed
}

// Remaining returns the tokens left for userID.
func (l *Limiter) Remaining(ctx context.Context, userID string) float64 {
	if userID == "" {
		return l.capacity
	}
	remaining, err := l.store.Remaining(ctx, key(userID), l.capacity, l.refillRate)
	if err != nil {
		return l.capacity
	}
	return remaining
}

// Reset refills userID's bucket.
func (l *Limiter) Reset(ctx context.Context, userID string) error {
	return l.store.Reset(ctx, key(userID))
}

// Capacity is the burst size.
func (l *Limiter) Capacity() float64 { return l.capacity }

// ResetAfter estimates how long until a bucket holding remaining tokens is full.
func (l *Limiter) ResetAfter(remaining float64) time.Duration {
	missing := l.capacity - remaining
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / l.refillRate * float64(time.Second))
}

// Close releases the store.
func (l *Limiter) Close() error {
	return l.store.Close()
}

func key(userID string) string { return "user:" + userID }
