package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryStore keeps one rate.Limiter per key in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	now      func() time.Time
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	capacity float64
}

// NewMemoryStore creates a new in-memory rate limit store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanup(5 * time.Minute)
}

// NewMemoryStoreWithCleanup creates a store that drops idle buckets every
// interval. A non-positive interval disables cleanup.
func NewMemoryStoreWithCleanup(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		buckets:  make(map[string]*bucket),
		now:      time.Now,
		interval: interval,
		stop:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) Allow(_ context.Context, key string, capacity, refillRate float64) (bool, float64, error) {
	b := s.bucket(key, capacity, refillRate)
	now := s.now()
	allowed := b.limiter.AllowN(now, 1)
	return allowed, b.limiter.TokensAt(now), nil
}

func (s *MemoryStore) Remaining(_ context.Context, key string, capacity, refillRate float64) (float64, error) {
	b := s.bucket(key, capacity, refillRate)
	return b.limiter.TokensAt(s.now()), nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Close stops background cleanup.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// Len returns the number of tracked buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *MemoryStore) bucket(key string, capacity, refillRate float64) *bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{
			limiter:  rate.NewLimiter(rate.Limit(refillRate), int(capacity)),
			capacity: capacity,
		}
		s.buckets[key] = b
	}
	return b
}

func (s *MemoryStore) cleanupLoop() {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stop:
			return
		}
	}
}

// cleanup drops buckets that have refilled, which is the same as not tracking them.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, b := range s.buckets {
		if b.limiter.TokensAt(now) >= b.capacity {
			delete(s.buckets, key)
		}
	}
}
