package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and optionally consumes one token atomically.
// ARGV: capacity, refill rate per second, now in seconds, cost (0 or 1).
var tokenBucketScript = goredis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now
local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
if bucket[1] then
  tokens = tonumber(bucket[1])
  last_refill = tonumber(bucket[2])
end

tokens = math.min(capacity, tokens + math.max(0, now - last_refill) * refill_rate)

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end
if cost > 0 then
  redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
  redis.call('EXPIRE', key, math.ceil(capacity / refill_rate) + 1)
end
return {allowed, tostring(tokens)}
`)

// RedisStore shares token buckets across instances through redis.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore uses client for bucket state. Keys are namespaced by prefix.
func NewRedisStore(client goredis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, capacity, refillRate float64) (bool, float64, error) {
	return s.eval(ctx, key, capacity, refillRate, 1)
}

func (s *RedisStore) Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error) {
	_, remaining, err := s.eval(ctx, key, capacity, refillRate, 0)
	return remaining, err
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis del: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStore) Close() error { return nil }

func (s *RedisStore) eval(ctx context.Context, key string, capacity, refillRate float64, cost int) (bool, float64, error) {
	now := float64(s.now().UnixNano()) / float64(time.Second)
	res, err := tokenBucketScript.Run(ctx, s.client, []string{s.prefix + key}, capacity, refillRate, now, cost).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: redis eval: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	allowed, _ := res[0].(int64)
	raw, _ := res[1].(string)
	remaining, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: parse remaining %q: %w", raw, err)
	}
	return allowed == 1, remaining, nil
}
