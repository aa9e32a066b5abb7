package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes one token atomically. Tokens and the
// last refill time (milliseconds) live in one hash that expires after the
// bucket would have refilled twice over.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
	tokens = capacity
	ts = now
end

local elapsed = math.max(0, now - ts) / 1000
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', key, ttl)
return allowed
`)

// RedisRateLimiter shares token buckets between server instances.
type RedisRateLimiter struct {
	client     redis.UniversalClient
	keyPrefix  string
	capacity   int64
	refillRate float64
}

type RedisRateLimiterConfig struct {
	KeyPrefix  string
	Capacity   int64
	RefillRate float64 // tokens per second
}

func NewRedisRateLimiter(client redis.UniversalClient, cfg RedisRateLimiterConfig) *RedisRateLimiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "slam:ratelimit:"
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 60
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = 1
	}
	return &RedisRateLimiter{
		client:     client,
		keyPrefix:  cfg.KeyPrefix,
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillRate,
	}
}

// Allow implements Limiter.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixMilli()
	ttl := int64(2 * float64(r.capacity) / r.refillRate * 1000)
	if ttl < 1000 {
		ttl = 1000
	}

	allowed, err := tokenBucketScript.Run(ctx, r.client,
		[]string{r.keyPrefix + key},
		r.capacity, r.refillRate, now, ttl).Int64()
	if err != nil {
		return false, fmt.Errorf("redis token bucket: %w", err)
	}
	return allowed == 1, nil
}

// Reset forgets the bucket of key.
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}
