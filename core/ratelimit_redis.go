package core

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient returns a configured go-redis client from URL (e.g.,
// redis://localhost:6379/0) after a connectivity check.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// attemptScript runs the whole check-then-update atomically so concurrent
// attempts from multiple API processes cannot corrupt the count.
// Returns {allowed, waitMs}.
var attemptScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local maxAttempts = tonumber(ARGV[3])
local maxBackoff = tonumber(ARGV[4])

local rec = redis.call('HMGET', KEYS[1], 'count', 'resetAt', 'lastAttempt')
local count = tonumber(rec[1])
local resetAt = tonumber(rec[2])
local lastAttempt = tonumber(rec[3])

if not count or now > resetAt then
  redis.call('HSET', KEYS[1], 'count', 1, 'resetAt', now + window, 'lastAttempt', now)
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, 0}
end

local minWait = count * 1000
if minWait > maxBackoff then
  minWait = maxBackoff
end
local elapsed = now - lastAttempt
if elapsed < minWait then
  return {0, minWait - elapsed}
end

if count > maxAttempts then
  return {0, resetAt - now}
end

redis.call('HSET', KEYS[1], 'count', count + 1, 'lastAttempt', now)
return {1, 0}
`)

// RedisRateLimiter implements RateLimiter on a shared redis so the login
// limits hold across API processes. Record TTL equals the window, which
// doubles as eviction for abandoned keys.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisRateLimiter wraps client; prefix namespaces the keys (e.g.,
// "ratelimit:login").
func NewRedisRateLimiter(client *redis.Client, prefix string) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: prefix, now: time.Now}
}

// Attempt mirrors LoginRateLimiter's state machine. Redis being unreachable
// fails open: login availability wins over rate-limit strictness.
func (l *RedisRateLimiter) Attempt(key string) Decision {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := l.now()
	res, err := attemptScript.Run(ctx, l.client, []string{l.prefix + ":" + key},
		now.UnixMilli(),
		rateLimitWindow.Milliseconds(),
		maxLoginAttempts,
		maxBackoff.Milliseconds(),
	).Int64Slice()
	if err != nil || len(res) != 2 {
		log.Printf("rate limit check failed for %s: %v", l.prefix, err)
		return Decision{Allowed: true}
	}

	if res[0] == 1 {
		return Decision{Allowed: true}
	}
	return Decision{WaitSeconds: ceilSeconds(time.Duration(res[1]) * time.Millisecond)}
}

// Reset deletes the record for key.
func (l *RedisRateLimiter) Reset(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.client.Del(ctx, l.prefix+":"+key).Err(); err != nil {
		log.Printf("rate limit reset failed for %s: %v", l.prefix, err)
	}
}

// fixedWindowScript counts attempts in a TTL window without backoff.
// Returns {allowed, waitMs}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl < 0 then
    ttl = tonumber(ARGV[2])
  end
  return {0, ttl}
end
return {1, 0}
`)

// RedisFixedWindowLimiter is the shared-store registration limiter: hard cap
// per window, no progressive backoff.
type RedisFixedWindowLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisFixedWindowLimiter wraps client under prefix.
func NewRedisFixedWindowLimiter(client *redis.Client, prefix string) *RedisFixedWindowLimiter {
	return &RedisFixedWindowLimiter{client: client, prefix: prefix}
}

// Attempt allows up to 5 attempts per key per 15 minutes. Redis errors fail
// open like RedisRateLimiter.
func (l *RedisFixedWindowLimiter) Attempt(key string) Decision {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + ":" + key},
		maxLoginAttempts,
		rateLimitWindow.Milliseconds(),
	).Int64Slice()
	if err != nil || len(res) != 2 {
		log.Printf("rate limit check failed for %s: %v", l.prefix, err)
		return Decision{Allowed: true}
	}

	if res[0] == 1 {
		return Decision{Allowed: true}
	}
	return Decision{WaitSeconds: ceilSeconds(time.Duration(res[1]) * time.Millisecond)}
}

// Reset deletes the record for key.
func (l *RedisFixedWindowLimiter) Reset(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.client.Del(ctx, l.prefix+":"+key).Err(); err != nil {
		log.Printf("rate limit reset failed for %s: %v", l.prefix, err)
	}
}
