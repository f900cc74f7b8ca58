package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter guards link issuance. Allow reports whether another request
// for the key fits in the window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ---- Fixed Window Rate Limiter (Memory) ----

type fixedWindowEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryRateLimiter implements rate limiting using fixed time windows held
// in process memory. Suitable for single-instance deployments; use the Redis
// limiter when running more than one replica.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*fixedWindowEntry
}

// NewMemoryRateLimiter creates a new fixed window rate limiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		entries: make(map[string]*fixedWindowEntry),
	}
}

func (r *MemoryRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry, exists := r.entries[key]

	if !exists || now.After(entry.expiresAt) {
		r.entries[key] = &fixedWindowEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
		return true, nil
	}

	if entry.count >= limit {
		return false, nil
	}

	entry.count++
	return true, nil
}

// ---- Redis Rate Limiter ----

// RedisRateLimiter implements RateLimiter on Redis for deployments with
// multiple service instances.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimiter creates a new Redis-based rate limiter.
func NewRedisRateLimiter(client *redis.Client, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "lumen:ratelimit:"
	}
	return &RedisRateLimiter{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	// Lua script for atomic increment + expire on first hit.
	script := redis.NewScript(`
		local count = redis.call('INCR', KEYS[1])
		if count == 1 then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
		end
		return count
	`)

	result, err := script.Run(ctx, r.client, []string{r.prefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("redis rate limit: allow check failed: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("redis rate limit: unexpected result type")
	}

	return count <= int64(limit), nil
}
