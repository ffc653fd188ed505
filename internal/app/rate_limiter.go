package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActionRateLimiter throttles sensitive actions (approve, execute) per actor.
type ActionRateLimiter interface {
	// Allow consumes one unit for subject in scope and reports whether the action may
	// proceed and, if not, how many seconds until it may.
	Allow(ctx context.Context, scope, subject string) (allowed bool, retryAfterSeconds int, err error)
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisActionRateLimiter implements a fixed-window limit shared by all replicas.
type RedisActionRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisActionRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisActionRateLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "disbursement:rate_limit"
	}
	return &RedisActionRateLimiter{
		client: client,
		prefix: trimmedPrefix,
		limit:  limit,
		window: window,
	}
}

func (r *RedisActionRateLimiter) Allow(ctx context.Context, scope, subject string) (bool, int, error) {
	if r == nil || r.client == nil || r.limit <= 0 || r.window <= 0 {
		return true, 0, nil
	}
	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return true, 0, nil
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	currentCount, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	if int(currentCount) <= r.limit {
		return true, 0, nil
	}
	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter, nil
}
