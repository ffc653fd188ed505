/**
 * @description
 * Redis-backed distributed Locker built on redsync. Each key maps to a redsync mutex
 * with a bounded expiry, so a crashed holder cannot block a campaign forever.
 *
 * @dependencies
 * - github.com/go-redsync/redsync/v4: Redis mutex (SET NX PX + scripted release).
 * - github.com/redis/go-redis/v9: Redis client.
 */

package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options tunes redsync mutexes.
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions suits short read-modify-write critical sections.
func DefaultOptions() Options {
	return Options{
		Expiry:     30 * time.Second,
		Tries:      64,
		RetryDelay: 50 * time.Millisecond,
	}
}

// RedisLocker implements Locker with redsync.
type RedisLocker struct {
	rs     *redsync.Redsync
	prefix string
	opts   Options
	logger *zap.Logger
}

// NewRedisLocker creates a locker whose keys are namespaced under prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string, opts Options, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = defaults.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = defaults.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaults.RetryDelay
	}
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "disbursement:lock"
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: prefix,
		opts:   opts,
		logger: logger.Named("lock"),
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("lock key is required")
	}
	name := l.prefix + ":" + key
	mutex := l.rs.NewMutex(
		name,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	defer func() {
		// Release on a fresh context so a cancelled caller still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(releaseCtx); !ok || err != nil {
			l.logger.Warn("failed to release lock", zap.String("lock_key", name), zap.Bool("unlock_ok", ok), zap.Error(err))
		}
	}()

	return fn(ctx)
}
