package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
)

// ErrLockNotHeld is returned when the lock expired before it was released.
var ErrLockNotHeld = errors.New("lock was not held or already expired")

// RedisOptions configures the RedLock mutexes.
type RedisOptions struct {
	// Expiry bounds how long a crashed holder can keep an account locked.
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultRedisOptions suits ledger mutations, which finish well under a second.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 100 * time.Millisecond,
	}
}

// RedisLocker serializes callers per key across service instances using the
// RedLock algorithm.
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   RedisOptions
	logger *zap.Logger
}

func NewRedisLocker(client goredislib.UniversalClient, opts RedisOptions, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

// Lock retries until the lock is taken, the tries run out, or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (interfaces.LockHandle, error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	return &redisHandle{mutex: mutex, logger: l.logger}, nil
}

type redisHandle struct {
	mutex  *redsync.Mutex
	logger *zap.Logger
}

func (h *redisHandle) Unlock(ctx context.Context) error {
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		h.logger.Error("failed to release lock", zap.String("key", h.mutex.Name()), zap.Error(err))
		return fmt.Errorf("release lock %s: %w", h.mutex.Name(), err)
	}

	if !ok {
		h.logger.Warn("lock was not held or already expired", zap.String("key", h.mutex.Name()))
		return ErrLockNotHeld
	}

	return nil
}

var _ interfaces.Locker = (*RedisLocker)(nil)
