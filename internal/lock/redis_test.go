package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T, opts RedisOptions) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLocker(client, opts, nil), mr
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	l, mr := newTestRedisLocker(t, DefaultRedisOptions())
	ctx := context.Background()

	h, err := l.Lock(ctx, "lock:ledger:acct-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:ledger:acct-1"))

	require.NoError(t, h.Unlock(ctx))
	assert.False(t, mr.Exists("lock:ledger:acct-1"))
}

func TestRedisLocker_ContendedKeyFails(t *testing.T) {
	l, _ := newTestRedisLocker(t, RedisOptions{
		Expiry:     5 * time.Second,
		Tries:      2,
		RetryDelay: 10 * time.Millisecond,
	})
	ctx := context.Background()

	h, err := l.Lock(ctx, "lock:ledger:acct-1")
	require.NoError(t, err)
	defer h.Unlock(ctx)

	_, err = l.Lock(ctx, "lock:ledger:acct-1")
	assert.Error(t, err)

	other, err := l.Lock(ctx, "lock:ledger:acct-2")
	require.NoError(t, err)
	require.NoError(t, other.Unlock(ctx))
}

func TestRedisLocker_ExpiredLockReportsNotHeld(t *testing.T) {
	l, mr := newTestRedisLocker(t, RedisOptions{
		Expiry:     time.Second,
		Tries:      1,
		RetryDelay: 10 * time.Millisecond,
	})
	ctx := context.Background()

	h, err := l.Lock(ctx, "lock:ledger:acct-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	err = h.Unlock(ctx)
	assert.Error(t, err)
}
