// Package lock provides per-key mutual exclusion for ledger accounts, either
// inside one process or across instances through Redis.
package lock

import (
	"context"
	"sync"

	"github.com/sheikh-saqib/merchant-ledger/internal/interfaces"
)

type keyMutex struct {
	mu   sync.Mutex
	refs int
}

// MutexLocker serializes callers per key inside one process.
type MutexLocker struct {
	muMap map[string]*keyMutex // one mutex per key, dropped when unused
	mapMu sync.Mutex           // protects muMap itself
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{muMap: make(map[string]*keyMutex)}
}

func (l *MutexLocker) acquire(key string) *keyMutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	km, exists := l.muMap[key]
	if !exists {
		km = &keyMutex{}
		l.muMap[key] = km
	}
	km.refs++

	return km
}

func (l *MutexLocker) release(key string, km *keyMutex) {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	km.refs--
	if km.refs == 0 {
		delete(l.muMap, key)
	}
}

// Lock blocks until key is free or ctx is done.
func (l *MutexLocker) Lock(ctx context.Context, key string) (interfaces.LockHandle, error) {
	km := l.acquire(key)

	locked := make(chan struct{})
	go func() {
		km.mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
		return &mutexHandle{locker: l, key: key, km: km}, nil
	case <-ctx.Done():
		// The goroutine still takes the mutex eventually; hand it straight back.
		go func() {
			<-locked
			km.mu.Unlock()
			l.release(key, km)
		}()

		return nil, ctx.Err()
	}
}

type mutexHandle struct {
	once   sync.Once
	locker *MutexLocker
	key    string
	km     *keyMutex
}

func (h *mutexHandle) Unlock(context.Context) error {
	h.once.Do(func() {
		h.km.mu.Unlock()
		h.locker.release(h.key, h.km)
	})

	return nil
}

var _ interfaces.Locker = (*MutexLocker)(nil)
