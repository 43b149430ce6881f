package interfaces

import "context"

// LockHandle releases a lock obtained from a Locker.
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// Locker provides mutual exclusion per key. Different keys never block each other.
type Locker interface {
	Lock(ctx context.Context, key string) (LockHandle, error)
}
