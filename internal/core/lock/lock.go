package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLocked is returned when the key is held by someone else.
var ErrLocked = errors.New("lock already held")

// ErrLost is returned by Extend once the lease expired and the key was
// released or taken by another holder.
var ErrLost = errors.New("lock lease lost")

// Lease is a held lock.
type Lease interface {
	// Extend pushes the expiry to ttl from now while the lease still owns the key.
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker grants exclusive leases on keys. A lease expires after ttl unless
// extended or released.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
