// Package lock provides short-lived named leases used to serialize work on a
// case, an appointment settlement or a coupon code.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLocked is returned by TryLock when another holder owns the key.
var ErrLocked = errors.New("lock: key is held")

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

type Locker interface {
	// TryLock acquires key without waiting or returns ErrLocked.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
	// Lock waits for key until it is acquired or ctx is done.
	Lock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
