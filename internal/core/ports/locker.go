package ports

import "context"

// SwapLocker provides mutual exclusion for transitions on a single swap.
// Different swaps proceed fully in parallel; there is no global lock. When
// multiple coordinator processes share one swap population the locker must
// be backed by a shared service (lease with TTL), not an in-process mutex.
type SwapLocker interface {
	// Acquire blocks until the lock for swapID is held or ctx is done.
	// The returned release function must be called on every exit path.
	Acquire(ctx context.Context, swapID string) (release func(), err error)
	Close()
}
