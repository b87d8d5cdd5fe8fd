package pglocker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crossfusion/swapd/internal/core/ports"
)

// locker maps each swap id to a postgres advisory lock, so that multiple
// coordinator instances sharing a database never mutate the same swap
// concurrently. Each acquired lock pins one pooled connection until release.
type locker struct {
	pool *pgxpool.Pool
}

func NewSwapLocker(pool *pgxpool.Pool) ports.SwapLocker {
	return &locker{pool: pool}
}

func (l *locker) Acquire(ctx context.Context, swapID string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	key := lockKey(swapID)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Unlock on a fresh context: the caller's one may be done.
			//nolint:all
			conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key)
			conn.Release()
		})
	}, nil
}

func (l *locker) Close() {}

func lockKey(swapID string) int64 {
	h := fnv.New64a()
	// nolint:all
	h.Write([]byte(swapID))
	return int64(h.Sum64())
}
