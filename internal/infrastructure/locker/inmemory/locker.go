package inmemorylocker

import (
	"context"
	"sync"

	"github.com/crossfusion/swapd/internal/core/ports"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// locker serializes access per swap id with one mutex per in-flight swap.
// Entries are reference counted and dropped once the last holder releases.
type locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewSwapLocker() ports.SwapLocker {
	return &locker{entries: make(map[string]*entry)}
}

func (l *locker) Acquire(ctx context.Context, swapID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[swapID]
	if !ok {
		e = &entry{}
		l.entries[swapID] = e
	}
	e.refs++
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		// The goroutine above still holds or will hold the mutex, so
		// hand the release over to it once it gets through.
		go func() {
			<-acquired
			l.release(swapID, e)
		}()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(swapID, e) })
	}, nil
}

func (l *locker) release(swapID string, e *entry) {
	e.mu.Unlock()
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, swapID)
	}
	l.mu.Unlock()
}

func (l *locker) Close() {}
