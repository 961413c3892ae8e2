// Package datelock serializes topic-set writers per news date. At most one
// job (an incremental batch or a clustering pass) holds a date at a time;
// different dates never contend. Waits are bounded by the caller's context
// so a blocked cycle is skipped and retried on the next schedule instead
// of piling up.
package datelock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/newspulse/newspulse/internal/domain"
)

// Keyed hands out one exclusive lock per news date, created lazily.
type Keyed struct {
	mu    sync.Mutex
	locks map[domain.NewsDate]*semaphore.Weighted
}

// NewKeyed builds an empty lock registry.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[domain.NewsDate]*semaphore.Weighted)}
}

// Acquire takes the exclusive lock for date, waiting no longer than ctx
// allows. On timeout or cancellation it returns domain.ErrLockBusy and the
// caller abandons the cycle. The returned release func must be called
// exactly once.
func (k *Keyed) Acquire(ctx context.Context, date domain.NewsDate) (release func(), err error) {
	k.mu.Lock()
	sem, ok := k.locks[date]
	if !ok {
		sem = semaphore.NewWeighted(1)
		k.locks[date] = sem
	}
	k.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, domain.ErrLockBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}
