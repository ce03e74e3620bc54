package manager

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// slotWeight is the semaphore size of a slotLock. A writer takes all of it,
// a reader one unit.
const slotWeight = 1 << 20

// slotLock is a reader/writer lock whose waits end with ctx. Waiters are
// served in order, so a pending writer holds back later readers.
type slotLock struct {
	sem *semaphore.Weighted
}

func newSlotLock() slotLock { return slotLock{sem: semaphore.NewWeighted(slotWeight)} }

func (l slotLock) RLock(ctx context.Context) error { return l.sem.Acquire(ctx, 1) }
func (l slotLock) RUnlock()                        { l.sem.Release(1) }
func (l slotLock) TryRLock() bool                  { return l.sem.TryAcquire(1) }

func (l slotLock) Lock(ctx context.Context) error { return l.sem.Acquire(ctx, slotWeight) }
func (l slotLock) Unlock()                        { l.sem.Release(slotWeight) }
