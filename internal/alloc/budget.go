// Package alloc provides the allocation channels used by a readset: one for
// bucket-boundary markers, one for stored elements, one for the working
// records of a build.
//
// Every channel follows the same protocol: Init, any number of
// Allocate/Deallocate pairs, Teardown. Allocate never panics; it returns nil
// when the request cannot be satisfied. Channels are not safe for
// concurrent use and are never shared between sets.
package alloc

import "golang.org/x/sync/semaphore"

// Budget caps the bytes a group of channels may hold at once.
// A nil *Budget is unlimited.
type Budget struct {
	sem   *semaphore.Weighted
	limit int64
}

// NewBudget returns a budget of limit bytes, or nil if limit <= 0.
func NewBudget(limit int64) *Budget {
	if limit <= 0 {
		return nil
	}
	return &Budget{sem: semaphore.NewWeighted(limit), limit: limit}
}

// Limit returns the configured byte limit, 0 for an unlimited budget.
func (b *Budget) Limit() int64 {
	if b == nil {
		return 0
	}
	return b.limit
}

func (b *Budget) acquire(n int64) bool {
	if b == nil || n == 0 {
		return true
	}
	return b.sem.TryAcquire(n)
}

func (b *Budget) release(n int64) {
	if b == nil || n == 0 {
		return
	}
	b.sem.Release(n)
}
