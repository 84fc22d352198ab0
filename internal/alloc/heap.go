package alloc

import (
	"math"
	"unsafe"
)

// Heap is a channel backed by ordinary Go slices.
type Heap[T any] struct {
	budget *Budget
	live   int
	open   bool
}

// NewHeap returns a heap channel charging its allocations to budget.
func NewHeap[T any](budget *Budget) *Heap[T] {
	return &Heap[T]{budget: budget}
}

// Init marks the channel ready. Calling Init on an open channel is a no-op.
func (h *Heap[T]) Init() {
	h.open = true
}

// Allocate returns a zeroed slice of n elements, or nil if n is not
// positive, the budget is exhausted, or the runtime refuses the length.
// A length the runtime accepts but the system cannot back is fatal; bound
// such requests with a Budget.
func (h *Heap[T]) Allocate(n int) (s []T) {
	if n <= 0 {
		return nil
	}
	size, ok := byteSize[T](n)
	if !ok || !h.budget.acquire(size) {
		return nil
	}
	// make panics on lengths the runtime cannot represent.
	defer func() {
		if recover() != nil {
			h.budget.release(size)
			s = nil
		}
	}()
	s = make([]T, n)
	h.live += n
	return s
}

// Deallocate zeroes s and returns its bytes to the budget.
func (h *Heap[T]) Deallocate(s []T) {
	if len(s) == 0 {
		return
	}
	clear(s)
	size, _ := byteSize[T](len(s))
	h.budget.release(size)
	h.live -= len(s)
}

// Teardown closes the channel. Outstanding slices remain valid Go memory
// but are no longer charged to the budget.
func (h *Heap[T]) Teardown() {
	if h.live > 0 {
		size, _ := byteSize[T](h.live)
		h.budget.release(size)
	}
	h.live = 0
	h.open = false
}

// Live returns the number of elements allocated and not yet deallocated.
func (h *Heap[T]) Live() int {
	return h.live
}

func byteSize[T any](n int) (int64, bool) {
	var zero T
	size := int64(unsafe.Sizeof(zero))
	if size == 0 {
		return 0, true
	}
	if int64(n) > math.MaxInt64/size {
		return 0, false
	}
	return int64(n) * size, true
}
