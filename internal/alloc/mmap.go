package alloc

import (
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// Mmap is a channel backed by anonymous memory maps outside the Go heap.
//
// T must not contain pointers: the garbage collector does not scan mapped
// memory. It is intended for boundary markers and working records.
type Mmap[T any] struct {
	budget  *Budget
	regions map[*T]mmap.MMap
	live    int
}

// NewMmap returns an mmap channel charging its allocations to budget.
func NewMmap[T any](budget *Budget) *Mmap[T] {
	return &Mmap[T]{budget: budget}
}

// Init prepares the region table. Calling Init on an open channel is a no-op.
func (m *Mmap[T]) Init() {
	if m.regions == nil {
		m.regions = make(map[*T]mmap.MMap)
	}
}

// Allocate maps n zeroed elements, or returns nil on failure.
func (m *Mmap[T]) Allocate(n int) []T {
	if n <= 0 || m.regions == nil {
		return nil
	}
	size, ok := byteSize[T](n)
	if !ok || size == 0 || size > int64(int(^uint(0)>>1)) || !m.budget.acquire(size) {
		return nil
	}
	region, err := mmap.MapRegion(nil, int(size), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		m.budget.release(size)
		return nil
	}
	s := unsafe.Slice((*T)(unsafe.Pointer(&region[0])), n)
	m.regions[&s[0]] = region
	m.live += n
	return s
}

// Deallocate unmaps a slice previously returned by Allocate.
func (m *Mmap[T]) Deallocate(s []T) {
	if len(s) == 0 {
		return
	}
	region, ok := m.regions[&s[0]]
	if !ok {
		return
	}
	delete(m.regions, &s[0])
	size, _ := byteSize[T](len(s))
	// Unmap of a region we mapped only fails on a corrupted address space.
	_ = region.Unmap()
	m.budget.release(size)
	m.live -= len(s)
}

// Teardown unmaps every outstanding region.
func (m *Mmap[T]) Teardown() {
	for p, region := range m.regions {
		_ = region.Unmap()
		delete(m.regions, p)
	}
	if m.live > 0 {
		size, _ := byteSize[T](m.live)
		m.budget.release(size)
	}
	m.live = 0
	m.regions = nil
}

// Live returns the number of elements mapped and not yet deallocated.
func (m *Mmap[T]) Live() int {
	return m.live
}
