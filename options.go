package readset

import (
	"fmt"
	"log/slog"

	"github.com/tamirms/readset/internal/alloc"
)

// Allocator is an allocation channel for one category of storage.
//
// Allocate returns nil when it cannot satisfy a request and must not panic.
// Slices it returns are zeroed. A set calls Init before its first
// allocation and Teardown when it is destroyed; Init may be called again on
// an already initialized channel.
type Allocator[T any] interface {
	Init()
	Allocate(n int) []T
	Deallocate(s []T)
	Teardown()
}

// Record is the transient per-key working record of a build. It maps the
// key's position in the input to its slot in the arena.
type Record struct {
	Index    int // position in the input
	Position int // slot in the arena
	Bucket   int // hash(key) mod bucket count
}

// Option configures a set.
type Option func(*config)

type config struct {
	workers     int
	logger      *slog.Logger
	budget      int64 // bytes; 0 = unlimited
	mmapScratch bool

	// Channel factories. elements holds a func() Allocator[K], typed at New.
	tables   func(*alloc.Budget) Allocator[int]
	records  func(*alloc.Budget) Allocator[Record]
	elements any
}

func defaultConfig() *config {
	return &config{
		workers: 1,
		logger:  slog.New(slog.DiscardHandler),
	}
}

func newConfig(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithWorkers hashes input keys on n goroutines during a build.
// The resulting layout is identical to a single-threaded build; the
// HashFunc must be safe for concurrent use.
func WithWorkers(n int) Option {
	return func(c *config) {
		c.workers = n
	}
}

// WithLogger sets the logger for build, decode and rollback events.
// The default discards all output.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMemoryBudget caps the bytes a set may hold across its three
// channels at once. Requests beyond the cap fail with ErrAllocationFailed.
// Each set gets its own budget; copies do not share it.
func WithMemoryBudget(bytes int64) Option {
	return func(c *config) {
		c.budget = bytes
	}
}

// WithMmapScratch backs the bucket table and working records with
// anonymous memory maps instead of the Go heap, keeping large tables out
// of the garbage collector's view.
func WithMmapScratch() Option {
	return func(c *config) {
		c.mmapScratch = true
	}
}

// WithTableAllocator replaces the channel for bucket-boundary markers.
// newAlloc is called once per set.
func WithTableAllocator(newAlloc func() Allocator[int]) Option {
	return func(c *config) {
		c.tables = func(*alloc.Budget) Allocator[int] { return newAlloc() }
	}
}

// WithRecordAllocator replaces the channel for working records.
func WithRecordAllocator(newAlloc func() Allocator[Record]) Option {
	return func(c *config) {
		c.records = func(*alloc.Budget) Allocator[Record] { return newAlloc() }
	}
}

// WithElementAllocator replaces the channel for stored elements. K must
// match the key type of the set it is passed to.
func WithElementAllocator[K any](newAlloc func() Allocator[K]) Option {
	return func(c *config) {
		c.elements = newAlloc
	}
}

// channels holds the three allocation channels owned by one set.
type channels[K any] struct {
	table    Allocator[int]
	elements Allocator[K]
	records  Allocator[Record]
	open     bool
}

func newChannels[K any](cfg *config) (*channels[K], error) {
	budget := alloc.NewBudget(cfg.budget)
	ch := &channels[K]{}

	switch {
	case cfg.tables != nil:
		ch.table = cfg.tables(budget)
	case cfg.mmapScratch:
		ch.table = alloc.NewMmap[int](budget)
	default:
		ch.table = alloc.NewHeap[int](budget)
	}

	switch {
	case cfg.records != nil:
		ch.records = cfg.records(budget)
	case cfg.mmapScratch:
		ch.records = alloc.NewMmap[Record](budget)
	default:
		ch.records = alloc.NewHeap[Record](budget)
	}

	if cfg.elements != nil {
		newAlloc, ok := cfg.elements.(func() Allocator[K])
		if !ok {
			return nil, fmt.Errorf("readset: element allocator %T does not match key type %T", cfg.elements, *new(K))
		}
		ch.elements = newAlloc()
	} else {
		ch.elements = alloc.NewHeap[K](budget)
	}
	return ch, nil
}

func (ch *channels[K]) init() {
	if ch.open {
		return
	}
	ch.table.Init()
	ch.elements.Init()
	ch.records.Init()
	ch.open = true
}

func (ch *channels[K]) teardown() {
	if !ch.open {
		return
	}
	ch.table.Teardown()
	ch.elements.Teardown()
	ch.records.Teardown()
	ch.open = false
}
