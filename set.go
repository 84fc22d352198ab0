package readset

import (
	"fmt"
	"iter"
	"log/slog"
	"math"
	"unsafe"

	readseterrors "github.com/tamirms/readset/errors"
)

const (
	// DefaultBucketCount is the bucket count used by NewDefault and the CLI.
	DefaultBucketCount = 65535

	// maxKeys bounds both the element count and the bucket count. Larger
	// values are reported as allocation failures.
	maxKeys = uint64(1) << 40

	// autoBucketFactor sizes the bucket table when Assign runs on a set
	// that was never created.
	autoBucketFactor = 4
)

// Result is the outcome of a membership query.
type Result int

const (
	NotExists Result = iota
	Exists
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case Exists:
		return "exists"
	case NotExists:
		return "not exists"
	default:
		return "unknown"
	}
}

// Set is a read-only hash set. It is built from a key collection in one bulk
// Assign and afterwards answers membership queries and enumerates its keys.
//
// Keys are stored in one contiguous arena ordered by bucket. A table of
// BucketCount()+1 boundaries delimits each bucket: bucket i owns
// arena[table[i]:table[i+1]].
//
// The zero value is an empty, uncreated set with no hash strategy; call
// Create before Assign. Use NewLazy for a set that sizes its table on the
// first Assign.
//
// Thread Safety:
//   - Get, Contains, Len, All, Keys and Serialize are safe for concurrent use
//     while no goroutine mutates the set
//   - Create, Assign, AssignSeq, Clear, Destroy, CopyFrom and Deserialize
//     must be serialized by the caller
//
// Duplicate keys are not detected. Equal keys passed to Assign are all
// stored; Get reports Exists on the first match and Len counts each copy.
type Set[K any] struct {
	table       []int // bucketCount+1 boundaries into arena; nil when uncreated
	arena       []K   // nil when empty
	bucketCount int

	hash  HashFunc[K]
	equal EqualFunc[K]

	cfg *config
	ch  *channels[K]
}

// New creates a set with bucketCount buckets. On failure no memory stays
// allocated and the error carries the bucket count.
func New[K any](bucketCount int, hash HashFunc[K], equal EqualFunc[K], opts ...Option) (*Set[K], error) {
	s, err := NewLazy(hash, equal, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Create(bucketCount, hash, equal); err != nil {
		s.Destroy()
		return nil, fmt.Errorf("create readset with %d buckets: %w", bucketCount, err)
	}
	return s, nil
}

// MustNew is like New but panics on failure.
func MustNew[K any](bucketCount int, hash HashFunc[K], equal EqualFunc[K], opts ...Option) *Set[K] {
	s, err := New(bucketCount, hash, equal, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// NewDefault creates a set with DefaultBucketCount buckets.
func NewDefault[K any](hash HashFunc[K], equal EqualFunc[K], opts ...Option) (*Set[K], error) {
	return New(DefaultBucketCount, hash, equal, opts...)
}

// NewLazy returns an uncreated set that remembers its strategies. The first
// Assign of n > 0 keys creates a table of 4n buckets.
func NewLazy[K any](hash HashFunc[K], equal EqualFunc[K], opts ...Option) (*Set[K], error) {
	if hash == nil || equal == nil {
		return nil, readseterrors.ErrNilStrategy
	}
	cfg := newConfig(opts)
	ch, err := newChannels[K](cfg)
	if err != nil {
		return nil, err
	}
	return &Set[K]{hash: hash, equal: equal, cfg: cfg, ch: ch}, nil
}

// Create allocates a bucket table of bucketCount buckets and installs the
// strategies. Any previous table and keys are destroyed first.
func (s *Set[K]) Create(bucketCount int, hash HashFunc[K], equal EqualFunc[K]) error {
	s.Destroy()
	if hash == nil || equal == nil {
		return readseterrors.ErrNilStrategy
	}
	if err := s.createTable(bucketCount); err != nil {
		return err
	}
	s.hash = hash
	s.equal = equal
	return nil
}

// createTable allocates the bucket table. The set must have no table.
func (s *Set[K]) createTable(bucketCount int) error {
	if bucketCount <= 0 {
		return fmt.Errorf("%w: %d", readseterrors.ErrInvalidBucketCount, bucketCount)
	}
	if uint64(bucketCount) > maxKeys {
		return fmt.Errorf("%w: %d buckets exceeds maximum", readseterrors.ErrAllocationFailed, bucketCount)
	}
	ch := s.channels()
	ch.init()
	table := ch.table.Allocate(bucketCount + 1)
	if table == nil {
		return fmt.Errorf("%w: bucket table of %d entries", readseterrors.ErrAllocationFailed, bucketCount+1)
	}
	s.table = table
	s.bucketCount = bucketCount
	return nil
}

func (s *Set[K]) releaseTable() {
	if s.table == nil {
		return
	}
	s.ch.table.Deallocate(s.table)
	s.table = nil
	s.bucketCount = 0
}

// Assign replaces the contents of the set with keys. The keys are copied;
// the caller may reuse the slice afterwards. keys may be a view of the
// set's own storage (Keys, Bucket); such keys are staged through the
// element channel before the set is cleared.
//
// If the set has no table, one of 4*len(keys) buckets is created first.
// Assigning no keys succeeds without creating a table. On failure the set
// holds no keys, and a table created by this call is released again.
func (s *Set[K]) Assign(keys []K) error {
	if overlaps(keys, s.arena) {
		staged := s.ch.elements.Allocate(len(keys))
		if staged == nil {
			s.Clear()
			return fmt.Errorf("%w: staging %d keys of the set itself", readseterrors.ErrAllocationFailed, len(keys))
		}
		copy(staged, keys)
		defer s.releaseStaged(staged)
		keys = staged
	}

	s.Clear()
	if len(keys) == 0 {
		return nil
	}
	if tooManyKeys(len(keys)) {
		return fmt.Errorf("%w: %d keys exceeds maximum", readseterrors.ErrAllocationFailed, len(keys))
	}

	autoCreated := false
	if s.table == nil {
		if s.hash == nil || s.equal == nil {
			return readseterrors.ErrNotCreated
		}
		buckets := autoBucketFactor * uint64(len(keys))
		if buckets > math.MaxInt {
			return fmt.Errorf("%w: auto-create %d buckets", readseterrors.ErrAllocationFailed, buckets)
		}
		if err := s.createTable(int(buckets)); err != nil {
			return fmt.Errorf("auto-create bucket table: %w", err)
		}
		autoCreated = true
	}

	if err := s.build(keys); err != nil {
		if autoCreated {
			s.releaseTable()
		}
		s.logger().Warn("readset build rolled back",
			"keys", len(keys),
			"buckets", s.bucketCount,
			"error", err,
		)
		return err
	}
	s.logger().Debug("readset built",
		"keys", len(keys),
		"buckets", s.bucketCount,
		"auto_created", autoCreated,
	)
	return nil
}

// AssignSeq is like Assign for a sequence that can be traversed once and
// yields exactly n keys. The keys are staged in a temporary array from the
// element channel before the set is cleared, so seq may iterate the set
// itself (All). On failure the set holds no keys.
func (s *Set[K]) AssignSeq(n int, seq iter.Seq[K]) error {
	if n < 0 {
		s.Clear()
		return fmt.Errorf("%w: negative count %d", readseterrors.ErrLengthMismatch, n)
	}
	if n == 0 {
		for range seq {
			s.Clear()
			return fmt.Errorf("%w: declared 0 keys", readseterrors.ErrLengthMismatch)
		}
		s.Clear()
		return nil
	}
	if tooManyKeys(n) {
		s.Clear()
		return fmt.Errorf("%w: %d keys exceeds maximum", readseterrors.ErrAllocationFailed, n)
	}

	ch := s.channels()
	ch.init()
	staged := ch.elements.Allocate(n)
	if staged == nil {
		s.Clear()
		return fmt.Errorf("%w: staging %d keys", readseterrors.ErrAllocationFailed, n)
	}
	defer s.releaseStaged(staged)

	i := 0
	for k := range seq {
		if i == n {
			s.Clear()
			return fmt.Errorf("%w: sequence yields more than %d keys", readseterrors.ErrLengthMismatch, n)
		}
		staged[i] = k
		i++
	}
	if i != n {
		s.Clear()
		return fmt.Errorf("%w: sequence yielded %d of %d keys", readseterrors.ErrLengthMismatch, i, n)
	}
	return s.Assign(staged)
}

func tooManyKeys(n int) bool {
	return uint64(n) > maxKeys
}

// overlaps reports whether a and b share any backing memory.
func overlaps[K any](a, b []K) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	size := unsafe.Sizeof(a[0])
	if size == 0 {
		return false
	}
	a0 := uintptr(unsafe.Pointer(unsafe.SliceData(a)))
	b0 := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	return a0 < b0+uintptr(len(b))*size && b0 < a0+uintptr(len(a))*size
}

func (s *Set[K]) releaseStaged(staged []K) {
	clear(staged)
	s.ch.elements.Deallocate(staged)
}

// Get reports whether key is in the set.
func (s *Set[K]) Get(key K) Result {
	if len(s.arena) == 0 || s.table == nil {
		return NotExists
	}
	b := s.bucketOf(key)
	for _, k := range s.arena[s.table[b]:s.table[b+1]] {
		if s.equal(key, k) {
			return Exists
		}
	}
	return NotExists
}

// Contains reports whether key is in the set.
func (s *Set[K]) Contains(key K) bool {
	return s.Get(key) == Exists
}

func (s *Set[K]) bucketOf(key K) int {
	return int(s.hash(key) % uint64(s.bucketCount))
}

// Len returns the number of stored keys.
func (s *Set[K]) Len() int {
	return len(s.arena)
}

// BucketCount returns the number of buckets, 0 if the set is uncreated.
func (s *Set[K]) BucketCount() int {
	return s.bucketCount
}

// IsCreated reports whether the bucket table is allocated.
func (s *Set[K]) IsCreated() bool {
	return s.table != nil
}

// Clear releases the stored keys and keeps the bucket table.
func (s *Set[K]) Clear() {
	if s.arena != nil {
		clear(s.arena)
		s.ch.elements.Deallocate(s.arena)
		s.arena = nil
	}
	clear(s.table)
}

// Destroy releases the keys and the bucket table and closes the allocation
// channels. The strategies are kept, so a set from NewLazy can be assigned
// again. Destroy is idempotent.
func (s *Set[K]) Destroy() {
	s.Clear()
	s.releaseTable()
	if s.ch != nil {
		s.ch.teardown()
	}
}

// Keys returns the stored keys in bucket order. The slice aliases the
// set's storage and must not be modified; it is invalidated by the next
// mutating call.
func (s *Set[K]) Keys() []K {
	return s.arena
}

// All yields the stored keys in bucket order.
func (s *Set[K]) All() iter.Seq[K] {
	return func(yield func(K) bool) {
		for _, k := range s.arena {
			if !yield(k) {
				return
			}
		}
	}
}

// Bucket returns the keys stored in bucket i, or nil if i is out of range.
// The slice aliases the set's storage and must not be modified.
func (s *Set[K]) Bucket(i int) []K {
	if s.arena == nil || i < 0 || i >= s.bucketCount {
		return nil
	}
	return s.arena[s.table[i]:s.table[i+1]]
}

// Clone returns an independent copy of s, rebuilt from its keys with the
// same bucket count and strategies. Nothing is shared with s.
func (s *Set[K]) Clone() (*Set[K], error) {
	cfg := s.config()
	ch, err := newChannels[K](cfg)
	if err != nil {
		return nil, err
	}
	c := &Set[K]{hash: s.hash, equal: s.equal, cfg: cfg, ch: ch}
	if err := c.rebuildFrom(s); err != nil {
		c.Destroy()
		return nil, fmt.Errorf("clone readset: %w", err)
	}
	return c, nil
}

// CopyFrom replaces the contents of s with a rebuilt copy of src, adopting
// its bucket count and strategies. If the rebuild fails, s is restored to
// its previous contents and the error is returned.
func (s *Set[K]) CopyFrom(src *Set[K]) error {
	if s == src {
		return nil
	}
	prior := *s
	s.table, s.arena, s.bucketCount = nil, nil, 0
	s.hash, s.equal = src.hash, src.equal

	if err := s.rebuildFrom(src); err != nil {
		s.Clear()
		s.releaseTable()
		s.table, s.arena, s.bucketCount = prior.table, prior.arena, prior.bucketCount
		s.hash, s.equal = prior.hash, prior.equal
		s.logger().Warn("readset copy rolled back", "source_keys", src.Len(), "error", err)
		return fmt.Errorf("copy readset: %w", err)
	}

	if prior.arena != nil {
		clear(prior.arena)
		s.ch.elements.Deallocate(prior.arena)
	}
	if prior.table != nil {
		s.ch.table.Deallocate(prior.table)
	}
	return nil
}

// rebuildFrom builds src's keys into s, which must hold no table.
func (s *Set[K]) rebuildFrom(src *Set[K]) error {
	if src.table == nil {
		return nil
	}
	if err := s.createTable(src.bucketCount); err != nil {
		return err
	}
	if len(src.arena) == 0 {
		return nil
	}
	return s.build(src.arena)
}

// Stats describes the bucket occupancy of a set.
type Stats struct {
	NumKeys      int
	NumBuckets   int
	EmptyBuckets int
	MaxBucketLen int
	LoadFactor   float64 // keys per bucket
}

// Stats returns occupancy statistics for the set.
func (s *Set[K]) Stats() Stats {
	st := Stats{NumKeys: len(s.arena), NumBuckets: s.bucketCount}
	if s.table == nil {
		return st
	}
	for i := range s.bucketCount {
		n := s.table[i+1] - s.table[i]
		if n == 0 {
			st.EmptyBuckets++
		}
		st.MaxBucketLen = max(st.MaxBucketLen, n)
	}
	st.LoadFactor = float64(st.NumKeys) / float64(st.NumBuckets)
	return st
}

func (s *Set[K]) config() *config {
	if s.cfg == nil {
		s.cfg = defaultConfig()
	}
	return s.cfg
}

func (s *Set[K]) channels() *channels[K] {
	if s.ch == nil {
		// The default config has no element allocator to mismatch.
		s.ch, _ = newChannels[K](s.config())
	}
	return s.ch
}

func (s *Set[K]) logger() *slog.Logger {
	return s.config().logger
}
