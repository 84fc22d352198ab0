package readset

import (
	"cmp"
	"fmt"
	"slices"

	readseterrors "github.com/tamirms/readset/errors"
	"golang.org/x/sync/errgroup"
)

// minParallelKeys is the smallest input for which WithWorkers splits the
// hashing pass across goroutines.
const minParallelKeys = 1 << 14

// build constructs the arena for keys and fills the bucket table.
// The set must have a table and no arena.
//
// Keys are sorted into bucket order through working records rather than
// by moving the keys themselves:
//
//  1. record {index, bucket} for every key
//  2. sort records by bucket (unstable: order within a bucket is unspecified)
//  3. a record's rank in that order is its arena slot
//  4. prefix-scan the records into the bucket table
//  5. sort records back into input order and copy each key to its slot
//
// On failure nothing allocated by build remains and the arena stays empty.
func (s *Set[K]) build(keys []K) error {
	n := len(keys)
	ch := s.ch

	arena := ch.elements.Allocate(n)
	if arena == nil {
		return fmt.Errorf("%w: arena of %d elements", readseterrors.ErrAllocationFailed, n)
	}
	records := ch.records.Allocate(n)
	if records == nil {
		ch.elements.Deallocate(arena)
		return fmt.Errorf("%w: %d working records", readseterrors.ErrAllocationFailed, n)
	}

	s.hashRecords(records, keys)

	slices.SortFunc(records, func(a, b Record) int {
		return cmp.Compare(a.Bucket, b.Bucket)
	})
	for i := range records {
		records[i].Position = i
	}
	fillTable(s.table, records)

	slices.SortFunc(records, func(a, b Record) int {
		return cmp.Compare(a.Index, b.Index)
	})
	for i, k := range keys {
		arena[records[i].Position] = k
	}

	ch.records.Deallocate(records)
	s.arena = arena
	return nil
}

// hashRecords fills records[i] with the input index and bucket of keys[i].
func (s *Set[K]) hashRecords(records []Record, keys []K) {
	buckets := uint64(s.bucketCount)
	fill := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			records[i] = Record{Index: i, Bucket: int(s.hash(keys[i]) % buckets)}
		}
	}

	workers := s.config().workers
	if workers <= 1 || len(keys) < minParallelKeys {
		fill(0, len(keys))
		return
	}

	chunk := (len(keys) + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < len(keys); lo += chunk {
		hi := min(lo+chunk, len(keys))
		g.Go(func() error {
			fill(lo, hi)
			return nil
		})
	}
	// Workers never fail; Wait only joins them.
	_ = g.Wait()
}

// fillTable sets table[j] to the number of records whose bucket is below j.
// records must be sorted by bucket. table[len(table)-1] ends up as
// len(records), the arena's end.
func fillTable(table []int, records []Record) {
	i := 0
	for j := range table {
		for i < len(records) && records[i].Bucket < j {
			i++
		}
		table[j] = i
	}
}
