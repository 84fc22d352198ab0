package readset

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/cespare/xxhash/v2"
)

// Fixed seeds for reproducible tests. Each test derives its own stream from
// its name so adding a test does not shift the keys of another.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

// generateRandomKeys creates n deterministic pseudo-random byte keys.
func generateRandomKeys(rng *rand.Rand, n, keySize int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = make([]byte, keySize)
		for j := 0; j < keySize; j += 8 {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], rng.Uint64())
			copy(keys[i][j:], buf[:])
		}
	}
	return keys
}

// generateUniqueUint64s creates n distinct pseudo-random integers.
func generateUniqueUint64s(rng *rand.Rand, n int) []uint64 {
	seen := make(map[uint64]struct{}, n)
	out := make([]uint64, 0, n)
	for len(out) < n {
		v := rng.Uint64()
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// modHash buckets an integer by its value, making bucket placement
// predictable in tests.
func modHash(v uint64) uint64 { return v }

func newUint64Set(t testing.TB, buckets int, opts ...Option) *Set[uint64] {
	t.Helper()
	s, err := New(buckets, HashUint64, Equal[uint64], opts...)
	if err != nil {
		t.Fatalf("New(%d): %v", buckets, err)
	}
	t.Cleanup(s.Destroy)
	return s
}

// checkLayout verifies the table and arena invariants of s: boundaries are
// monotone from 0 to Len, and every key sits in the bucket its hash names.
func checkLayout[K any](t testing.TB, s *Set[K]) {
	t.Helper()
	if !s.IsCreated() {
		if s.Len() != 0 {
			t.Fatalf("uncreated set holds %d keys", s.Len())
		}
		return
	}
	if len(s.table) != s.bucketCount+1 {
		t.Fatalf("table has %d entries, want %d", len(s.table), s.bucketCount+1)
	}
	if s.Len() == 0 {
		return
	}
	if s.table[0] != 0 || s.table[s.bucketCount] != s.Len() {
		t.Fatalf("table spans [%d, %d], want [0, %d]", s.table[0], s.table[s.bucketCount], s.Len())
	}
	for i := range s.bucketCount {
		if s.table[i] > s.table[i+1] {
			t.Fatalf("table[%d]=%d > table[%d]=%d", i, s.table[i], i+1, s.table[i+1])
		}
		for _, k := range s.Bucket(i) {
			if b := s.bucketOf(k); b != i {
				t.Fatalf("key in bucket %d hashes to bucket %d", i, b)
			}
		}
	}
}

// sortedUint64s returns the keys of s in ascending order.
func sortedUint64s(s *Set[uint64]) []uint64 {
	out := slices.Clone(s.Keys())
	slices.Sort(out)
	return out
}

func xxhashSum(b []byte) uint64 {
	return xxhash.Sum64(b)
}
