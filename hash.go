package readset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/blake3"
	"github.com/zeebo/xxh3"
)

// HashFunc maps a key to an unsigned hash. The bucket of a key is
// hash(key) mod BucketCount.
//
// Hash functions must be deterministic, and safe for concurrent use when
// the set is queried from several goroutines or built with WithWorkers.
type HashFunc[K any] func(K) uint64

// EqualFunc reports whether two keys are the same element. It must be
// consistent with the HashFunc: equal keys hash equally.
type EqualFunc[K any] func(a, b K) bool

// Equal is the EqualFunc for comparable key types.
func Equal[K comparable](a, b K) bool {
	return a == b
}

// BytesEqual is the EqualFunc for []byte keys.
func BytesEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// HashBytes hashes a byte key with xxHash3-64. This is the recommended
// default for []byte keys.
func HashBytes(key []byte) uint64 {
	return xxh3.Hash(key)
}

// HashString hashes a string key with xxHash3-64 without copying it.
func HashString(key string) uint64 {
	return xxh3.HashString(key)
}

// HashUint64 hashes an integer key by running its little-endian bytes
// through xxHash3-64. Sequential integers land in unrelated buckets.
func HashUint64(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return xxh3.Hash(buf[:])
}

// XXHashBytes hashes a byte key with xxHash64.
func XXHashBytes(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// XXHashString hashes a string key with xxHash64.
func XXHashString(key string) uint64 {
	return xxhash.Sum64String(key)
}

// Murmur3Bytes returns a MurmurHash3 strategy for byte keys.
// Sets built with different seeds distribute keys differently, which is
// useful when a persisted set must be rebuilt with an independent layout.
func Murmur3Bytes(seed uint32) HashFunc[[]byte] {
	return func(key []byte) uint64 {
		return murmur3.Sum64WithSeed(key, seed)
	}
}

// Murmur3String returns a MurmurHash3 strategy for string keys.
func Murmur3String(seed uint32) HashFunc[string] {
	return func(key string) uint64 {
		return murmur3.Sum64WithSeed([]byte(key), seed)
	}
}

// KeyedBytes returns a keyed BLAKE3 strategy for byte keys.
//
// Use a secret key when the key set may be chosen by an adversary: without
// the key, inputs cannot be crafted to collide into one bucket and degrade
// Get to a linear scan. The key must be exactly 32 bytes.
func KeyedBytes(key []byte) (HashFunc[[]byte], error) {
	base, err := blake3.NewKeyed(key)
	if err != nil {
		return nil, fmt.Errorf("keyed hash: %w", err)
	}
	// Clones start in the keyed initial state, so the key schedule is
	// derived once per strategy.
	pool := &sync.Pool{New: func() any { return base.Clone() }}
	return func(data []byte) uint64 {
		h := pool.Get().(*blake3.Hasher)
		sum := keyedSum(h, data)
		pool.Put(h)
		return sum
	}, nil
}

// KeyedString returns a keyed BLAKE3 strategy for string keys.
// See KeyedBytes.
func KeyedString(key []byte) (HashFunc[string], error) {
	h, err := KeyedBytes(key)
	if err != nil {
		return nil, err
	}
	return func(s string) uint64 {
		return h([]byte(s))
	}, nil
}

// keyedSum hashes data with h, which must be in its keyed initial state,
// and resets h afterwards.
func keyedSum(h *blake3.Hasher, data []byte) uint64 {
	if _, err := h.Write(data); err != nil {
		panic("hash.Hash.Write returned unexpected error: " + err.Error())
	}
	var buf [32]byte
	sum := h.Sum(buf[:0])
	h.Reset()
	return binary.LittleEndian.Uint64(sum[:8])
}
