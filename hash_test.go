package readset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

func TestHashStringMatchesBytes(t *testing.T) {
	keys := generateRandomKeys(newTestRNG(t), 100, 13)
	for _, k := range keys {
		if HashString(string(k)) != HashBytes(k) {
			t.Fatalf("HashString and HashBytes disagree on %x", k)
		}
		if XXHashString(string(k)) != XXHashBytes(k) {
			t.Fatalf("XXHashString and XXHashBytes disagree on %x", k)
		}
		if Murmur3String(3)(string(k)) != Murmur3Bytes(3)(k) {
			t.Fatalf("Murmur3String and Murmur3Bytes disagree on %x", k)
		}
	}
}

func TestHashUint64Spreads(t *testing.T) {
	// Sequential integers must not cluster the way an identity hash would.
	const buckets = 64
	var counts [buckets]int
	for i := range uint64(buckets * 100) {
		counts[HashUint64(i)%buckets]++
	}
	for b, n := range counts {
		if n == 0 || n > 300 {
			t.Errorf("bucket %d holds %d of %d sequential keys", b, n, buckets*100)
		}
	}
}

func TestMurmur3Seeds(t *testing.T) {
	k := []byte("readset")
	if Murmur3Bytes(1)(k) == Murmur3Bytes(2)(k) {
		t.Error("different seeds produced the same hash")
	}
	if Murmur3Bytes(1)(k) != Murmur3Bytes(1)(bytes.Clone(k)) {
		t.Error("same seed is not deterministic")
	}
}

func TestKeyedHash(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	h, err := KeyedBytes(key)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("membership")
	if h(data) != h(bytes.Clone(data)) {
		t.Error("keyed hash is not deterministic")
	}

	other, err := KeyedBytes(bytes.Repeat([]byte{0x43}, 32))
	if err != nil {
		t.Fatal(err)
	}
	if h(data) == other(data) {
		t.Error("different keys produced the same hash")
	}

	// The strategy must not alias the caller's key.
	before := h(data)
	key[0] = 0
	if h(data) != before {
		t.Error("mutating the key changed the strategy")
	}

	ref, err := blake3.NewKeyed(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatal(err)
	}
	ref.Write(data)
	sum := ref.Sum(nil)
	var want uint64
	for i := 7; i >= 0; i-- {
		want = want<<8 | uint64(sum[i])
	}
	if got := h(data); got != want {
		t.Errorf("keyed hash = %016x, want %016x", got, want)
	}

	s, err := KeyedString(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatal(err)
	}
	if s(string(data)) != want {
		t.Error("KeyedString disagrees with KeyedBytes")
	}
}

func TestKeyedHashConcurrent(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	h, err := KeyedBytes(key)
	if err != nil {
		t.Fatal(err)
	}

	// Lengths straddle the 1 KiB chunk size so reused hashers carry state
	// across chunk boundaries.
	inputs := make([][]byte, 0, 64)
	rng := newTestRNG(t)
	for _, n := range []int{0, 1, 63, 64, 1023, 1024, 1025, 4097} {
		inputs = append(inputs, generateRandomKeys(rng, 8, n)...)
	}
	want := make([]uint64, len(inputs))
	for i, in := range inputs {
		ref, err := blake3.NewKeyed(key)
		if err != nil {
			t.Fatal(err)
		}
		ref.Write(in)
		want[i] = binary.LittleEndian.Uint64(ref.Sum(nil))
	}

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for round := 0; round < 20; round++ {
				for i, in := range inputs {
					if got := h(in); got != want[i] {
						return fmt.Errorf("input %d (%d bytes): hash %016x, want %016x", i, len(in), got, want[i])
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestKeyedHashRejectsBadKey(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33} {
		if _, err := KeyedBytes(make([]byte, n)); err == nil {
			t.Errorf("KeyedBytes accepted a %d-byte key", n)
		}
		if _, err := KeyedString(make([]byte, n)); err == nil {
			t.Errorf("KeyedString accepted a %d-byte key", n)
		}
	}
}

func TestKeyedHashBuildsSet(t *testing.T) {
	h, err := KeyedBytes(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatal(err)
	}
	keys := generateRandomKeys(newTestRNG(t), 500, 16)
	s, err := New(128, h, BytesEqual)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Destroy()
	if err := s.Assign(keys); err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if !s.Contains(k) {
			t.Fatalf("key %x not found", k)
		}
	}
	checkLayout(t, s)
}
