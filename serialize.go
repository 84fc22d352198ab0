package readset

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/tamirms/readset/codec"
	readseterrors "github.com/tamirms/readset/errors"
	"github.com/tamirms/readset/internal/encoding"
)

// Serialize writes the set to w as
//
//	[bucket count uint64_le][element count uint64_le][element 0] ... [element n-1]
//
// with elements in arena (bucket) order, each written by c. If c fails,
// Serialize stops and returns an error wrapping ErrElementCodec; bytes already
// written are not retracted and the output must be treated as corrupt.
func (s *Set[K]) Serialize(w io.Writer, c codec.Codec[K]) error {
	bw := bufio.NewWriter(w)
	if err := encoding.WriteUint64(bw, uint64(s.bucketCount)); err != nil {
		return fmt.Errorf("write bucket count: %w", err)
	}
	if err := encoding.WriteUint64(bw, uint64(len(s.arena))); err != nil {
		return fmt.Errorf("write element count: %w", err)
	}
	for i := range s.arena {
		if err := c.Encode(bw, s.arena[i]); err != nil {
			return fmt.Errorf("%w: encode element %d: %w", readseterrors.ErrElementCodec, i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Bounds on a decoded stream. Staging starts at decodeChunk elements and
// doubles as elements arrive, so a false element count runs into the end of
// the stream before memory is committed for it. The bucket count may exceed
// the element count by decodeBucketsPerKey, or reach decodeBucketSlack for
// small sets.
const (
	decodeChunk         = 4096
	decodeBucketsPerKey = 64
	decodeBucketSlack   = 1 << 24
)

// Deserialize replaces the contents of the set with a stream written by
// Serialize. The set keeps its strategies; keys are re-hashed and
// re-bucketed into a table of the persisted bucket count, so the stream
// may come from a set built with a different hash function.
//
// Deserialize reads exactly the bytes of one stream and never reads ahead.
// A zero bucket or element count, a bucket count out of proportion to the
// element count, or an element c cannot decode, fails with
// ErrCorruptStream. On any failure the set is left destroyed.
func (s *Set[K]) Deserialize(r io.Reader, c codec.Codec[K]) error {
	s.Destroy()
	if s.hash == nil || s.equal == nil {
		return readseterrors.ErrNilStrategy
	}

	bucketCount, err := encoding.ReadUint64(r)
	if err != nil {
		return fmt.Errorf("%w: read bucket count: %w", readseterrors.ErrCorruptStream, err)
	}
	count, err := encoding.ReadUint64(r)
	if err != nil {
		return fmt.Errorf("%w: read element count: %w", readseterrors.ErrCorruptStream, err)
	}
	if bucketCount == 0 || count == 0 {
		return fmt.Errorf("%w: bucket count %d, element count %d",
			readseterrors.ErrCorruptStream, bucketCount, count)
	}
	if bucketCount > maxKeys || count > maxKeys || bucketCount > math.MaxInt || count > math.MaxInt {
		return fmt.Errorf("%w: bucket count %d, element count %d exceeds maximum",
			readseterrors.ErrCorruptStream, bucketCount, count)
	}
	if bucketCount > max(decodeBucketSlack, decodeBucketsPerKey*count) {
		return fmt.Errorf("%w: %d buckets for %d elements",
			readseterrors.ErrCorruptStream, bucketCount, count)
	}

	staged, err := s.decodeElements(r, c, int(count))
	if err != nil {
		s.Destroy()
		return err
	}

	err = s.createTable(int(bucketCount))
	if err == nil {
		if err = s.Assign(staged); err != nil {
			err = fmt.Errorf("rebuild decoded set: %w", err)
		}
	}
	s.releaseStaged(staged)
	if err != nil {
		s.Destroy()
		return err
	}
	s.logger().Debug("readset decoded", "keys", len(staged), "buckets", s.bucketCount)
	return nil
}

// decodeElements reads n elements into staging from the element channel,
// growing it in chunks. The returned slice has length n.
func (s *Set[K]) decodeElements(r io.Reader, c codec.Codec[K], n int) ([]K, error) {
	ch := s.channels()
	ch.init()

	staged := ch.elements.Allocate(min(n, decodeChunk))
	if staged == nil {
		return nil, fmt.Errorf("%w: staging decoded elements", readseterrors.ErrAllocationFailed)
	}
	for i := 0; i < n; i++ {
		if i == len(staged) {
			grown := ch.elements.Allocate(min(n, 2*len(staged)))
			if grown == nil {
				s.releaseStaged(staged)
				return nil, fmt.Errorf("%w: staging %d decoded elements", readseterrors.ErrAllocationFailed, 2*len(staged))
			}
			copy(grown, staged)
			s.releaseStaged(staged)
			staged = grown
		}
		if err := c.Decode(r, &staged[i]); err != nil {
			s.releaseStaged(staged)
			return nil, fmt.Errorf("%w: %w: decode element %d of %d: %w",
				readseterrors.ErrCorruptStream, readseterrors.ErrElementCodec, i, n, err)
		}
	}
	return staged, nil
}
