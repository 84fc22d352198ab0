// Package codec provides per-element field codecs for the readset stream
// format.
//
// A Codec writes one element to an io.Writer and reads one element back from
// an io.Reader. Decode must consume exactly the bytes Encode produced, since
// elements are stored back to back with no framing of their own. The codecs in
// this package are stateless and safe for concurrent use.
package codec

import (
	"fmt"
	"io"

	"github.com/tamirms/readset/internal/encoding"
)

// Codec encodes and decodes single elements of type K.
type Codec[K any] interface {
	Encode(w io.Writer, v K) error
	Decode(r io.Reader, v *K) error
}

// Funcs adapts a pair of functions to Codec.
type Funcs[K any] struct {
	EncodeFunc func(w io.Writer, v K) error
	DecodeFunc func(r io.Reader, v *K) error
}

// Encode calls f.EncodeFunc.
func (f Funcs[K]) Encode(w io.Writer, v K) error { return f.EncodeFunc(w, v) }

// Decode calls f.DecodeFunc.
func (f Funcs[K]) Decode(r io.Reader, v *K) error { return f.DecodeFunc(r, v) }

// Uint64 stores uint64 values as 8 little-endian bytes.
type Uint64 struct{}

// Encode writes v as 8 little-endian bytes.
func (Uint64) Encode(w io.Writer, v uint64) error { return encoding.WriteUint64(w, v) }

// Decode reads 8 little-endian bytes into v.
func (Uint64) Decode(r io.Reader, v *uint64) error {
	x, err := encoding.ReadUint64(r)
	if err != nil {
		return err
	}
	*v = x
	return nil
}

// Int64 stores int64 values as 8 little-endian bytes (two's complement).
type Int64 struct{}

// Encode writes the two's complement bits of v as 8 little-endian bytes.
func (Int64) Encode(w io.Writer, v int64) error { return encoding.WriteUint64(w, uint64(v)) }

// Decode reads 8 little-endian bytes into v.
func (Int64) Decode(r io.Reader, v *int64) error {
	x, err := encoding.ReadUint64(r)
	if err != nil {
		return err
	}
	*v = int64(x)
	return nil
}

// String stores strings as [len uint32_le][bytes].
type String struct{}

// Encode writes the length of v and its bytes. Strings longer than
// encoding.MaxBlobLen fail with encoding.ErrBlobTooLarge.
func (String) Encode(w io.Writer, v string) error {
	if len(v) > encoding.MaxBlobLen {
		return fmt.Errorf("%w: %d bytes", encoding.ErrBlobTooLarge, len(v))
	}
	if err := encoding.WriteUint32(w, uint32(len(v))); err != nil {
		return err
	}
	_, err := io.WriteString(w, v)
	return err
}

// Decode reads a length-prefixed string into v.
func (String) Decode(r io.Reader, v *string) error {
	b, err := encoding.ReadBlob(r)
	if err != nil {
		return err
	}
	*v = string(b)
	return nil
}

// Bytes stores byte slices as [len uint32_le][bytes]. Decoded slices are
// freshly allocated and never alias the reader's buffer.
type Bytes struct{}

// Encode writes the length of v and its bytes. A nil slice is written as
// an empty one.
func (Bytes) Encode(w io.Writer, v []byte) error { return encoding.WriteBlob(w, v) }

// Decode reads a length-prefixed byte slice into v.
func (Bytes) Decode(r io.Reader, v *[]byte) error {
	b, err := encoding.ReadBlob(r)
	if err != nil {
		return err
	}
	*v = b
	return nil
}
