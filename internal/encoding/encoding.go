// Package encoding provides the fixed-width little-endian primitives shared
// by the readset stream format, the container format, and the element codecs.
//
// Readers never buffer ahead: each call consumes exactly the bytes of the
// field it decodes, so fields written back to back can be read back to back
// from the same io.Reader.
package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxBlobLen is the largest length-prefixed blob ReadBlob accepts.
const MaxBlobLen = 1 << 30

// blobChunk is the largest blob ReadBlob allocates in one step.
const blobChunk = 64 << 10

// ErrBlobTooLarge is returned by ReadBlob for length prefixes above MaxBlobLen.
var ErrBlobTooLarge = errors.New("encoding: blob length exceeds limit")

// WriteUint64 writes v as 8 little-endian bytes.
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 reads 8 little-endian bytes.
// A short read returns io.ErrUnexpectedEOF; a read at EOF returns io.EOF.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteUint32 writes v as 4 little-endian bytes.
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint32 reads 4 little-endian bytes.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteBlob writes b as [len uint32_le][bytes].
func WriteBlob(w io.Writer, b []byte) error {
	if len(b) > MaxBlobLen {
		return fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, len(b))
	}
	if err := WriteUint32(w, uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

// ReadBlob reads a blob written by WriteBlob into a freshly allocated slice.
// A zero-length blob decodes as an empty, non-nil slice.
func ReadBlob(r io.Reader) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxBlobLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, n)
	}
	if n <= blobChunk {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		return buf, nil
	}
	// Large blobs grow with the bytes actually read, so a false length
	// prefix cannot commit MaxBlobLen up front.
	var buf bytes.Buffer
	buf.Grow(blobChunk)
	read, err := io.CopyN(&buf, r, int64(n))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: blob %d of %d bytes", io.ErrUnexpectedEOF, read, n)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}
