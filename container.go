package readset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	"github.com/tamirms/readset/codec"
	readseterrors "github.com/tamirms/readset/errors"
)

// Container layout:
//
//	[Header 40B][Payload][Footer 16B]
//
// The payload is a Serialize stream, optionally compressed. The footer
// checksum covers the header and the stored payload.

// FileOption configures how a container is written.
type FileOption func(*fileConfig)

type fileConfig struct {
	compression Compression
}

// WithCompression sets the payload compression. Default: CompressionNone.
func WithCompression(c Compression) FileOption {
	return func(cfg *fileConfig) {
		cfg.compression = c
	}
}

// ContainerInfo describes a container without decoding its elements.
type ContainerInfo struct {
	Version      uint16
	Compression  Compression
	ElementCount uint64
	BucketCount  uint64
	PayloadSize  uint64 // stored bytes
	RawSize      uint64 // stream bytes
	TotalSize    uint64 // header, payload and footer
}

// EncodeContainer returns the set as a self-describing container.
// A set with no keys cannot be encoded (ErrEmptySet): its stream would be
// rejected on decode.
func (s *Set[K]) EncodeContainer(c codec.Codec[K], opts ...FileOption) ([]byte, error) {
	cfg := &fileConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if !cfg.compression.valid() {
		return nil, fmt.Errorf("%w: id %d", readseterrors.ErrUnknownCompression, cfg.compression)
	}
	if s.Len() == 0 {
		return nil, readseterrors.ErrEmptySet
	}

	var raw bytes.Buffer
	if err := s.Serialize(&raw, c); err != nil {
		return nil, err
	}
	payload, err := compress(cfg.compression, raw.Bytes())
	if err != nil {
		return nil, err
	}

	hdr := header{
		Magic:        magic,
		Version:      version,
		Compression:  cfg.compression,
		ElementCount: uint64(s.Len()),
		BucketCount:  uint64(s.bucketCount),
		PayloadSize:  uint64(len(payload)),
		RawSize:      uint64(raw.Len()),
	}

	out := make([]byte, headerSize+len(payload)+footerSize)
	hdr.encodeTo(out[:headerSize])
	copy(out[headerSize:], payload)
	end := headerSize + len(payload)
	ftr := footer{Checksum: xxhash.Sum64(out[:end])}
	ftr.encodeTo(out[end:])

	s.logger().Debug("readset container encoded",
		"keys", hdr.ElementCount, "compression", hdr.Compression.String(),
		"raw_bytes", hdr.RawSize, "stored_bytes", hdr.PayloadSize)
	return out, nil
}

// WriteContainer writes the container form of the set to w.
func (s *Set[K]) WriteContainer(w io.Writer, c codec.Codec[K], opts ...FileOption) error {
	data, err := s.EncodeContainer(c, opts...)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write container: %w", err)
	}
	return nil
}

// inspectContainer validates framing and checksum and returns the header
// and the stored payload.
func inspectContainer(data []byte) (*header, []byte, error) {
	if len(data) < headerSize+footerSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", readseterrors.ErrTruncatedFile, len(data))
	}
	hdr, err := decodeHeader(data[:headerSize])
	if err != nil {
		return nil, nil, err
	}

	avail := uint64(len(data) - headerSize - footerSize)
	if hdr.PayloadSize > avail {
		return nil, nil, fmt.Errorf("%w: payload %d bytes, %d available",
			readseterrors.ErrTruncatedFile, hdr.PayloadSize, avail)
	}
	if hdr.PayloadSize < avail {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes after footer",
			readseterrors.ErrCorruptStream, avail-hdr.PayloadSize)
	}

	end := headerSize + int(hdr.PayloadSize)
	ftr, err := decodeFooter(data[end:])
	if err != nil {
		return nil, nil, err
	}
	if got := xxhash.Sum64(data[:end]); got != ftr.Checksum {
		return nil, nil, fmt.Errorf("%w: got %016x, want %016x",
			readseterrors.ErrChecksumFailed, got, ftr.Checksum)
	}
	return hdr, data[headerSize:end], nil
}

// InspectContainer verifies a container and describes it without decoding
// its elements.
func InspectContainer(data []byte) (ContainerInfo, error) {
	hdr, _, err := inspectContainer(data)
	if err != nil {
		return ContainerInfo{}, err
	}
	return ContainerInfo{
		Version:      hdr.Version,
		Compression:  hdr.Compression,
		ElementCount: hdr.ElementCount,
		BucketCount:  hdr.BucketCount,
		PayloadSize:  hdr.PayloadSize,
		RawSize:      hdr.RawSize,
		TotalSize:    uint64(len(data)),
	}, nil
}

// DecodeContainer replaces the contents of the set with a container
// produced by EncodeContainer. It has the same semantics as Deserialize,
// and additionally fails if the stream does not fill the payload exactly
// or disagrees with the header's counts. On any failure the set is left
// destroyed.
//
// Decoded elements never alias data.
func (s *Set[K]) DecodeContainer(data []byte, c codec.Codec[K]) error {
	s.Destroy()
	hdr, payload, err := inspectContainer(data)
	if err != nil {
		return err
	}
	raw, err := decompress(hdr.Compression, payload, hdr.RawSize)
	if err != nil {
		return err
	}

	r := bytes.NewReader(raw)
	if err := s.Deserialize(r, c); err != nil {
		return err
	}
	if r.Len() != 0 {
		s.Destroy()
		return fmt.Errorf("%w: %d unread stream bytes", readseterrors.ErrCorruptStream, r.Len())
	}
	if uint64(s.Len()) != hdr.ElementCount || uint64(s.bucketCount) != hdr.BucketCount {
		n, b := s.Len(), s.bucketCount
		s.Destroy()
		return fmt.Errorf("%w: stream has %d keys in %d buckets, header says %d in %d",
			readseterrors.ErrCorruptStream, n, b, hdr.ElementCount, hdr.BucketCount)
	}
	return nil
}

// WriteFile writes the container form of the set to path. The file is
// pre-allocated and written through a memory mapping. A partially written
// file is removed.
func (s *Set[K]) WriteFile(path string, c codec.Codec[K], opts ...FileOption) (err error) {
	data, err := s.EncodeContainer(c, opts...)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create container file: %w", err)
	}
	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			err = errors.Join(err, file.Close())
		}
		err = errors.Join(err, os.Remove(path))
	}()

	// Pre-allocate disk blocks to prevent SIGBUS on disk full
	if err := fallocateFile(file, int64(len(data))); err != nil {
		return fmt.Errorf("failed to allocate disk space: %w", err)
	}
	mm, err := mmap.MapRegion(file, len(data), mmap.RDWR, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %w", err)
	}
	prefaultRegion(mm)
	copy(mm, data)

	if err := mm.Flush(); err != nil {
		return errors.Join(fmt.Errorf("failed to flush mmap: %w", err), mm.Unmap())
	}
	if err := mm.Unmap(); err != nil {
		return fmt.Errorf("failed to unmap: %w", err)
	}
	closed = true
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close container file: %w", err)
	}
	return nil
}

// ReadFile replaces the contents of the set with the container at path.
// The file is memory-mapped for the duration of the decode only.
func (s *Set[K]) ReadFile(path string, c codec.Codec[K]) error {
	s.Destroy()
	mm, err := mapContainer(path)
	if err != nil {
		return err
	}
	err = s.DecodeContainer(mm, c)
	return errors.Join(err, mm.Unmap())
}

// InspectFile verifies the container at path and describes it.
func InspectFile(path string) (ContainerInfo, error) {
	mm, err := mapContainer(path)
	if err != nil {
		return ContainerInfo{}, err
	}
	info, err := InspectContainer(mm)
	return info, errors.Join(err, mm.Unmap())
}

func mapContainer(path string) (mmap.MMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	// mmap of an empty file fails on most platforms
	if fi.Size() < headerSize+footerSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", readseterrors.ErrTruncatedFile, path, fi.Size())
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}
	adviseSequential(mm)
	return mm, nil
}

// Open builds a set from the container at path.
func Open[K any](path string, hash HashFunc[K], equal EqualFunc[K], c codec.Codec[K], opts ...Option) (*Set[K], error) {
	s, err := NewLazy(hash, equal, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.ReadFile(path, c); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return s, nil
}
