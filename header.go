package readset

import (
	"encoding/binary"
	"fmt"

	readseterrors "github.com/tamirms/readset/errors"
)

const (
	// magic number for readset container files
	// "RSET" in little-endian
	magic = uint32(0x54455352)

	// version is the current container format version
	version = uint16(0x0001)

	// headerSize is the exact size of the serialized header (40 bytes)
	headerSize = 40

	// footerSize is the exact size of the serialized footer (16 bytes)
	footerSize = 16
)

// header is the 40-byte container header.
//
// Layout:
//
//	Offset  Size  Field         Type
//	0       4     Magic         0x54455352 ("RSET")
//	4       2     Version       0x0001
//	6       1     Compression   uint8 (0=none, 1=zstd, 2=lz4)
//	7       1     Reserved      zero
//	8       8     ElementCount  uint64_le
//	16      8     BucketCount   uint64_le
//	24      8     PayloadSize   uint64_le (stored bytes)
//	32      8     RawSize       uint64_le (stream bytes after decompression)
//
// The payload is the Serialize stream, compressed as the header says. The
// counts repeat the stream's own so a container can be described without
// decoding it.
type header struct {
	Magic        uint32
	Version      uint16
	Compression  Compression
	Reserved     uint8
	ElementCount uint64
	BucketCount  uint64
	PayloadSize  uint64
	RawSize      uint64
}

// encodeTo serializes the header to an existing buffer.
func (h *header) encodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = uint8(h.Compression)
	buf[7] = h.Reserved
	binary.LittleEndian.PutUint64(buf[8:16], h.ElementCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.BucketCount)
	binary.LittleEndian.PutUint64(buf[24:32], h.PayloadSize)
	binary.LittleEndian.PutUint64(buf[32:40], h.RawSize)
}

// decodeHeader parses a 40-byte header.
func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, readseterrors.ErrTruncatedFile
	}

	h := &header{
		Magic:        binary.LittleEndian.Uint32(buf[0:4]),
		Version:      binary.LittleEndian.Uint16(buf[4:6]),
		Compression:  Compression(buf[6]),
		Reserved:     buf[7],
		ElementCount: binary.LittleEndian.Uint64(buf[8:16]),
		BucketCount:  binary.LittleEndian.Uint64(buf[16:24]),
		PayloadSize:  binary.LittleEndian.Uint64(buf[24:32]),
		RawSize:      binary.LittleEndian.Uint64(buf[32:40]),
	}

	if h.Magic != magic {
		return nil, readseterrors.ErrInvalidMagic
	}
	if h.Version != version {
		return nil, readseterrors.ErrInvalidVersion
	}
	if !h.Compression.valid() {
		return nil, fmt.Errorf("%w: id %d", readseterrors.ErrUnknownCompression, h.Compression)
	}
	if h.Compression == CompressionNone && h.PayloadSize != h.RawSize {
		return nil, fmt.Errorf("%w: uncompressed payload of %d bytes declares raw size %d",
			readseterrors.ErrCorruptStream, h.PayloadSize, h.RawSize)
	}
	// the stream itself carries both counts as uint64s
	if h.RawSize < 16 {
		return nil, fmt.Errorf("%w: raw size %d", readseterrors.ErrCorruptStream, h.RawSize)
	}

	return h, nil
}

// footer is the 16-byte container footer.
//
// Layout:
//
//	Offset  Size  Field     Type
//	0       8     Checksum  uint64_le (xxHash64 of header and payload)
//	8       8     Reserved  [8]byte (zero)
type footer struct {
	Checksum uint64
	Reserved [8]byte
}

// encodeTo serializes the footer into an existing buffer.
func (f *footer) encodeTo(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], f.Checksum)
	copy(buf[8:16], f.Reserved[:])
}

// decodeFooter parses a 16-byte footer.
func decodeFooter(buf []byte) (*footer, error) {
	if len(buf) < footerSize {
		return nil, readseterrors.ErrTruncatedFile
	}
	f := &footer{Checksum: binary.LittleEndian.Uint64(buf[0:8])}
	copy(f.Reserved[:], buf[8:16])
	return f, nil
}
