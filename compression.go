package readset

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	readseterrors "github.com/tamirms/readset/errors"
)

// Compression identifies how a container payload is stored.
// This is stored in the container header.
type Compression uint8

const (
	// CompressionNone stores the stream as is.
	CompressionNone Compression = 0

	// CompressionZstd stores the stream as one zstd frame (better ratio).
	CompressionZstd Compression = 1

	// CompressionLZ4 stores the stream as one LZ4 frame (faster decode).
	CompressionLZ4 Compression = 2
)

// String returns the compression name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// ParseCompression returns the Compression named by s.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none", "":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return 0, fmt.Errorf("%w: %q", readseterrors.ErrUnknownCompression, s)
}

func (c Compression) valid() bool {
	return c <= CompressionLZ4
}

// lz4MaxExpansion bounds the raw stream size an LZ4 payload may declare, as
// a multiple of the stored size. The LZ4 format cannot expand further.
const lz4MaxExpansion = 256

// zstdWindow is the window size of written zstd frames and the largest
// window a read frame may use. Frames of at most zstdWindow bytes are
// written as single segments, whose window is the frame content size.
const zstdWindow = 8 << 20

// initialExpansion sizes the first decompression buffer as a multiple of the
// payload. The buffer then grows with the bytes actually decompressed.
const initialExpansion = 4

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithWindowSize(zstdWindow),
	)
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxWindow(zstdWindow),
	)
}

func compress(c Compression, raw []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: id %d", readseterrors.ErrUnknownCompression, c)
}

// decompress returns the stream stored in payload. It fails unless the
// stream is exactly rawSize bytes. Memory is committed as bytes are
// decompressed, never up front for the declared rawSize.
func decompress(c Compression, payload []byte, rawSize uint64) ([]byte, error) {
	if rawSize >= math.MaxInt {
		return nil, fmt.Errorf("%w: raw size %d", readseterrors.ErrCorruptStream, rawSize)
	}
	switch c {
	case CompressionNone:
		if uint64(len(payload)) != rawSize {
			return nil, fmt.Errorf("%w: payload %d bytes, want %d", readseterrors.ErrCorruptStream, len(payload), rawSize)
		}
		return payload, nil
	case CompressionZstd:
		var fh zstd.Header
		if err := fh.Decode(payload); err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", readseterrors.ErrCorruptStream, err)
		}
		if fh.HasFCS && fh.FrameContentSize != rawSize {
			return nil, fmt.Errorf("%w: zstd frame holds %d bytes, want %d",
				readseterrors.ErrCorruptStream, fh.FrameContentSize, rawSize)
		}
		window := fh.WindowSize
		if fh.SingleSegment {
			window = fh.FrameContentSize
		}
		if window > zstdWindow {
			return nil, fmt.Errorf("%w: zstd window %d exceeds %d",
				readseterrors.ErrCorruptStream, window, zstdWindow)
		}
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer func() {
			_ = dec.Reset(nil)
			zstdDecoderPool.Put(dec)
		}()
		if err := dec.Reset(bytes.NewReader(payload)); err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		raw, err := readRaw(dec, len(payload), rawSize)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", readseterrors.ErrCorruptStream, err)
		}
		return raw, nil
	case CompressionLZ4:
		if rawSize > uint64(len(payload))*lz4MaxExpansion {
			return nil, fmt.Errorf("%w: %d-byte lz4 payload declares %d raw bytes",
				readseterrors.ErrCorruptStream, len(payload), rawSize)
		}
		raw, err := readRaw(lz4.NewReader(bytes.NewReader(payload)), len(payload), rawSize)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", readseterrors.ErrCorruptStream, err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: id %d", readseterrors.ErrUnknownCompression, c)
}

// readRaw reads the whole of r, which must hold exactly rawSize bytes.
func readRaw(r io.Reader, payloadLen int, rawSize uint64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(min(rawSize, uint64(payloadLen)*initialExpansion)))
	if _, err := buf.ReadFrom(io.LimitReader(r, int64(rawSize)+1)); err != nil {
		return nil, err
	}
	if uint64(buf.Len()) != rawSize {
		return nil, fmt.Errorf("stream %d bytes, want %d", buf.Len(), rawSize)
	}
	return buf.Bytes(), nil
}
