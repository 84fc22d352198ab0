package readset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/tamirms/readset/codec"
	readseterrors "github.com/tamirms/readset/errors"
)

func buildStringSet(t testing.TB, n int) (*Set[string], []string) {
	t.Helper()
	rng := newTestRNG(t)
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("user:%d:%x", i, rng.Uint64())
	}
	s, err := New(n/2+1, HashString, Equal[string])
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Destroy)
	if err := s.Assign(keys); err != nil {
		t.Fatal(err)
	}
	return s, keys
}

func TestContainerRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			src, keys := buildStringSet(t, 2000)

			data, err := src.EncodeContainer(codec.String{}, WithCompression(c))
			if err != nil {
				t.Fatal(err)
			}

			info, err := InspectContainer(data)
			if err != nil {
				t.Fatal(err)
			}
			if info.Compression != c || info.ElementCount != 2000 || info.BucketCount != uint64(src.BucketCount()) {
				t.Errorf("info = %+v", info)
			}
			if info.TotalSize != uint64(len(data)) {
				t.Errorf("TotalSize = %d, want %d", info.TotalSize, len(data))
			}
			if c != CompressionNone && info.PayloadSize >= info.RawSize {
				t.Errorf("%s payload %d bytes not smaller than raw %d", c, info.PayloadSize, info.RawSize)
			}

			dst, err := NewLazy(HashString, Equal[string])
			if err != nil {
				t.Fatal(err)
			}
			defer dst.Destroy()
			if err := dst.DecodeContainer(data, codec.String{}); err != nil {
				t.Fatal(err)
			}
			if dst.Len() != len(keys) || dst.BucketCount() != src.BucketCount() {
				t.Fatalf("decoded %d keys in %d buckets", dst.Len(), dst.BucketCount())
			}
			for _, k := range keys {
				if !dst.Contains(k) {
					t.Fatalf("key %q lost", k)
				}
			}
		})
	}
}

func TestWriteContainer(t *testing.T) {
	src, _ := buildStringSet(t, 10)
	var buf bytes.Buffer
	if err := src.WriteContainer(&buf, codec.String{}, WithCompression(CompressionLZ4)); err != nil {
		t.Fatal(err)
	}
	want, err := src.EncodeContainer(codec.String{}, WithCompression(CompressionLZ4))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Error("WriteContainer and EncodeContainer disagree")
	}
}

func TestEncodeContainerRejects(t *testing.T) {
	s := newUint64Set(t, 8)
	if _, err := s.EncodeContainer(codec.Uint64{}); !errors.Is(err, readseterrors.ErrEmptySet) {
		t.Errorf("empty set: expected ErrEmptySet, got %v", err)
	}
	if err := s.Assign([]uint64{1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.EncodeContainer(codec.Uint64{}, WithCompression(Compression(9))); !errors.Is(err, readseterrors.ErrUnknownCompression) {
		t.Errorf("bad compression: expected ErrUnknownCompression, got %v", err)
	}
}

func TestContainerCorruption(t *testing.T) {
	src := newUint64Set(t, 16)
	if err := src.Assign([]uint64{1, 2, 3, 4, 5}); err != nil {
		t.Fatal(err)
	}
	valid, err := src.EncodeContainer(codec.Uint64{})
	if err != nil {
		t.Fatal(err)
	}

	mutate := func(f func([]byte) []byte) []byte {
		return f(bytes.Clone(valid))
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"Empty", nil, readseterrors.ErrTruncatedFile},
		{"HeaderOnly", valid[:headerSize], readseterrors.ErrTruncatedFile},
		{"Magic", mutate(func(b []byte) []byte { b[0] ^= 0xFF; return b }), readseterrors.ErrInvalidMagic},
		{"Version", mutate(func(b []byte) []byte { b[4] = 9; return b }), readseterrors.ErrInvalidVersion},
		{"Compression", mutate(func(b []byte) []byte { b[6] = 7; return b }), readseterrors.ErrUnknownCompression},
		{"Payload", mutate(func(b []byte) []byte { b[headerSize+20] ^= 0x01; return b }), readseterrors.ErrChecksumFailed},
		{"ElementCount", mutate(func(b []byte) []byte { b[8]++; return b }), readseterrors.ErrChecksumFailed},
		{"Footer", mutate(func(b []byte) []byte { b[len(b)-footerSize] ^= 0x01; return b }), readseterrors.ErrChecksumFailed},
		{"TruncatedPayload", valid[:len(valid)-footerSize-1], readseterrors.ErrTruncatedFile},
		{"TrailingBytes", append(bytes.Clone(valid), 0), readseterrors.ErrCorruptStream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newUint64Set(t, 4)
			if err := s.Assign([]uint64{99}); err != nil {
				t.Fatal(err)
			}
			err := s.DecodeContainer(tt.data, codec.Uint64{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if s.IsCreated() || s.Contains(99) {
				t.Error("failed decode left state behind")
			}
			if _, err := InspectContainer(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("InspectContainer: expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestContainerHeaderMismatch re-seals a container whose header counts
// disagree with its stream.
func TestContainerHeaderMismatch(t *testing.T) {
	src := newUint64Set(t, 16)
	if err := src.Assign([]uint64{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	data, err := src.EncodeContainer(codec.Uint64{})
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint64(data[8:16], 4)
	end := len(data) - footerSize
	ftr := footer{Checksum: xxhashSum(data[:end])}
	ftr.encodeTo(data[end:])

	s := newUint64Set(t, 4)
	err = s.DecodeContainer(data, codec.Uint64{})
	if !errors.Is(err, readseterrors.ErrCorruptStream) {
		t.Fatalf("expected ErrCorruptStream, got %v", err)
	}
	if s.IsCreated() {
		t.Error("mismatched container left the set created")
	}
}

func TestContainerRejectsForgedRawSize(t *testing.T) {
	for _, c := range []Compression{CompressionZstd, CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			src, _ := buildStringSet(t, 200)
			data, err := src.EncodeContainer(codec.String{}, WithCompression(c))
			if err != nil {
				t.Fatal(err)
			}
			binary.LittleEndian.PutUint64(data[32:40], 1<<40)
			end := len(data) - footerSize
			ftr := footer{Checksum: xxhashSum(data[:end])}
			ftr.encodeTo(data[end:])

			s, err := NewLazy(HashString, Equal[string])
			if err != nil {
				t.Fatal(err)
			}
			err = s.DecodeContainer(data, codec.String{})
			if !errors.Is(err, readseterrors.ErrCorruptStream) {
				t.Fatalf("expected ErrCorruptStream, got %v", err)
			}
			if s.IsCreated() {
				t.Error("forged container left the set created")
			}
		})
	}
}

func TestDecompressBounds(t *testing.T) {
	frame := func(h zstd.Header) []byte {
		b, err := h.AppendTo(nil)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}

	tests := []struct {
		name    string
		c       Compression
		payload []byte
		rawSize uint64
	}{
		{"LZ4Ratio", CompressionLZ4, []byte{0x04, 0x22, 0x4d, 0x18}, 1 << 20},
		{"ZstdLargeSegment", CompressionZstd,
			frame(zstd.Header{SingleSegment: true, HasFCS: true, FrameContentSize: 1 << 33}), 1 << 33},
		{"ZstdLargeWindow", CompressionZstd,
			frame(zstd.Header{WindowSize: 1 << 30}), 1 << 20},
		{"ZstdContentSizeMismatch", CompressionZstd,
			frame(zstd.Header{SingleSegment: true, HasFCS: true, FrameContentSize: 100}), 200},
		{"ZstdNotAFrame", CompressionZstd, []byte("readset"), 16},
		{"Unrepresentable", CompressionZstd, nil, math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decompress(tt.c, tt.payload, tt.rawSize)
			if !errors.Is(err, readseterrors.ErrCorruptStream) {
				t.Fatalf("expected ErrCorruptStream, got %v", err)
			}
		})
	}
}

func TestWriteFileOpen(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			src, keys := buildStringSet(t, 5000)
			path := filepath.Join(t.TempDir(), "set.rset")

			if err := src.WriteFile(path, codec.String{}, WithCompression(c)); err != nil {
				t.Fatal(err)
			}

			info, err := InspectFile(path)
			if err != nil {
				t.Fatal(err)
			}
			fi, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if info.TotalSize != uint64(fi.Size()) {
				t.Errorf("TotalSize = %d, file is %d bytes", info.TotalSize, fi.Size())
			}

			loaded, err := Open(path, HashString, Equal[string], codec.String{}, WithMmapScratch())
			if err != nil {
				t.Fatal(err)
			}
			defer loaded.Destroy()
			for _, k := range keys {
				if !loaded.Contains(k) {
					t.Fatalf("key %q lost", k)
				}
			}
			checkLayout(t, loaded)
		})
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Open(filepath.Join(dir, "missing.rset"), HashUint64, Equal[uint64], codec.Uint64{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: expected os.ErrNotExist, got %v", err)
	}

	empty := filepath.Join(dir, "empty.rset")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(empty, HashUint64, Equal[uint64], codec.Uint64{}); !errors.Is(err, readseterrors.ErrTruncatedFile) {
		t.Errorf("empty file: expected ErrTruncatedFile, got %v", err)
	}

	src := newUint64Set(t, 8)
	if err := src.Assign([]uint64{1, 2}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "corrupt.rset")
	if err := src.WriteFile(path, codec.Uint64{}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[headerSize] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, HashUint64, Equal[uint64], codec.Uint64{}); !errors.Is(err, readseterrors.ErrChecksumFailed) {
		t.Errorf("corrupt file: expected ErrChecksumFailed, got %v", err)
	}
}

func TestWriteFileRemovesOnFailure(t *testing.T) {
	s := newUint64Set(t, 8)
	path := filepath.Join(t.TempDir(), "empty.rset")
	if err := s.WriteFile(path, codec.Uint64{}); !errors.Is(err, readseterrors.ErrEmptySet) {
		t.Fatalf("expected ErrEmptySet, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file exists after failed write: %v", err)
	}

	if err := s.Assign([]uint64{1}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile(filepath.Join(t.TempDir(), "no", "such", "dir.rset"), codec.Uint64{}); err == nil {
		t.Error("expected error writing into a missing directory")
	}
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		got, err := ParseCompression(c.String())
		if err != nil || got != c {
			t.Errorf("ParseCompression(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseCompression("brotli"); !errors.Is(err, readseterrors.ErrUnknownCompression) {
		t.Errorf("expected ErrUnknownCompression, got %v", err)
	}
}

func TestHeaderEncoding(t *testing.T) {
	h := header{
		Magic:        magic,
		Version:      version,
		Compression:  CompressionZstd,
		ElementCount: 12345,
		BucketCount:  65535,
		PayloadSize:  999,
		RawSize:      4321,
	}
	buf := make([]byte, headerSize)
	h.encodeTo(buf)
	if string(buf[0:4]) != "RSET" {
		t.Errorf("magic bytes = %q, want RSET", buf[0:4])
	}
	got, err := decodeHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if *got != h {
		t.Errorf("decoded %+v, want %+v", *got, h)
	}
}
