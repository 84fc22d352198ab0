// Package errors defines all exported error sentinels for the readset library.
//
// This is the single source of truth for error values. The top-level readset
// package, the codec package, and internal packages all import from here,
// ensuring errors.Is checks work across package boundaries.
package errors

import "errors"

// Build errors
var (
	ErrAllocationFailed   = errors.New("readset: allocation failed")
	ErrInvalidBucketCount = errors.New("readset: bucket count must be positive")
	ErrNotCreated         = errors.New("readset: bucket table not created")
	ErrLengthMismatch     = errors.New("readset: sequence length does not match declared count")
	ErrNilStrategy        = errors.New("readset: hash and equal strategies are required")
)

// Stream errors
var (
	ErrCorruptStream = errors.New("readset: corrupt stream")
	ErrElementCodec  = errors.New("readset: element codec failed")
)

// Container errors
var (
	ErrInvalidMagic       = errors.New("readset: invalid magic number")
	ErrInvalidVersion     = errors.New("readset: unsupported version")
	ErrChecksumFailed     = errors.New("readset: payload checksum verification failed")
	ErrTruncatedFile      = errors.New("readset: container is truncated")
	ErrUnknownCompression = errors.New("readset: unknown compression")
	ErrEmptySet           = errors.New("readset: set has no keys")
)
