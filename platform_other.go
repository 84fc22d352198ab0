//go:build !linux && !darwin

package readset

import "os"

// fallocateFile sets the file size. It may not reserve disk blocks on every
// filesystem.
func fallocateFile(file *os.File, size int64) error {
	return file.Truncate(size)
}

func prefaultRegion(data []byte) {}

func adviseSequential(data []byte) {}
