//go:build linux

package readset

import (
	"os"

	"golang.org/x/sys/unix"
)

// MADV_POPULATE_WRITE was added in Linux 5.14.
// On older kernels, madvise returns EINVAL which we ignore.
const madvPopulateWrite = 23

// fallocateFile reserves disk blocks so writes through a mapping cannot
// SIGBUS on a full disk.
func fallocateFile(file *os.File, size int64) error {
	if err := unix.Fallocate(int(file.Fd()), 0, 0, size); err != nil {
		// NFS and some other filesystems lack fallocate
		return unix.Ftruncate(int(file.Fd()), size)
	}
	// Fallocate allocates blocks but doesn't set file size
	return unix.Ftruncate(int(file.Fd()), size)
}

// prefaultRegion asks the kernel to prefault pages for writing.
// Best-effort.
func prefaultRegion(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, madvPopulateWrite)
}

// adviseSequential hints that a mapped container is read front to back.
// Best-effort.
func adviseSequential(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
}
