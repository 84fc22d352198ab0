//go:build darwin

package readset

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves disk blocks with F_PREALLOCATE so writes through a
// mapping cannot SIGBUS on a full disk.
func fallocateFile(file *os.File, size int64) error {
	fst := unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Offset:  0,
		Length:  size,
	}
	// F_PREALLOCATE only reserves space; the size is set either way
	_ = unix.FcntlFstore(file.Fd(), unix.F_PREALLOCATE, &fst)
	return unix.Ftruncate(int(file.Fd()), size)
}

// prefaultRegion is a no-op: MADV_POPULATE_WRITE is Linux-specific.
func prefaultRegion(data []byte) {}

// adviseSequential hints that a mapped container is read front to back.
func adviseSequential(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
}
