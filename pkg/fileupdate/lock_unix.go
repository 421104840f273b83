//go:build unix

package fileupdate

import (
	"os"
	"syscall"
)

// flockExclusive blocks until it holds an exclusive BSD-style lock on
// f's underlying file description (LOCK_EX), matching the original
// fcntl-based per-path lock.
func flockExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

// flockRelease drops the lock acquired by flockExclusive.
func flockRelease(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
