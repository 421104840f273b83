//go:build unix

package fileupdate

import (
	"os"
	"syscall"
)

func setUmask(mask os.FileMode) int {
	return syscall.Umask(int(mask))
}

func restoreUmask(prev int) {
	syscall.Umask(prev)
}
