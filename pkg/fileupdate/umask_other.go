//go:build !unix

package fileupdate

import "os"

func setUmask(mask os.FileMode) int { return 0 }

func restoreUmask(prev int) {}
