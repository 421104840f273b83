//go:build !unix

package fileupdate

import "os"

// flockExclusive is a no-op on platforms without an flock-equivalent;
// the sentinel file still exists on disk, just unlocked.
func flockExclusive(f *os.File) error { return nil }

// flockRelease is the matching no-op release.
func flockRelease(f *os.File) error { return nil }
