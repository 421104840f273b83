// Package fileupdate applies incoming sync content to the local
// filesystem the way master.py's _update_file private helper did:
// one lock file per destination path serializes concurrent writers,
// write_mode selects atomic (temp file + fsync + rename) or in-place
// writes, and agent-groups/agent-info content is filtered against the
// known-agent set before being written (spec §4.10).
package fileupdate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/wazuh-cluster/pkg/clustererr"
)

// WriteMode selects how a file is committed to disk.
type WriteMode int

const (
	// WriteAtomic writes to a temp file in the destination directory,
	// fsyncs it, then renames it over the destination.
	WriteAtomic WriteMode = iota
	// WriteDirect truncates and writes the destination in place.
	WriteDirect
)

// ItemPolicy is the write_mode/umask pair cluster_items.json
// associates with one cluster_item_key.
type ItemPolicy struct {
	Mode  WriteMode
	Umask os.FileMode
}

// AgentFilter answers whether a given agent name or ID is known,
// letting the updater silently skip agent-info/agent-groups content
// for agents that no longer exist rather than erroring the whole sync
// round.
type AgentFilter interface {
	KnownName(name string) bool
	KnownID(id string) bool
}

// Updater serializes writes to the local file tree with one on-disk
// lock file per destination path under lockDir, each named after the
// destination's basename and held with a blocking exclusive flock for
// the duration of one Apply call.
type Updater struct {
	root    string
	lockDir string

	// umaskMu serializes the setUmask/write/restoreUmask section across
	// every Apply call, not just ones touching the same destination
	// path: syscall.Umask is process-global, so two concurrent writes to
	// different paths under different per-item umasks would otherwise
	// race on each other's permission bits even though their per-path
	// flocks never conflict.
	umaskMu sync.Mutex

	// Warnings counts content skipped because it named an unknown
	// agent, surfaced to the caller so it can log a single summary
	// line instead of one line per skipped file.
	warningsMu sync.Mutex
	warnings   map[string]int
}

// New creates an updater rooted at root, staging lock files under
// root/queue/cluster/lockdir. Failure to create the lock directory is
// fatal: without it no write can be serialized against concurrent
// writers.
func New(root string) (*Updater, error) {
	lockDir := filepath.Join(root, "queue", "cluster", "lockdir")
	if err := os.MkdirAll(lockDir, 0o750); err != nil {
		return nil, fmt.Errorf("fileupdate: creating lock dir: %w", err)
	}
	return &Updater{
		root:     root,
		lockDir:  lockDir,
		warnings: make(map[string]int),
	}, nil
}

// lockFor opens (creating if needed) the <basename>.lock sentinel file
// for relPath under lockDir and blocks until it holds an exclusive
// flock on it. The returned file must be passed to unlockFile once the
// caller is done with the destination path.
func (u *Updater) lockFor(relPath string) (*os.File, error) {
	lockPath := filepath.Join(u.lockDir, filepath.Base(relPath)+".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("fileupdate: opening lock file %s: %w", lockPath, err)
	}
	if err := flockExclusive(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("fileupdate: locking %s: %w", lockPath, err)
	}
	return f, nil
}

// unlockFile releases the flock acquired by lockFor and closes it.
func unlockFile(f *os.File) {
	flockRelease(f)
	f.Close()
}

// safeJoin joins relPath onto root and rejects the result unless it
// stays inside root, so a peer-supplied RelPath carrying ".." segments
// (a merged-stream record name, an archive manifest key) can never
// write outside the updater's tree regardless of which caller built it
// or whether an AgentFilter happened to catch it first. A leading slash
// is treated as root-relative, not as an escape out to the filesystem
// root — cluster_item_key-derived paths are routinely written that way.
func safeJoin(root, relPath string) (string, error) {
	cleaned := filepath.Clean(strings.TrimLeft(filepath.FromSlash(relPath), string(filepath.Separator)))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("fileupdate: %q: %w", relPath, clustererr.ErrPathEscapesRoot)
	}
	return filepath.Join(root, cleaned), nil
}

// Request is one file's content and placement policy.
type Request struct {
	// RelPath is the destination path relative to the updater's root.
	RelPath string
	Content []byte
	ModTime time.Time
	Policy  ItemPolicy
	// ClusterItemKey is recorded only for warning/error aggregation.
	ClusterItemKey string
	// AgentName, if non-empty, gates this write on AgentFilter.KnownName.
	AgentName string
	// AgentID, if non-empty, gates this write on AgentFilter.KnownID —
	// used by agent-info records, which are keyed by agent ID rather
	// than name.
	AgentID string
}

// Apply writes one request, honoring its write mode, umask, and mtime.
// If req.AgentName is set and filter reports it unknown, Apply returns
// ErrUnknownAgent without touching the filesystem — a warning, not a
// hard failure, so the rest of a sync round still proceeds.
func (u *Updater) Apply(req Request, filter AgentFilter) error {
	if req.AgentName != "" && filter != nil && !filter.KnownName(req.AgentName) {
		u.countWarning(req.ClusterItemKey)
		return ErrUnknownAgent
	}
	if req.AgentID != "" && filter != nil && !filter.KnownID(req.AgentID) {
		u.countWarning(req.ClusterItemKey)
		return ErrUnknownAgent
	}

	destPath, err := safeJoin(u.root, req.RelPath)
	if err != nil {
		return err
	}

	lockFile, err := u.lockFor(req.RelPath)
	if err != nil {
		return err
	}
	defer unlockFile(lockFile)

	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return fmt.Errorf("fileupdate: creating destination dir: %w", err)
	}

	if err := u.writeWithUmask(destPath, req); err != nil {
		return err
	}

	if !req.ModTime.IsZero() {
		if err := os.Chtimes(destPath, req.ModTime, req.ModTime); err != nil {
			return fmt.Errorf("fileupdate: setting mtime on %s: %w", destPath, err)
		}
	}
	return nil
}

// writeWithUmask holds umaskMu for the duration of the umask-sensitive
// write, since the umask it sets applies to the whole process and must
// not be observed by a concurrent Apply writing a different path under
// a different policy.
func (u *Updater) writeWithUmask(destPath string, req Request) error {
	u.umaskMu.Lock()
	defer u.umaskMu.Unlock()

	prevUmask := setUmask(req.Policy.Umask)
	defer restoreUmask(prevUmask)

	switch req.Policy.Mode {
	case WriteAtomic:
		return writeAtomic(destPath, req.Content)
	default:
		if err := os.WriteFile(destPath, req.Content, 0o640); err != nil {
			return fmt.Errorf("fileupdate: writing %s: %w", destPath, err)
		}
		return nil
	}
}

func writeAtomic(destPath string, content []byte) error {
	dir := filepath.Dir(destPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(destPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("fileupdate: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fileupdate: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fileupdate: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fileupdate: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fileupdate: renaming into place: %w", err)
	}
	return nil
}

func (u *Updater) countWarning(clusterItemKey string) {
	u.warningsMu.Lock()
	defer u.warningsMu.Unlock()
	u.warnings[clusterItemKey]++
}

// Warnings returns a copy of the per-cluster_item_key skip counts
// accumulated since the updater was created (or since the last call
// to ResetWarnings).
func (u *Updater) Warnings() map[string]int {
	u.warningsMu.Lock()
	defer u.warningsMu.Unlock()
	out := make(map[string]int, len(u.warnings))
	for k, v := range u.warnings {
		out[k] = v
	}
	return out
}

// ResetWarnings clears the accumulated warning counts, called once a
// sync round's summary has been logged.
func (u *Updater) ResetWarnings() {
	u.warningsMu.Lock()
	defer u.warningsMu.Unlock()
	u.warnings = make(map[string]int)
}
