// Package catalog scans a node's managed file trees and produces the
// snapshot of {path: {mtime, md5, cluster_item_key}} entries that the
// differ and sync workers compare against a peer's snapshot, per
// spec §4.2-§4.3.
package catalog

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrScanCancelled is returned by ScanCancellable when the stopper
// channel fires before the walk completes, per spec §4.8's refresher
// cancellation ("a shutdown event check occurs between every file and
// every sleep tick").
var ErrScanCancelled = errors.New("catalog: scan cancelled")

// Entry describes one tracked file.
type Entry struct {
	Path          string
	ModTime       time.Time
	MD5           string
	ClusterItemKey string
}

// ItemProfile configures how one cluster_item_key's subtree is walked,
// mirroring a "cluster_items.json" section keyed by path prefix: each
// prefix names a directory, whether its files are tracked individually
// or merged into one synthetic record, and whether its presence on a
// client that the master lacks is itself meaningful ("extra is
// meaningful").
type ItemProfile struct {
	// Key is the cluster_item_key, e.g. "/queue/agent-groups/".
	Key string
	// Root is the filesystem directory the key's files live under.
	Root string
	// Recursive walks subdirectories of Root when true.
	Recursive bool
	// ExtraIsMeaningful marks files present locally but absent from
	// the peer as policy-relevant (agent-groups) rather than simply
	// superfluous.
	ExtraIsMeaningful bool
}

// Scanner walks a set of item profiles and builds catalog snapshots.
type Scanner struct {
	profiles []ItemProfile
}

// NewScanner creates a scanner over the given profiles. Profiles are
// walked in order and independently of each other: a file under two
// profiles' Roots is scanned by both, and where both produce the same
// path key the later profile's entry replaces the earlier one.
func NewScanner(profiles []ItemProfile) *Scanner {
	return &Scanner{profiles: profiles}
}

// Snapshot is a path-keyed view of the catalog at one point in time.
type Snapshot map[string]Entry

// Scan walks every configured profile and returns the resulting
// snapshot. A missing Root is skipped rather than treated as an
// error, since not every node carries every item (e.g. a node that
// holds no "/queue/agent-groups/" files yet).
func (s *Scanner) Scan() (Snapshot, error) {
	snap := make(Snapshot)
	for _, profile := range s.profiles {
		if err := s.scanProfile(profile, snap); err != nil {
			return nil, fmt.Errorf("catalog: scanning %s: %w", profile.Key, err)
		}
	}
	return snap, nil
}

// ScanCancellable behaves like Scan but checks stopper before each
// profile and before hashing each file, returning ErrScanCancelled as
// soon as it observes the channel closed or signalled. The integrity
// refresher uses this so a shutdown mid-rebuild does not block on a
// large tree.
func (s *Scanner) ScanCancellable(stopper <-chan struct{}) (Snapshot, error) {
	snap := make(Snapshot)
	for _, profile := range s.profiles {
		select {
		case <-stopper:
			return nil, ErrScanCancelled
		default:
		}
		if err := s.scanProfileCancellable(profile, snap, stopper); err != nil {
			return nil, fmt.Errorf("catalog: scanning %s: %w", profile.Key, err)
		}
	}
	return snap, nil
}

func (s *Scanner) scanProfileCancellable(profile ItemProfile, snap Snapshot, stopper <-chan struct{}) error {
	info, err := os.Stat(profile.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return s.addFile(profile, profile.Root, info, snap)
	}

	walkFn := func(path string, d fs.DirEntry, err error) error {
		select {
		case <-stopper:
			return ErrScanCancelled
		default:
		}
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !profile.Recursive && path != profile.Root {
				return filepath.SkipDir
			}
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return s.addFile(profile, path, fi, snap)
	}
	return filepath.WalkDir(profile.Root, walkFn)
}

func (s *Scanner) scanProfile(profile ItemProfile, snap Snapshot) error {
	info, err := os.Stat(profile.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return s.addFile(profile, profile.Root, info, snap)
	}

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !profile.Recursive && path != profile.Root {
				return filepath.SkipDir
			}
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return s.addFile(profile, path, fi, snap)
	}
	return filepath.WalkDir(profile.Root, walkFn)
}

func (s *Scanner) addFile(profile ItemProfile, path string, info fs.FileInfo, snap Snapshot) error {
	sum, err := md5sum(path)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	rel, err := relPath(profile, path)
	if err != nil {
		return fmt.Errorf("relativizing %s: %w", path, err)
	}
	snap[rel] = Entry{
		Path:           rel,
		ModTime:        info.ModTime().UTC(),
		MD5:            sum,
		ClusterItemKey: profile.Key,
	}
	return nil
}

// relPath keys a scanned file by its cluster_item_key joined with its
// path relative to the profile's root, e.g. "/queue/agent-info/001.json"
// — never the absolute on-disk path, which differs between the master's
// and a client's install root and would never compare equal across
// nodes.
func relPath(profile ItemProfile, path string) (string, error) {
	key := strings.TrimSuffix(profile.Key, "/")
	if path == profile.Root {
		return key, nil
	}
	rel, err := filepath.Rel(profile.Root, path)
	if err != nil {
		return "", err
	}
	return key + "/" + filepath.ToSlash(rel), nil
}

func md5sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ProfileForKey returns the profile whose Key matches, used by the
// file updater to look up write_mode/umask policy for an incoming
// file named by its cluster_item_key.
func ProfileForKey(profiles []ItemProfile, key string) (ItemProfile, bool) {
	for _, p := range profiles {
		if p.Key == key {
			return p, true
		}
	}
	return ItemProfile{}, false
}

// KeyForPath finds the profile whose Root is a prefix of path, used
// when a scan needs to reverse-map a bare filename back to its
// governing cluster_item_key.
func KeyForPath(profiles []ItemProfile, path string) (string, bool) {
	best := ""
	bestLen := -1
	for _, p := range profiles {
		if strings.HasPrefix(path, p.Root) && len(p.Root) > bestLen {
			best = p.Key
			bestLen = len(p.Root)
		}
	}
	if bestLen < 0 {
		return "", false
	}
	return best, true
}

// SortedPaths returns the snapshot's paths in deterministic order,
// used when a manifest or log line needs reproducible ordering.
func (s Snapshot) SortedPaths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
