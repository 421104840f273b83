// Package archive builds and reads the transfer container shipped
// between master and client during a sync round: a manifest describing
// every file it carries (the original "cluster_control.json") plus the
// file bodies themselves, optionally with many small per-agent files
// folded into one merged record stream (spec §4.4-§4.5).
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestName is the fixed filename the container's metadata is
// stored under.
const ManifestName = "cluster_control.json"

// FileMeta describes one entry in a manifest. MD5/ModTimeUnix are
// populated for master_files entries (the client's report of what it
// already holds, which the differ compares against — spec §4.3-§4.4)
// and left zero for client_files entries (a plain list of what this
// archive physically carries, which needs no comparison metadata).
type FileMeta struct {
	ClusterItemKey string `json:"cluster_item_key"`
	Merged         bool   `json:"merged,omitempty"`
	MergeType      string `json:"merge_type,omitempty"`
	MergeName      string `json:"merge_name,omitempty"`
	MD5            string `json:"md5,omitempty"`
	ModTimeUnix    int64  `json:"mtime,omitempty"`
}

// Manifest maps a logical file name to its metadata, serialized as
// cluster_control.json at the container root. Exactly one of
// MasterFiles (client→master integrity requests: the snapshot of
// master-owned files the client holds) or ClientFiles (client→master
// agent-info/extra-valid pushes: what this archive physically
// carries) is populated, per spec §4.4.
type Manifest struct {
	MasterFiles map[string]FileMeta `json:"master_files,omitempty"`
	ClientFiles map[string]FileMeta `json:"client_files,omitempty"`
}

// NewManifest creates an empty master_files manifest, for a client's
// integrity request.
func NewManifest() *Manifest {
	return &Manifest{MasterFiles: make(map[string]FileMeta)}
}

// NewClientFilesManifest creates an empty client_files manifest, for
// an agent-info or extra-valid push.
func NewClientFilesManifest() *Manifest {
	return &Manifest{ClientFiles: make(map[string]FileMeta)}
}

// Add records one file's metadata under name, in MasterFiles.
func (m *Manifest) Add(name string, meta FileMeta) {
	if m.MasterFiles == nil {
		m.MasterFiles = make(map[string]FileMeta)
	}
	m.MasterFiles[name] = meta
}

// AddClientFile records one file's metadata under name, in ClientFiles.
func (m *Manifest) AddClientFile(name string, meta FileMeta) {
	if m.ClientFiles == nil {
		m.ClientFiles = make(map[string]FileMeta)
	}
	m.ClientFiles[name] = meta
}

// WriteTo serializes the manifest to dir/cluster_control.json.
func (m *Manifest) WriteTo(dir string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("archive: marshaling manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("archive: writing manifest: %w", err)
	}
	return nil
}

// ReadManifest loads cluster_control.json from dir.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive: reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("archive: unmarshaling manifest: %w", err)
	}
	return &m, nil
}

func manifestBytes(m *Manifest) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("archive: marshaling manifest: %w", err)
	}
	return data, nil
}

func unmarshalManifest(data []byte, m *Manifest) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("archive: unmarshaling manifest: %w", err)
	}
	return nil
}

// Record is one constituent file folded into a merged stream, keeping
// enough to reconstruct the original file: its relative name, mtime,
// and body.
type Record struct {
	Name    string
	ModTime time.Time
	Body    []byte
}
