package archive

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/wazuh-cluster/pkg/clustererr"
)

func TestManifestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManifest()
	m.Add("/queue/agent-info/001", FileMeta{ClusterItemKey: "/queue/agent-info/"})

	if err := m.WriteTo(dir); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if len(got.MasterFiles) != 1 {
		t.Fatalf("got %d entries, want 1", len(got.MasterFiles))
	}
	if got.MasterFiles["/queue/agent-info/001"].ClusterItemKey != "/queue/agent-info/" {
		t.Errorf("unexpected cluster_item_key: %+v", got.MasterFiles["/queue/agent-info/001"])
	}
}

func TestClientFilesManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewClientFilesManifest()
	m.AddClientFile("queue/agent-info/001", FileMeta{ClusterItemKey: "/queue/agent-info/", Merged: true, MergeType: "agent-info", MergeName: "agent-info.merged"})

	if err := m.WriteTo(dir); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if len(got.MasterFiles) != 0 {
		t.Errorf("expected no master_files entries, got %+v", got.MasterFiles)
	}
	entry, ok := got.ClientFiles["queue/agent-info/001"]
	if !ok {
		t.Fatal("missing client_files entry")
	}
	if !entry.Merged || entry.MergeName != "agent-info.merged" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestMergeUnmergeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Unix(1700000000, 0).UTC()
	records := []Record{
		{Name: "001", ModTime: now, Body: []byte("status=active")},
		{Name: "002", ModTime: now, Body: []byte("status=pending")},
	}

	n, path, err := Merge(dir, "agent-info", records, 0)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if n != 2 {
		t.Fatalf("merged %d records, want 2", n)
	}

	got, err := Unmerge(path)
	if err != nil {
		t.Fatalf("Unmerge: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unmerged %d records, want 2", len(got))
	}
	if got[0].Name != "001" || string(got[0].Body) != "status=active" {
		t.Errorf("record 0 = %+v", got[0])
	}
	if got[1].Name != "002" || string(got[1].Body) != "status=pending" {
		t.Errorf("record 1 = %+v", got[1])
	}
	if !got[0].ModTime.Equal(now) {
		t.Errorf("mtime = %v, want %v", got[0].ModTime, now)
	}
}

func TestMergeEmptyProducesNoFile(t *testing.T) {
	dir := t.TempDir()
	n, path, err := Merge(dir, "agent-info", nil, 0)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if n != 0 || path != "" {
		t.Errorf("got n=%d path=%q, want empty merge", n, path)
	}
}

func TestMergeHonorsTimeLimit(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-time.Hour)
	fresh := time.Now()
	records := []Record{
		{Name: "stale", ModTime: old, Body: []byte("x")},
		{Name: "recent", ModTime: fresh, Body: []byte("y")},
	}

	n, path, err := Merge(dir, "agent-info", records, 60)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if n != 1 {
		t.Fatalf("merged %d records, want 1 (time-filtered)", n)
	}
	got, err := Unmerge(path)
	if err != nil {
		t.Fatalf("Unmerge: %v", err)
	}
	if len(got) != 1 || got[0].Name != "recent" {
		t.Errorf("got %+v, want only the recent record", got)
	}
}

func TestBuildExtractRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	fileA := filepath.Join(srcDir, "a.json")
	if err := os.WriteFile(fileA, []byte(`{"a":1}`), 0o640); err != nil {
		t.Fatal(err)
	}

	manifest := NewManifest()
	manifest.Add("queue/agent-info/a.json", FileMeta{ClusterItemKey: "/queue/agent-info/"})

	containerPath := filepath.Join(srcDir, "container.zip")
	if err := Build(containerPath, manifest, map[string]string{"queue/agent-info/a.json": fileA}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	got, err := Extract(containerPath, destDir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got.MasterFiles) != 1 {
		t.Fatalf("got %d manifest entries, want 1", len(got.MasterFiles))
	}

	extracted, err := os.ReadFile(filepath.Join(destDir, "queue/agent-info/a.json"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(extracted) != `{"a":1}` {
		t.Errorf("extracted content = %q", extracted)
	}
}

func TestExtractRejectsEntryEscapingDestDir(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	victim := filepath.Join(srcDir, "victim.txt")
	if err := os.WriteFile(victim, []byte("payload"), 0o640); err != nil {
		t.Fatal(err)
	}

	manifest := NewManifest()
	manifest.Add("queue/agent-info/a.json", FileMeta{ClusterItemKey: "/queue/agent-info/"})

	containerPath := filepath.Join(srcDir, "container.zip")
	entryName := "../../../../tmp/cluster-archive-escape-test"
	if err := Build(containerPath, manifest, map[string]string{entryName: victim}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := Extract(containerPath, destDir); !errors.Is(err, clustererr.ErrPathEscapesRoot) {
		t.Fatalf("err = %v, want ErrPathEscapesRoot", err)
	}
}
