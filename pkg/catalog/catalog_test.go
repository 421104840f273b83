package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanProducesEntriesPerProfile(t *testing.T) {
	dir := t.TempDir()
	agentInfo := filepath.Join(dir, "agent-info")
	agentGroups := filepath.Join(dir, "agent-groups")
	if err := os.MkdirAll(agentInfo, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(agentGroups, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(agentInfo, "001.json"), []byte(`{"a":1}`), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(agentGroups, "001"), []byte("default"), 0o640); err != nil {
		t.Fatal(err)
	}

	scanner := NewScanner([]ItemProfile{
		{Key: "/queue/agent-info/", Root: agentInfo},
		{Key: "/queue/agent-groups/", Root: agentGroups, ExtraIsMeaningful: true},
	})

	snap, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("got %d entries, want 2", len(snap))
	}

	infoEntry, ok := snap["/queue/agent-info/001.json"]
	if !ok {
		t.Fatal("missing agent-info entry")
	}
	if infoEntry.ClusterItemKey != "/queue/agent-info/" {
		t.Errorf("cluster_item_key = %q", infoEntry.ClusterItemKey)
	}
	if infoEntry.MD5 == "" {
		t.Error("expected non-empty md5")
	}
}

func TestScanSkipsMissingRoot(t *testing.T) {
	scanner := NewScanner([]ItemProfile{
		{Key: "/queue/agent-groups/", Root: filepath.Join(t.TempDir(), "does-not-exist")},
	})
	snap, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("expected empty snapshot, got %d entries", len(snap))
	}
}

func TestScanNonRecursiveSkipsSubdirs(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "top.json"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "nested.json"), []byte("y"), 0o640); err != nil {
		t.Fatal(err)
	}

	scanner := NewScanner([]ItemProfile{{Key: "/queue/agent-info/", Root: dir, Recursive: false}})
	snap, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(snap) != 1 {
		t.Fatalf("got %d entries, want 1 (non-recursive)", len(snap))
	}
}

func TestScanRecursiveWalksSubdirs(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "top.json"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "nested.json"), []byte("y"), 0o640); err != nil {
		t.Fatal(err)
	}

	scanner := NewScanner([]ItemProfile{{Key: "/queue/agent-info/", Root: dir, Recursive: true}})
	snap, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("got %d entries, want 2 (recursive)", len(snap))
	}
}

func TestScanCancellableStopsOnSignal(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "top.json"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}

	scanner := NewScanner([]ItemProfile{{Key: "/queue/agent-info/", Root: dir}})
	stopper := make(chan struct{})
	close(stopper)

	_, err := scanner.ScanCancellable(stopper)
	if err == nil {
		t.Fatal("expected ScanCancellable to fail on an already-closed stopper")
	}
}

func TestScanCancellableSucceedsWhenNotStopped(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "top.json"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}

	scanner := NewScanner([]ItemProfile{{Key: "/queue/agent-info/", Root: dir}})
	stopper := make(chan struct{})

	snap, err := scanner.ScanCancellable(stopper)
	if err != nil {
		t.Fatalf("ScanCancellable: %v", err)
	}
	if len(snap) != 1 {
		t.Errorf("got %d entries, want 1", len(snap))
	}
}

func TestKeyForPathPicksLongestPrefix(t *testing.T) {
	profiles := []ItemProfile{
		{Key: "/queue/", Root: "/var/ossec/queue"},
		{Key: "/queue/agent-groups/", Root: "/var/ossec/queue/agent-groups"},
	}
	key, ok := KeyForPath(profiles, "/var/ossec/queue/agent-groups/001")
	if !ok {
		t.Fatal("expected match")
	}
	if key != "/queue/agent-groups/" {
		t.Errorf("key = %q, want the more specific agent-groups profile", key)
	}
}
