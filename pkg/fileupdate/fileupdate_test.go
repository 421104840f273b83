package fileupdate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/wazuh-cluster/pkg/clustererr"
)

type fakeAgents struct {
	names map[string]bool
}

func (f fakeAgents) KnownName(name string) bool { return f.names[name] }
func (f fakeAgents) KnownID(id string) bool      { return false }

func TestApplyAtomicWritesContent(t *testing.T) {
	root := t.TempDir()
	u, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := Request{
		RelPath: "queue/agent-info/001",
		Content: []byte("status=active"),
		Policy:  ItemPolicy{Mode: WriteAtomic, Umask: 0o027},
	}
	if err := u.Apply(req, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "queue/agent-info/001"))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(got) != "status=active" {
		t.Errorf("content = %q", got)
	}
}

func TestApplyDirectOverwritesInPlace(t *testing.T) {
	root := t.TempDir()
	u, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dest := filepath.Join(root, "queue/agent-groups/default")
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte("old"), 0o640); err != nil {
		t.Fatal(err)
	}

	req := Request{
		RelPath: "queue/agent-groups/default",
		Content: []byte("new"),
		Policy:  ItemPolicy{Mode: WriteDirect},
	}
	if err := u.Apply(req, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if string(got) != "new" {
		t.Errorf("content = %q, want new", got)
	}
}

func TestApplySetsModTime(t *testing.T) {
	root := t.TempDir()
	u, _ := New(root)
	when := time.Unix(1700000000, 0)

	req := Request{
		RelPath: "queue/agent-info/002",
		Content: []byte("x"),
		ModTime: when,
		Policy:  ItemPolicy{Mode: WriteAtomic},
	}
	if err := u.Apply(req, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	info, err := os.Stat(filepath.Join(root, "queue/agent-info/002"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(when) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), when)
	}
}

func TestApplySkipsUnknownAgent(t *testing.T) {
	root := t.TempDir()
	u, _ := New(root)
	filter := fakeAgents{names: map[string]bool{"agent001": true}}

	req := Request{
		RelPath:        "queue/agent-info/999",
		Content:        []byte("x"),
		Policy:         ItemPolicy{Mode: WriteAtomic},
		ClusterItemKey: "/queue/agent-info/",
		AgentName:      "ghost-agent",
	}
	err := u.Apply(req, filter)
	if !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent", err)
	}
	if _, statErr := os.Stat(filepath.Join(root, req.RelPath)); statErr == nil {
		t.Error("expected file not to be written for unknown agent")
	}

	warnings := u.Warnings()
	if warnings["/queue/agent-info/"] != 1 {
		t.Errorf("warnings = %v, want 1 for agent-info", warnings)
	}
}

func TestApplyAllowsKnownAgent(t *testing.T) {
	root := t.TempDir()
	u, _ := New(root)
	filter := fakeAgents{names: map[string]bool{"agent001": true}}

	req := Request{
		RelPath:   "queue/agent-info/001",
		Content:   []byte("status=active"),
		Policy:    ItemPolicy{Mode: WriteAtomic},
		AgentName: "agent001",
	}
	if err := u.Apply(req, filter); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func TestApplyCreatesLockSentinelFile(t *testing.T) {
	root := t.TempDir()
	u, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := Request{
		RelPath: "queue/agent-info/001",
		Content: []byte("status=active"),
		Policy:  ItemPolicy{Mode: WriteAtomic},
	}
	if err := u.Apply(req, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	lockPath := filepath.Join(root, "queue", "cluster", "lockdir", "001.lock")
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("expected lock sentinel file at %s: %v", lockPath, err)
	}
}

func TestApplySerializesConcurrentWritesToSamePath(t *testing.T) {
	root := t.TempDir()
	u, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 20
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			done <- u.Apply(Request{
				RelPath: "queue/agent-info/001",
				Content: []byte{byte('a' + i%26)},
				Policy:  ItemPolicy{Mode: WriteDirect},
			}, nil)
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	// every writer held the lock for its full write, so the final
	// content must be exactly one byte, never interleaved.
	got, err := os.ReadFile(filepath.Join(root, "queue/agent-info/001"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("content = %q, want exactly one byte", got)
	}
}

func TestApplyConcurrentDifferentPathsDontRaceUmask(t *testing.T) {
	root := t.TempDir()
	u, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 20
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			done <- u.Apply(Request{
				RelPath: filepath.Join("queue/agent-info", string(rune('a'+i))),
				Content: []byte("x"),
				Policy:  ItemPolicy{Mode: WriteAtomic, Umask: os.FileMode(0o007 * (i % 8))},
			}, nil)
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
}

func TestApplyRejectsPathEscapingRoot(t *testing.T) {
	root := t.TempDir()
	u, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := Request{
		RelPath: "../../../../etc/evil",
		Content: []byte("pwned"),
		Policy:  ItemPolicy{Mode: WriteDirect},
	}
	if err := u.Apply(req, nil); !errors.Is(err, clustererr.ErrPathEscapesRoot) {
		t.Fatalf("err = %v, want ErrPathEscapesRoot", err)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(root), "etc/evil")); statErr == nil {
		t.Error("expected no file written outside root")
	}
}

func TestResetWarningsClears(t *testing.T) {
	root := t.TempDir()
	u, _ := New(root)
	filter := fakeAgents{}

	u.Apply(Request{RelPath: "x", ClusterItemKey: "/queue/agent-info/", AgentName: "ghost"}, filter)
	if len(u.Warnings()) == 0 {
		t.Fatal("expected a warning to be recorded")
	}
	u.ResetWarnings()
	if len(u.Warnings()) != 0 {
		t.Error("expected warnings to be cleared")
	}
}
