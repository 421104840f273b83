package diff

import (
	"testing"

	"github.com/cuemby/wazuh-cluster/pkg/catalog"
)

func entry(key, md5 string) catalog.Entry {
	return catalog.Entry{MD5: md5, ClusterItemKey: key}
}

func TestCompareBuckets(t *testing.T) {
	local := catalog.Snapshot{
		"/queue/agent-info/001": entry("/queue/agent-info/", "aaa"),
		"/queue/agent-info/002": entry("/queue/agent-info/", "bbb"),
		"/queue/agent-info/003": entry("/queue/agent-info/", "ccc"),
	}
	remote := catalog.Snapshot{
		"/queue/agent-info/002":   entry("/queue/agent-info/", "changed"),
		"/queue/agent-groups/009": entry("/queue/agent-groups/", "ddd"),
	}

	result := Compare(local, remote, map[string]bool{"/queue/agent-groups/": true})

	if _, ok := result[Missing]["/queue/agent-info/001"]; !ok {
		t.Error("001 should be missing (peer lacks it)")
	}
	if _, ok := result[Missing]["/queue/agent-info/003"]; !ok {
		t.Error("003 should be missing (peer lacks it)")
	}
	if _, ok := result[Shared]["/queue/agent-info/002"]; !ok {
		t.Error("002 should be shared (content differs)")
	}
	if _, ok := result[ExtraValid]["/queue/agent-groups/009"]; !ok {
		t.Error("009 should be extra_valid (agent-groups profile)")
	}
	if len(result[Extra]) != 0 {
		t.Errorf("expected no plain extras, got %v", result[Extra])
	}
}

func TestCompareDropsIdenticalFiles(t *testing.T) {
	local := catalog.Snapshot{"/queue/agent-info/001": entry("/queue/agent-info/", "same")}
	remote := catalog.Snapshot{"/queue/agent-info/001": entry("/queue/agent-info/", "same")}

	result := Compare(local, remote, nil)
	if !result.IsEmpty() {
		t.Errorf("expected empty result for identical snapshots, got %+v", result)
	}
}

func TestCompareExtraWithoutMeaningfulProfile(t *testing.T) {
	local := catalog.Snapshot{}
	remote := catalog.Snapshot{"/queue/agent-info/stray": entry("/queue/agent-info/", "x")}

	result := Compare(local, remote, map[string]bool{"/queue/agent-groups/": true})
	if _, ok := result[Extra]["/queue/agent-info/stray"]; !ok {
		t.Error("expected plain extra bucket for non-meaningful profile")
	}
	if len(result[ExtraValid]) != 0 {
		t.Errorf("expected no extra_valid entries, got %v", result[ExtraValid])
	}
}

func TestPathsForCollectsMultipleBuckets(t *testing.T) {
	result := NewResult()
	result[Shared]["a"] = entry("k", "1")
	result[Missing]["b"] = entry("k", "2")
	result[Extra]["c"] = entry("k", "3")

	paths := PathsFor(result, Shared, Missing)
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2", len(paths))
	}
}
