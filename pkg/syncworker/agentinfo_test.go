package syncworker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/wazuh-cluster/pkg/agentstore"
	"github.com/cuemby/wazuh-cluster/pkg/archive"
	"github.com/cuemby/wazuh-cluster/pkg/clustercfg"
	"github.com/cuemby/wazuh-cluster/pkg/clusterserver"
	"github.com/cuemby/wazuh-cluster/pkg/fileupdate"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
)

func buildMergedPush(t *testing.T, stagingDir, fileType string, records []archive.Record, clusterItemKey string) string {
	t.Helper()
	_, mergedPath, err := archive.Merge(stagingDir, fileType, records, 0)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	mergedName := filepath.Base(mergedPath)

	manifest := archive.NewClientFilesManifest()
	manifest.AddClientFile(mergedName, archive.FileMeta{
		ClusterItemKey: clusterItemKey,
		Merged:         true,
		MergeType:      fileType,
		MergeName:      mergedName,
	})

	incomingZip := filepath.Join(t.TempDir(), "incoming.zip")
	if err := archive.Build(incomingZip, manifest, map[string]string{mergedName: mergedPath}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return incomingZip
}

func TestAgentInfoWorkerAppliesKnownAgentAndSkipsUnknown(t *testing.T) {
	root := t.TempDir()
	updater, err := fileupdate.New(root)
	if err != nil {
		t.Fatalf("fileupdate.New: %v", err)
	}
	agents := agentstore.NewFake()
	agents.Put(agentstore.Agent{ID: "001", Name: "agent001"})

	incomingZip := buildMergedPush(t, t.TempDir(), "agent-info", []archive.Record{
		{Name: "001", Body: []byte("status=active")},
		{Name: "999", Body: []byte("status=ghost")},
	}, "/queue/agent-info/")

	health := healthstore.New()
	health.Register("client-a")

	ctx := clusterserver.WorkerContext{
		ClientName:  "client-a",
		ArchivePath: incomingZip,
		Stopper:     make(chan struct{}),
		Health:      health,
		Agents:      agents,
		Release:     func() {},
	}

	worker := NewAgentInfoWorker(AgentInfoConfig{
		Items:       clustercfg.DefaultClusterItems(root),
		Updater:     updater,
		StagingRoot: t.TempDir(),
	})
	worker(ctx)

	got, err := os.ReadFile(filepath.Join(root, "queue/agent-info/001"))
	if err != nil {
		t.Fatalf("reading applied file: %v", err)
	}
	if string(got) != "status=active" {
		t.Errorf("content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "queue/agent-info/999")); err == nil {
		t.Error("expected unknown agent's record not to be written")
	}

	status, _ := health.Get("client-a")
	if status.AgentInfo.Status != healthstore.StatusDone {
		t.Errorf("status = %v, want done", status.AgentInfo.Status)
	}
	if status.AgentInfo.MergedFiles != 1 {
		t.Errorf("merged files = %d, want 1", status.AgentInfo.MergedFiles)
	}
}
