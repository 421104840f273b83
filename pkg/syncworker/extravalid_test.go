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

func TestExtraValidWorkerAppliesGroupMembershipFiles(t *testing.T) {
	root := t.TempDir()
	updater, err := fileupdate.New(root)
	if err != nil {
		t.Fatalf("fileupdate.New: %v", err)
	}
	agents := agentstore.NewFake()
	agents.Put(agentstore.Agent{ID: "001", Name: "agent001"})

	incomingZip := buildMergedPush(t, t.TempDir(), "agent-groups", []archive.Record{
		{Name: "001", Body: []byte("default,webserver")},
	}, "/queue/agent-groups/")

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

	worker := NewExtraValidWorker(ExtraValidConfig{
		Items:       clustercfg.DefaultClusterItems(root),
		Updater:     updater,
		StagingRoot: t.TempDir(),
	})
	worker(ctx)

	got, err := os.ReadFile(filepath.Join(root, "queue/agent-groups/001"))
	if err != nil {
		t.Fatalf("reading applied file: %v", err)
	}
	if string(got) != "default,webserver" {
		t.Errorf("content = %q", got)
	}

	status, _ := health.Get("client-a")
	if status.ExtraValid.Status != healthstore.StatusDone {
		t.Errorf("status = %v, want done", status.ExtraValid.Status)
	}
	if status.ExtraValid.MergedFiles != 1 {
		t.Errorf("merged files = %d, want 1", status.ExtraValid.MergedFiles)
	}
}
