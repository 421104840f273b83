package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cuemby/wazuh-cluster/pkg/agentstore"
	"github.com/cuemby/wazuh-cluster/pkg/catalog"
	"github.com/cuemby/wazuh-cluster/pkg/clusterserver"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
	"github.com/cuemby/wazuh-cluster/pkg/metrics"
)

func TestCollectorSamplesConnectedClientsAndCatalogSize(t *testing.T) {
	health := healthstore.New()
	clients := clusterserver.NewTable(health)
	clients.Add("client-a", "1.0", "10.0.0.2:1234", nil)

	catalogRef := clusterserver.NewCatalogRef()
	catalogRef.Swap(catalog.Snapshot{
		"etc/shared/foo.conf": {Path: "etc/shared/foo.conf"},
		"etc/shared/bar.conf": {Path: "etc/shared/bar.conf"},
	})

	c := metrics.NewCollector(clients, health, nil, catalogRef)
	c.Collect()

	if got := testutil.ToFloat64(metrics.ConnectedClients); got != 1 {
		t.Errorf("ConnectedClients = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CatalogItemsTotal); got != 2 {
		t.Errorf("CatalogItemsTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.HealthNodesConnected); got != 2 {
		t.Errorf("HealthNodesConnected = %v, want 2 (1 client + master)", got)
	}
}

func TestCollectorAggregatesAgentsByStatus(t *testing.T) {
	health := healthstore.New()
	clients := clusterserver.NewTable(health)
	agents, err := agentstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("agentstore.Open: %v", err)
	}
	defer agents.Close()

	if err := agents.Put(agentstore.Agent{ID: "001", Name: "alice", Status: "active"}); err != nil {
		t.Fatal(err)
	}
	if err := agents.Put(agentstore.Agent{ID: "002", Name: "bob", Status: "active"}); err != nil {
		t.Fatal(err)
	}
	if err := agents.Put(agentstore.Agent{ID: "003", Name: "carol", Status: "disconnected"}); err != nil {
		t.Fatal(err)
	}

	c := metrics.NewCollector(clients, health, agents, clusterserver.NewCatalogRef())
	c.Collect()

	if got := testutil.ToFloat64(metrics.AgentsTotal.WithLabelValues("active")); got != 2 {
		t.Errorf("AgentsTotal{active} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.AgentsTotal.WithLabelValues("disconnected")); got != 1 {
		t.Errorf("AgentsTotal{disconnected} = %v, want 1", got)
	}
}

func TestCollectorWithoutAgentRegistryLeavesAgentsMetricAlone(t *testing.T) {
	health := healthstore.New()
	clients := clusterserver.NewTable(health)

	c := metrics.NewCollector(clients, health, nil, clusterserver.NewCatalogRef())
	c.Collect() // must not panic with a nil agent store
}
