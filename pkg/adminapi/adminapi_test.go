package adminapi

import (
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/wazuh-cluster/pkg/agentstore"
	"github.com/cuemby/wazuh-cluster/pkg/clusterserver"
	"github.com/cuemby/wazuh-cluster/pkg/frame"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
)

func testAPI(t *testing.T) (*API, *healthstore.Store, *agentstore.Store) {
	t.Helper()
	health := healthstore.New()
	agents, err := agentstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { agents.Close() })

	a := New(Config{
		NodeName: "master-01",
		Version:  "1.0",
		BindAddr: "10.0.0.1",
		Clients:  clusterserver.NewTable(health),
		Health:   health,
		Agents:   agents,
		Catalog:  clusterserver.NewCatalogRef(),
	})
	return a, health, agents
}

func TestGetNodesIncludesMasterAndConnectedClients(t *testing.T) {
	a, _, _ := testAPI(t)
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { serverSide.Close(); clientSide.Close() })
	a.cfg.Clients.Add("client-a", "1.0", "10.0.0.2:1234", frame.NewConn(serverSide))

	nodes := a.GetNodes()
	require.Contains(t, nodes, "master-01")
	require.Contains(t, nodes, "client-a")
	assert.Equal(t, "master", nodes["master-01"].Type)
	assert.Equal(t, "client", nodes["client-a"].Type)
}

func TestGetHealthFiltersByNode(t *testing.T) {
	a, health, _ := testAPI(t)
	health.Register("client-a")
	health.Register("client-b")

	all := a.GetHealth(nil)
	assert.Len(t, all.Clients, 2)

	filtered := a.GetHealth([]string{"client-a"})
	assert.Len(t, filtered.Clients, 1)
	assert.Contains(t, filtered.Clients, "client-a")
}

func TestGetAgentsFiltersSortsAndPaginates(t *testing.T) {
	a, _, agents := testAPI(t)
	require.NoError(t, agents.Put(agentstore.Agent{ID: "003", Name: "charlie", Status: "active", Node: "client-a"}))
	require.NoError(t, agents.Put(agentstore.Agent{ID: "001", Name: "alice", Status: "active", Node: "client-a"}))
	require.NoError(t, agents.Put(agentstore.Agent{ID: "002", Name: "bob", Status: "disconnected", Node: "client-b"}))

	page, err := a.GetAgents(GetAgentsQuery{FilterStatus: "active", Sort: "name"})
	require.NoError(t, err)
	require.Equal(t, 2, page.TotalItems)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "alice", page.Items[0].Name)
	assert.Equal(t, "charlie", page.Items[1].Name)

	paged, err := a.GetAgents(GetAgentsQuery{Sort: "name", Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, paged.TotalItems)
	require.Len(t, paged.Items, 1)
	assert.Equal(t, "bob", paged.Items[0].Name)

	searched, err := a.GetAgents(GetAgentsQuery{Search: "char"})
	require.NoError(t, err)
	require.Len(t, searched.Items, 1)
	assert.Equal(t, "charlie", searched.Items[0].Name)
}

func TestGetAgentsWithoutRegistryErrors(t *testing.T) {
	a, _, _ := testAPI(t)
	a.cfg.Agents = nil

	_, err := a.GetAgents(GetAgentsQuery{})
	assert.Error(t, err)
}

func TestSyncReportsNotConnectedForUnknownNode(t *testing.T) {
	a, _, _ := testAPI(t)

	results := a.Sync([]string{"ghost"})
	require.Contains(t, results, "ghost")
	assert.False(t, results["ghost"].OK)
	assert.Equal(t, "not connected", results["ghost"].Message)
}

func TestGetFilesOmitsUnconnectedNode(t *testing.T) {
	a, _, _ := testAPI(t)

	response := a.GetFiles(nil, []string{"ghost"})
	assert.NotContains(t, response, "ghost")
}

func TestGetFilesIncludesMasterWhenNoNodesNamed(t *testing.T) {
	a, _, _ := testAPI(t)
	a.cfg.Catalog.Swap(nil)

	response := a.GetFiles(nil, nil)
	require.Contains(t, response, "master-01")
}

func TestParseGetAgentsDecodesPositionalFields(t *testing.T) {
	body := "active" + fieldSep + "client-a,client-b" + fieldSep + "5" + fieldSep + "10" + fieldSep + "-name" + fieldSep + "ali"
	q := parseGetAgents(body)
	assert.Equal(t, "active", q.FilterStatus)
	assert.Equal(t, []string{"client-a", "client-b"}, q.FilterNodes)
	assert.Equal(t, 5, q.Offset)
	assert.Equal(t, 10, q.Limit)
	assert.Equal(t, "-name", q.Sort)
	assert.Equal(t, "ali", q.Search)
}

func TestParseGetAgentsDefaultsUnsetFields(t *testing.T) {
	q := parseGetAgents("")
	assert.Equal(t, "", q.FilterStatus)
	assert.Nil(t, q.FilterNodes)
	assert.Equal(t, 0, q.Offset)
	assert.Equal(t, 0, q.Limit)
}

func TestParseGetFilesDecodesPathsAndNodes(t *testing.T) {
	body := "/etc/shared/foo.conf,/etc/shared/bar.conf" + fieldSep + "client-a"
	paths, nodes := parseGetFiles(body)
	assert.Equal(t, []string{"/etc/shared/foo.conf", "/etc/shared/bar.conf"}, paths)
	assert.Equal(t, []string{"client-a"}, nodes)
}

func TestListenAndServeOneRequest(t *testing.T) {
	a, _, _ := testAPI(t)
	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	require.NoError(t, a.Listen(sockPath))
	defer a.Shutdown(time.Second)

	rawConn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer rawConn.Close()
	nc := frame.NewConn(rawConn)

	_, err = nc.WriteFrame("get_nodes", nil)
	require.NoError(t, err)

	resp, err := nc.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Command)

	var nodes map[string]NodeInfo
	require.NoError(t, json.Unmarshal(resp.Body, &nodes))
	assert.Contains(t, nodes, "master-01")
}
