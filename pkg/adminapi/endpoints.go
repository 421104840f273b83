package adminapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/wazuh-cluster/pkg/agentstore"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
)

// NodeInfo is one get_nodes entry, covering both connected clients
// and the master's own record (master.py's internal socket handler
// adds its own node_name under the same shape).
type NodeInfo struct {
	Name    string `json:"name"`
	Addr    string `json:"ip"`
	Type    string `json:"type"`
	Version string `json:"version"`
}

// GetNodes reports every connected client plus this master's own
// entry, keyed by node name.
func (a *API) GetNodes() map[string]NodeInfo {
	out := make(map[string]NodeInfo)
	for _, snap := range a.cfg.Clients.Snapshots() {
		out[snap.Name] = NodeInfo{Name: snap.Name, Addr: snap.Addr, Type: "client", Version: snap.Version}
	}
	out[a.cfg.NodeName] = NodeInfo{Name: a.cfg.NodeName, Addr: a.cfg.BindAddr, Type: "master", Version: a.cfg.Version}
	return out
}

// GetHealth reports every tracked client's sync status tree,
// restricted to filterNodes when non-empty.
func (a *API) GetHealth(filterNodes []string) healthstore.Snapshot {
	var includeOnly map[string]bool
	if len(filterNodes) > 0 {
		includeOnly = make(map[string]bool, len(filterNodes))
		for _, n := range filterNodes {
			includeOnly[n] = true
		}
	}
	return a.cfg.Health.Snapshot(includeOnly)
}

// GetAgentsQuery is the decoded get_agents request (spec §6): the
// same six-field shape the original internal socket parses
// positionally, an unset field meaning "no filter".
type GetAgentsQuery struct {
	FilterStatus string
	FilterNodes  []string
	Offset       int
	Limit        int
	Sort         string
	Search       string
}

// AgentsPage is the get_agents response envelope: the filtered total
// plus the page actually returned, mirroring get_agents_status's
// {totalItems, items} shape.
type AgentsPage struct {
	TotalItems int                 `json:"totalItems"`
	Items      []agentstore.Agent `json:"items"`
}

// GetAgents filters, sorts, and paginates the known-agent registry.
// It requires an agent registry to be configured — unlike the cluster
// wire protocol's own file_status query, this endpoint has no
// degraded answer for "no registry".
func (a *API) GetAgents(q GetAgentsQuery) (AgentsPage, error) {
	if a.cfg.Agents == nil {
		return AgentsPage{}, fmt.Errorf("adminapi: agent registry not configured")
	}
	agents, err := a.cfg.Agents.List()
	if err != nil {
		return AgentsPage{}, fmt.Errorf("adminapi: listing agents: %w", err)
	}

	filtered := make([]agentstore.Agent, 0, len(agents))
	for _, ag := range agents {
		if q.FilterStatus != "" && !strings.EqualFold(ag.Status, q.FilterStatus) {
			continue
		}
		if len(q.FilterNodes) > 0 && !containsFold(q.FilterNodes, ag.Node) {
			continue
		}
		if q.Search != "" && !matchesSearch(ag, q.Search) {
			continue
		}
		filtered = append(filtered, ag)
	}

	sortAgents(filtered, q.Sort)

	total := len(filtered)
	start, end := paginate(total, q.Offset, q.Limit)
	return AgentsPage{TotalItems: total, Items: filtered[start:end]}, nil
}

// SyncResult is one targeted node's req_sync_m_c outcome.
type SyncResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Sync asks each named node (every connected client, if none are
// named) to run an integrity pull immediately rather than wait for
// its next ticker, the admin counterpart to master.py's 'sync'
// command forwarding req_sync_m_c.
func (a *API) Sync(nodes []string) map[string]SyncResult {
	targets := nodes
	if len(targets) == 0 {
		targets = a.cfg.Clients.Names()
	}
	out := make(map[string]SyncResult, len(targets))
	for _, name := range targets {
		client, ok := a.cfg.Clients.Get(name)
		if !ok {
			out[name] = SyncResult{OK: false, Message: "not connected"}
			continue
		}
		fr, err := client.Request("req_sync_m_c", nil, requestTimeout)
		if err != nil {
			out[name] = SyncResult{OK: false, Message: err.Error()}
			continue
		}
		out[name] = SyncResult{OK: fr.Command == "ok", Message: string(fr.Body)}
	}
	return out
}

// GetFiles proxies a file_status query to every named node (every
// connected client plus the master, if none are named), collecting
// each one's catalog listing. A named node that is not currently
// connected is simply absent from the result rather than an error
// (spec §9's Open Question, decided in SPEC_FULL.md §E.2): downstream
// tooling already treats a missing key as "no data".
func (a *API) GetFiles(paths, nodes []string) map[string]json.RawMessage {
	response := make(map[string]json.RawMessage)

	includeMaster := len(nodes) == 0
	targets := nodes
	if len(targets) == 0 {
		targets = a.cfg.Clients.Names()
	}

	for _, name := range targets {
		if name == a.cfg.NodeName {
			includeMaster = true
			continue
		}
		client, ok := a.cfg.Clients.Get(name)
		if !ok {
			continue
		}
		fr, err := client.Request("file_status", nil, requestTimeout)
		if err != nil {
			response[name] = rawString(err.Error())
			continue
		}
		if fr.Command != "ok" {
			response[name] = rawString(string(fr.Body))
			continue
		}
		response[name] = json.RawMessage(fr.Body)
	}

	if includeMaster {
		if snap, err := a.cfg.Catalog.Get(); err != nil {
			response[a.cfg.NodeName] = rawString(err.Error())
		} else if body, err := json.Marshal(snap); err == nil {
			response[a.cfg.NodeName] = body
		}
	}

	if len(paths) > 0 {
		filterSnapshotsByPath(response, paths)
	}
	return response
}

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// filterSnapshotsByPath narrows each node's path-keyed catalog
// listing down to the requested paths in place. An entry that is not
// a path-keyed object (an error string recorded above) is left
// untouched.
func filterSnapshotsByPath(response map[string]json.RawMessage, paths []string) {
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}
	for node, raw := range response {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			continue
		}
		filtered := make(map[string]json.RawMessage, len(want))
		for path := range want {
			if v, ok := entries[path]; ok {
				filtered[path] = v
			}
		}
		body, err := json.Marshal(filtered)
		if err != nil {
			continue
		}
		response[node] = body
	}
}

func matchesSearch(ag agentstore.Agent, search string) bool {
	search = strings.ToLower(search)
	return strings.Contains(strings.ToLower(ag.Name), search) || strings.Contains(strings.ToLower(ag.ID), search)
}

func containsFold(list []string, val string) bool {
	for _, v := range list {
		if strings.EqualFold(v, val) {
			return true
		}
	}
	return false
}

func sortAgents(agents []agentstore.Agent, spec string) {
	if spec == "" {
		return
	}
	desc := strings.HasPrefix(spec, "-")
	field := strings.TrimPrefix(spec, "-")
	sort.Slice(agents, func(i, j int) bool {
		var x, y string
		switch field {
		case "id":
			x, y = agents[i].ID, agents[j].ID
		default:
			x, y = agents[i].Name, agents[j].Name
		}
		if desc {
			return x > y
		}
		return x < y
	})
}

// paginate clamps offset/limit into a valid [start:end) slice range
// over a total-length collection. limit <= 0 means "no limit".
func paginate(total, offset, limit int) (start, end int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	start = offset
	if limit <= 0 {
		return start, total
	}
	end = start + limit
	if end > total {
		end = total
	}
	return start, end
}
