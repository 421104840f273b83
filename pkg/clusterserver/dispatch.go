package clusterserver

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/wazuh-cluster/pkg/frame"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
	"github.com/cuemby/wazuh-cluster/pkg/log"
	"github.com/cuemby/wazuh-cluster/pkg/metrics"
)

// Fixed command names, per spec §4.1 and §4.6.
const (
	cmdEcho            = "echo-c"
	cmdSyncIntegrity   = "sync_i_c_m"
	cmdSyncAgentInfo   = "sync_ai_c_m"
	cmdSyncExtraValid  = "sync_ev_c_m"
	cmdPermitIntegrity = "sync_i_c_m_p"
	cmdPermitAgentInfo = "sync_ai_c_mp"
	cmdPermitExtraVal  = "sync_ev_c_mp"
	cmdGetNodes        = "get_nodes"
	cmdGetHealth       = "get_health"
	cmdGetAgents       = "get_agents"
	cmdFileStatus      = "file_status"
)

// dispatch handles exactly one frame and always writes a response
// (unless the command started a background worker whose ack was
// already written) — it never lets an error escape into the
// transport loop (spec §7 propagation rule).
func (h *handler) dispatch(fr *frame.Frame) {
	switch fr.Command {
	case cmdEcho:
		h.respondOK(fr.Counter, []byte("pong"))

	case frame.CmdNewFile:
		h.handleNewFile(fr)
	case frame.CmdFileChunk:
		h.handleFileChunk(fr)
	case frame.CmdCloseFile:
		h.handleCloseFile(fr)

	case cmdPermitIntegrity:
		h.respondPermit(fr.Counter, KindIntegrity)
	case cmdPermitAgentInfo:
		h.respondPermit(fr.Counter, KindAgentInfo)
	case cmdPermitExtraVal:
		h.respondPermit(fr.Counter, KindExtraValid)

	case cmdSyncIntegrity:
		h.startSync(fr, KindIntegrity)
	case cmdSyncAgentInfo:
		h.startSync(fr, KindAgentInfo)
	case cmdSyncExtraValid:
		h.startSync(fr, KindExtraValid)

	case cmdGetNodes:
		h.handleGetNodes(fr)
	case cmdGetHealth:
		h.handleGetHealth(fr)
	case cmdGetAgents:
		h.handleGetAgents(fr)
	case cmdFileStatus:
		h.handleFileStatus(fr)

	default:
		h.respondErr(fr.Counter, "unknown command")
	}
}

func (h *handler) respondOK(counter uint32, body []byte) {
	if err := h.conn.WriteResponse(counter, "ok", body); err != nil {
		log.WithClient("clusterserver", h.client.Name).Warn().Err(err).Msg("writing response")
	}
}

func (h *handler) respondErr(counter uint32, msg string) {
	if err := h.conn.WriteResponse(counter, "err", []byte(msg)); err != nil {
		log.WithClient("clusterserver", h.client.Name).Warn().Err(err).Msg("writing error response")
	}
}

func (h *handler) respondAck(counter uint32, body []byte) {
	if err := h.conn.WriteResponse(counter, "ack", body); err != nil {
		log.WithClient("clusterserver", h.client.Name).Warn().Err(err).Msg("writing ack response")
	}
}

// handleNewFile/handleFileChunk/handleCloseFile drive the chunked
// transfer sub-protocol (spec §4.1) on behalf of whichever sync_*_c_m
// command follows. A close_file frame just finalizes the slot; the
// caller learns the resulting path from the sync_*_c_m body, which
// names the same finalName the client used to close the slot.
func (h *handler) handleNewFile(fr *frame.Frame) {
	slotID := string(fr.Body)
	if _, err := h.chunks.Open(slotID); err != nil {
		h.respondErr(fr.Counter, err.Error())
		return
	}
	h.respondOK(fr.Counter, nil)
}

func (h *handler) handleFileChunk(fr *frame.Frame) {
	slotID, seq, data, err := frame.ParseChunk(fr.Body)
	if err != nil {
		h.respondErr(fr.Counter, err.Error())
		return
	}
	if err := h.chunks.Append(slotID, seq, data); err != nil {
		h.respondErr(fr.Counter, err.Error())
		return
	}
	h.respondOK(fr.Counter, nil)
}

func (h *handler) handleCloseFile(fr *frame.Frame) {
	slotID, finalName, err := splitSlotAndName(fr.Body)
	if err != nil {
		h.respondErr(fr.Counter, err.Error())
		return
	}
	path, err := h.chunks.Close(slotID, finalName)
	if err != nil {
		h.respondErr(fr.Counter, err.Error())
		return
	}
	h.respondOK(fr.Counter, []byte(path))
}

func splitSlotAndName(body []byte) (slotID, finalName string, err error) {
	s := string(body)
	for i, b := range s {
		if b == ' ' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("clusterserver: malformed close_file body")
}

// respondPermit answers one of the three permit-query commands with
// "ack true"/"ack false", letting a client decide whether to bother
// building and sending an archive before a worker is even available.
func (h *handler) respondPermit(counter uint32, k Kind) {
	allowed := h.client.hasPermit(k)
	if allowed {
		h.respondAck(counter, []byte("true"))
	} else {
		h.respondAck(counter, []byte("false"))
	}
}

// startSync handles sync_i_c_m/sync_ai_c_m/sync_ev_c_m: the frame
// body names the finalName of a prior new_file/file_chunk/close_file
// sequence, resolved under this client's tmp_files directory to the
// archive path handed to the worker. If the permit is free it
// flips false, spawns the worker, and acks "started"; otherwise it
// acks "denied" without touching any state (spec §4.6, concrete
// scenario 3).
func (h *handler) startSync(fr *frame.Frame, k Kind) {
	archivePath := filepath.Join(tmpFilesDir(h.server, h.client.Name), string(fr.Body))

	if !h.client.TryAcquire(k) {
		metrics.PermitDeniedTotal.WithLabelValues(k.String()).Inc()
		h.respondAck(fr.Counter, []byte("denied"))
		return
	}
	h.respondAck(fr.Counter, []byte("started"))

	client := h.client
	worker := h.server.Workers.forKind(k)
	if worker == nil {
		client.Release(k)
		return
	}

	ctx := WorkerContext{
		ClientName:    client.Name,
		ArchivePath:   archivePath,
		Conn:          h.conn,
		Stopper:       client.Stopper(),
		Health:        h.server.Health,
		Agents:        h.server.Agents,
		Catalog:       h.server.Catalog,
		Release:       func() { client.Release(k) },
		AwaitResponse: client.awaitResponse,
	}
	go worker(ctx)
}

func (h *handler) handleGetNodes(fr *frame.Frame) {
	body, err := json.Marshal(h.server.Clients.Snapshots())
	if err != nil {
		h.respondErr(fr.Counter, err.Error())
		return
	}
	h.respondOK(fr.Counter, body)
}

func (h *handler) handleGetHealth(fr *frame.Frame) {
	var includeOnly map[string]bool
	if len(fr.Body) > 0 {
		includeOnly = make(map[string]bool)
		for _, name := range splitNonEmpty(string(fr.Body)) {
			includeOnly[name] = true
		}
	}
	snap := h.server.Health.Snapshot(includeOnly)
	body, err := json.Marshal(healthResponse(snap))
	if err != nil {
		h.respondErr(fr.Counter, err.Error())
		return
	}
	h.respondOK(fr.Counter, body)
}

// healthResponseShape mirrors the admin get_health envelope: node
// count plus each tracked client's status tree, string-keyed on
// Status so the wire payload reads the same as the original's
// now-replaced sentinel strings without reintroducing the bug they
// caused (spec §9).
type healthResponseShape struct {
	NConnectedNodes int                                  `json:"n_connected_nodes"`
	Clients         map[string]healthstore.ClientStatus `json:"nodes"`
}

func healthResponse(snap healthstore.Snapshot) healthResponseShape {
	return healthResponseShape{NConnectedNodes: snap.ConnectedNodes, Clients: snap.Clients}
}

func (h *handler) handleGetAgents(fr *frame.Frame) {
	// The agent inventory itself lives outside the sync core (spec
	// §1 non-goal: "the domain model for agents, rules, decoders" is
	// an external collaborator). The agent filter only answers
	// known-name/known-ID lookups and cannot enumerate agents, so with a
	// filter configured this endpoint replies with an empty JSON object;
	// it does not list any agents.
	if h.server.Agents == nil {
		h.respondErr(fr.Counter, "agent registry not configured")
		return
	}
	h.respondOK(fr.Counter, []byte("{}"))
}

func (h *handler) handleFileStatus(fr *frame.Frame) {
	snap, err := h.server.Catalog.Get()
	if err != nil {
		h.respondErr(fr.Counter, err.Error())
		return
	}
	body, err := json.Marshal(snap)
	if err != nil {
		h.respondErr(fr.Counter, err.Error())
		return
	}
	h.respondOK(fr.Counter, body)
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
