// Package clusterserver is the master side of the cluster wire
// protocol: the TCP accept loop, the per-client connection handler,
// the clients table with its three sync permits, and the background
// integrity refresher, per spec §4.5-§4.9.
package clusterserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/wazuh-cluster/pkg/frame"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
)

// Kind names one of the three sync streams a client drives.
type Kind int

const (
	KindIntegrity Kind = iota
	KindAgentInfo
	KindExtraValid
)

// String names a Kind the way logs and metric labels report it.
func (k Kind) String() string {
	switch k {
	case KindAgentInfo:
		return "agent_info"
	case KindExtraValid:
		return "extra_valid"
	default:
		return "integrity"
	}
}

// permits holds the three per-client booleans from spec §3: a permit
// is true iff no worker of that kind is currently active for this
// client.
type permits struct {
	integrity  bool
	agentInfo  bool
	extraValid bool
}

func (p *permits) get(k Kind) bool {
	switch k {
	case KindAgentInfo:
		return p.agentInfo
	case KindExtraValid:
		return p.extraValid
	default:
		return p.integrity
	}
}

func (p *permits) set(k Kind, v bool) {
	switch k {
	case KindAgentInfo:
		p.agentInfo = v
	case KindExtraValid:
		p.extraValid = v
	default:
		p.integrity = v
	}
}

// Client is one connected client's record: identity, transport, and
// the permit state guarding its three sync workers. Per the
// re-architecture in spec §9 ("thread objects holding mutable
// references to the handler"), nothing outside this package ever
// holds a *Client directly — workers are handed only the narrow
// WorkerContext they need (see worker.go).
type Client struct {
	Name        string
	Version     string
	Addr        string
	ConnectedAt time.Time

	conn *frame.Conn

	mu      sync.Mutex
	perm    permits
	stopper chan struct{}

	pendingMu sync.Mutex
	pending   map[uint32]chan *frame.Frame
}

// TryAcquire flips a permit from true to false and reports success.
// It is the sole gate preventing two concurrent workers of the same
// kind for this client (spec §4.6, §5 "Permit booleans").
func (c *Client) TryAcquire(k Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.perm.get(k) {
		return false
	}
	c.perm.set(k, false)
	return true
}

// hasPermit reports a permit's current value without acquiring it,
// used to answer the sync_*_c_m_p query commands.
func (c *Client) hasPermit(k Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perm.get(k)
}

// Release flips a permit back to true, called by a worker on any
// terminal state: success, error, or cancellation.
func (c *Client) Release(k Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perm.set(k, true)
}

// Stopper returns the channel that closes when this client's
// connection is shutting down, the single cancellation signal
// broadcast to every worker and background task tied to it (spec §5).
func (c *Client) Stopper() <-chan struct{} {
	return c.stopper
}

// Conn exposes the client's framed connection for workers that need
// to send unsolicited frames (e.g. sync_m_c, sync_m_c_ok/err).
func (c *Client) Conn() *frame.Conn {
	return c.conn
}

// awaitResponse registers interest in a counter this client will send
// a future frame under (typically the counter a worker's own
// WriteFrame just used), so the handler's read loop can route that
// one frame back to the worker instead of through normal dispatch
// (spec §4.7.1: "await the client's applied/failed response"). The
// returned cancel func must be called once the waiter gives up, to
// avoid leaking the registration.
func (c *Client) awaitResponse(counter uint32) (<-chan *frame.Frame, func()) {
	ch := make(chan *frame.Frame, 1)
	c.pendingMu.Lock()
	if c.pending == nil {
		c.pending = make(map[uint32]chan *frame.Frame)
	}
	c.pending[counter] = ch
	c.pendingMu.Unlock()

	cancel := func() {
		c.pendingMu.Lock()
		delete(c.pending, counter)
		c.pendingMu.Unlock()
	}
	return ch, cancel
}

// deliverResponse routes fr to a waiter registered for its counter,
// if any. It reports whether a waiter was found.
func (c *Client) deliverResponse(fr *frame.Frame) bool {
	c.pendingMu.Lock()
	ch, ok := c.pending[fr.Counter]
	if ok {
		delete(c.pending, fr.Counter)
	}
	c.pendingMu.Unlock()
	if !ok {
		return false
	}
	ch <- fr
	return true
}

// Request sends command/body to this client and blocks for its
// matching response, the master-initiated counterpart to the
// client-initiated awaitResponse pattern above — used by the admin
// endpoint's sync and get_files handlers to ask an already-connected
// client to act (req_sync_m_c) or report (file_status) on demand.
func (c *Client) Request(command string, body []byte, timeout time.Duration) (*frame.Frame, error) {
	counter, err := c.conn.WriteFrame(command, body)
	if err != nil {
		return nil, fmt.Errorf("clusterserver: sending %s to %s: %w", command, c.Name, err)
	}
	ch, cancel := c.awaitResponse(counter)
	defer cancel()
	select {
	case fr := <-ch:
		return fr, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("clusterserver: timed out waiting for %s response from %s", command, c.Name)
	case <-c.stopper:
		return nil, fmt.Errorf("clusterserver: %s disconnected", c.Name)
	}
}

// Table is the master's clients table: exclusive write lock for
// add/remove, shared read for lookups (spec §5 "Shared resources").
type Table struct {
	mu      sync.RWMutex
	clients map[string]*Client
	health  *healthstore.Store
}

// NewTable creates an empty clients table backed by health for status
// tree registration/removal.
func NewTable(health *healthstore.Store) *Table {
	return &Table{clients: make(map[string]*Client), health: health}
}

// Add inserts a client record, evicting and stopping any prior record
// under the same name (spec §3 invariant 1: "a reconnect with the
// same name evicts the prior record").
func (t *Table) Add(name, version, addr string, conn *frame.Conn) *Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.clients[name]; ok {
		close(prev.stopper)
		prev.conn.Close()
	}

	c := &Client{
		Name:        name,
		Version:     version,
		Addr:        addr,
		ConnectedAt: time.Now(),
		conn:        conn,
		perm:        permits{integrity: true, agentInfo: true, extraValid: true},
		stopper:     make(chan struct{}),
	}
	t.clients[name] = c
	t.health.Register(name)
	return c
}

// Remove drops a client record, releasing its status tree. Safe to
// call more than once for the same name.
func (t *Table) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, name)
	t.health.Remove(name)
}

// RemoveIfCurrent drops name's record only if it still points at c,
// the identity check a just-evicted handler's cleanup needs so it
// cannot delete the fresh record a concurrent reconnect just
// installed under the same name (spec §3 invariant 1).
func (t *Table) RemoveIfCurrent(name string, c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.clients[name]; ok && cur == c {
		delete(t.clients, name)
		t.health.Remove(name)
	}
}

// Get looks up a client by name.
func (t *Table) Get(name string) (*Client, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.clients[name]
	return c, ok
}

// Names returns every currently connected client's name.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.clients))
	for name := range t.clients {
		out = append(out, name)
	}
	return out
}

// Snapshot is the get_nodes response shape: enough per-client detail
// to render an inventory table.
type Snapshot struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Snapshots returns a point-in-time list of every connected client.
func (t *Table) Snapshots() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, Snapshot{Name: c.Name, Version: c.Version, Addr: c.Addr, ConnectedAt: c.ConnectedAt})
	}
	return out
}
