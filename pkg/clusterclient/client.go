// Package clusterclient is the client side of the cluster wire
// protocol: it dials the master, performs the handshake, and runs the
// three periodic loops that keep a client in sync (spec §3's data
// flow: an integrity pull plus two client-initiated pushes). Same
// shape as the master's connection handler in pkg/clusterserver, kept
// independent of it so neither side imports the other.
package clusterclient

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/wazuh-cluster/pkg/clustercfg"
	"github.com/cuemby/wazuh-cluster/pkg/fileupdate"
	"github.com/cuemby/wazuh-cluster/pkg/frame"
	"github.com/cuemby/wazuh-cluster/pkg/log"
)

// Config wires a Client to one master endpoint and to the local file
// tree it keeps synchronized.
type Config struct {
	Name    string
	Version string

	MasterAddr string
	DialTimeout time.Duration

	// Root is this node's own platform root, mirroring the master's
	// <root>/queue/cluster layout (spec §6): content received from the
	// master is staged under Root/queue/cluster/<name>/tmp_files, and
	// outgoing archives are built under Root/queue/cluster/<name>/staging.
	Root  string
	Items []clustercfg.ClusterItem

	Intervals       clustercfg.Intervals
	ResponseTimeout time.Duration
}

// Client is one connection to the master, plus the three periodic
// loops run against it. Like clusterserver.Client, it carries the
// connection and per-counter response routing, but no back-pointer to
// any orchestrating type — callers get only Start/Stop.
type Client struct {
	cfg    Config
	conn   *frame.Conn
	chunks *frame.ChunkReceiver
	logger zerolog.Logger

	updater *fileupdate.Updater

	pendingMu sync.Mutex
	pending   map[uint32]chan *frame.Frame

	integrityResult  chan integrityPush
	integrityTrigger chan struct{}

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to cfg.MasterAddr, performs the echo-c handshake, and
// returns a Client ready for Start.
func Dial(cfg Config) (*Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 2 * time.Minute
	}

	nc, err := net.DialTimeout("tcp", cfg.MasterAddr, cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("clusterclient: dialing %s: %w", cfg.MasterAddr, err)
	}
	return newClient(cfg, frame.NewConn(nc))
}

// newClient wraps an already-established connection, used directly by
// Dial and by tests that set up a net.Pipe.
func newClient(cfg Config, conn *frame.Conn) (*Client, error) {
	updater, err := fileupdate.New(cfg.Root)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		cfg:              cfg,
		conn:             conn,
		chunks:           frame.NewChunkReceiver(tmpFilesDir(cfg.Root, cfg.Name)),
		logger:           log.WithClient("clusterclient", cfg.Name),
		updater:          updater,
		pending:          make(map[uint32]chan *frame.Frame),
		integrityResult:  make(chan integrityPush, 1),
		integrityTrigger: make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
	}

	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake() error {
	counter, err := c.conn.WriteFrame("echo-c", []byte(c.cfg.Name+" "+c.cfg.Version))
	if err != nil {
		return fmt.Errorf("clusterclient: sending handshake: %w", err)
	}
	fr, err := c.conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("clusterclient: reading handshake response: %w", err)
	}
	if fr.Counter != counter {
		return fmt.Errorf("clusterclient: handshake response counter mismatch")
	}
	if fr.Command != "ok" {
		return fmt.Errorf("clusterclient: master rejected handshake: %s", string(fr.Body))
	}
	return nil
}

// Start launches the read loop and the three periodic sync loops. It
// returns immediately; call Stop to shut everything down.
func (c *Client) Start() {
	c.wg.Add(4)
	go c.readLoop()
	go c.loop("clusterclient.integrity", c.cfg.Intervals.IntegrityRequest, c.runIntegrity, c.integrityTrigger)
	go c.loop("clusterclient.agentinfo", c.cfg.Intervals.AgentInfoPush, c.runAgentInfoPush, nil)
	go c.loop("clusterclient.extravalid", c.cfg.Intervals.ExtraValidPush, c.runExtraValidPush, nil)
}

// Stop signals every loop to exit and closes the connection, waiting
// for the loops to return.
func (c *Client) Stop() {
	c.signalStop()
	c.wg.Wait()
}

// signalStop closes the connection and the stop channel without
// waiting for the loops to exit, so readLoop can call it on its own
// read error without deadlocking against its own wg.Done (which only
// runs once readLoop itself returns).
func (c *Client) signalStop() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.conn.Close()
	})
}

// Stopped exposes the shutdown signal for callers composing Client
// with their own lifecycle (e.g. cmd/cluster-client's signal handler).
func (c *Client) Stopped() <-chan struct{} {
	return c.stopCh
}

// loop runs fn on every tick of interval until stopCh closes, in the
// teacher's ticker+stopCh background-task shape (pkg/worker's
// heartbeatLoop/containerExecutorLoop): one task, one ticker, a
// select between the tick and the stop signal. trigger, when
// non-nil, lets an out-of-band signal (the master's req_sync_m_c)
// force an extra run without waiting for the next tick.
func (c *Client) loop(name string, interval time.Duration, fn func(), trigger <-chan struct{}) {
	defer c.wg.Done()
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-trigger:
			fn()
		case <-c.stopCh:
			log.WithComponent(name).Debug().Msg("loop stopped")
			return
		}
	}
}

func (c *Client) awaitResponse(counter uint32) (<-chan *frame.Frame, func()) {
	ch := make(chan *frame.Frame, 1)
	c.pendingMu.Lock()
	c.pending[counter] = ch
	c.pendingMu.Unlock()
	return ch, func() {
		c.pendingMu.Lock()
		delete(c.pending, counter)
		c.pendingMu.Unlock()
	}
}

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

// readLoop is the connection's sole reader: it routes frames answering
// a pending request back to their waiter, and dispatches everything
// else (the master's unsolicited pushes) to dispatch. Closing the
// connection from Stop unblocks the ReadFrame call this loop is
// parked on.
func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		fr, err := c.conn.ReadFrame()
		if err != nil {
			select {
			case <-c.stopCh:
			default:
				c.logger.Warn().Err(err).Msg("connection lost")
				c.signalStop()
			}
			return
		}
		if c.deliverResponse(fr) {
			continue
		}
		c.dispatch(fr)
	}
}

func (c *Client) dispatch(fr *frame.Frame) {
	switch fr.Command {
	case frame.CmdNewFile:
		c.handleNewFile(fr)
	case frame.CmdFileChunk:
		c.handleFileChunk(fr)
	case frame.CmdCloseFile:
		c.handleCloseFile(fr)
	case "sync_m_c":
		c.handleSyncPush(fr)
	case "sync_m_c_ok":
		c.handleIntegrityEmpty()
	case "sync_m_c_err":
		c.handleIntegrityError(fr)
	case "req_sync_m_c":
		c.handleSyncTrigger(fr)
	case "file_status":
		c.handleFileStatusQuery(fr)
	default:
		c.logger.Debug().Str("command", fr.Command).Msg("ignoring unsolicited command")
	}
}

func workDir(root, name string) string {
	return filepath.Join(root, "queue", "cluster", name)
}

func tmpFilesDir(root, name string) string {
	return filepath.Join(workDir(root, name), "tmp_files")
}

func stagingDir(root, name string) (string, error) {
	dir := filepath.Join(workDir(root, name), "staging")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("clusterclient: creating staging dir: %w", err)
	}
	return dir, nil
}
