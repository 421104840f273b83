// Package adminapi is the local admin endpoint (spec §6): a framed
// listener distinct from the cluster's TCP wire protocol, answering
// get_nodes/get_health/get_agents/sync/get_files for local tooling (a
// CLI front-end that renders the envelope is out of scope per §1).
package adminapi

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cuemby/wazuh-cluster/pkg/agentstore"
	"github.com/cuemby/wazuh-cluster/pkg/clusterserver"
	"github.com/cuemby/wazuh-cluster/pkg/frame"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
	"github.com/cuemby/wazuh-cluster/pkg/log"
	"github.com/cuemby/wazuh-cluster/pkg/metrics"
)

// requestTimeout bounds how long a sync/get_files call waits on a
// single connected client's response before reporting it as failed.
const requestTimeout = 10 * time.Second

// Config is the shared master state the endpoint reads and, for sync,
// reaches into the clients table to poke.
type Config struct {
	NodeName string
	Version  string
	// BindAddr is this node's own address, reported as its own entry
	// in get_nodes alongside every connected client.
	BindAddr string

	Clients *clusterserver.Table
	Health  *healthstore.Store
	Agents  *agentstore.Store
	Catalog *clusterserver.CatalogRef
}

// API is the admin endpoint: one Unix-domain listener, framed the
// same way as the cluster wire protocol (spec §4.1), answering exactly
// one request per connection.
type API struct {
	cfg Config
	ln  net.Listener

	stopper   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates an endpoint over cfg, ready for Listen.
func New(cfg Config) *API {
	return &API{cfg: cfg, stopper: make(chan struct{})}
}

// Listen binds sockPath, clearing a stale socket file a prior unclean
// shutdown may have left behind, and starts accepting in the
// background.
func (a *API) Listen(sockPath string) error {
	if err := os.RemoveAll(sockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("adminapi: clearing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("adminapi: binding %s: %w", sockPath, err)
	}
	a.ln = ln
	a.wg.Add(1)
	go a.acceptLoop()
	return nil
}

// Addr returns the bound listener's address.
func (a *API) Addr() net.Addr {
	return a.ln.Addr()
}

func (a *API) acceptLoop() {
	defer a.wg.Done()
	logger := log.WithComponent("adminapi")
	for {
		nc, err := a.ln.Accept()
		if err != nil {
			select {
			case <-a.stopper:
				return
			default:
			}
			logger.Error().Err(err).Msg("accept failed")
			return
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.serveOne(nc)
		}()
	}
}

// serveOne answers exactly one request frame then closes the
// connection, matching a dial-ask-disconnect CLI front-end.
func (a *API) serveOne(nc net.Conn) {
	defer nc.Close()
	conn := frame.NewConn(nc)
	fr, err := conn.ReadFrame()
	if err != nil {
		return
	}

	body, err := a.handle(fr.Command, fr.Body)
	if err != nil {
		metrics.AdminRequestsTotal.WithLabelValues(fr.Command, "error").Inc()
		if werr := conn.WriteResponse(fr.Counter, "err", errEnvelope(err)); werr != nil {
			log.WithComponent("adminapi").Warn().Err(werr).Msg("writing error response")
		}
		return
	}
	metrics.AdminRequestsTotal.WithLabelValues(fr.Command, "ok").Inc()
	if werr := conn.WriteResponse(fr.Counter, "ok", body); werr != nil {
		log.WithComponent("adminapi").Warn().Err(werr).Msg("writing response")
	}
}

func errEnvelope(err error) []byte {
	b, _ := json.Marshal(map[string]string{"err": err.Error()})
	return b
}

func (a *API) handle(command string, body []byte) ([]byte, error) {
	switch command {
	case "get_nodes":
		return json.Marshal(a.GetNodes())
	case "get_health":
		return json.Marshal(a.GetHealth(splitCSV(string(body))))
	case "get_agents":
		page, err := a.GetAgents(parseGetAgents(string(body)))
		if err != nil {
			return nil, err
		}
		return json.Marshal(page)
	case "sync":
		return json.Marshal(a.Sync(splitCSV(string(body))))
	case "get_files":
		paths, nodes := parseGetFiles(string(body))
		return json.Marshal(a.GetFiles(paths, nodes))
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

// Shutdown closes the listener and waits up to timeout for in-flight
// requests to finish.
func (a *API) Shutdown(timeout time.Duration) {
	a.closeOnce.Do(func() {
		close(a.stopper)
		if a.ln != nil {
			a.ln.Close()
		}
	})
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.WithComponent("adminapi").Warn().Msg("shutdown timed out waiting for requests")
	}
}
