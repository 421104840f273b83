package clusterserver

import (
	"net"
	"sync"
	"time"

	"github.com/cuemby/wazuh-cluster/pkg/frame"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
	"github.com/cuemby/wazuh-cluster/pkg/log"
)

// Server is the master's connection server (spec §4.5): it binds one
// TCP listener, spawns one handler goroutine per accepted connection,
// and owns the clients table and a reference to the authoritative
// catalog. The integrity refresher that fills that reference is a
// separate Refresher, built and run by the caller.
type Server struct {
	addr string
	// Root is the platform root under which per-client working
	// directories (<root>/queue/cluster/<client_name>/tmp_files) are
	// staged during archive transfer, per spec §6.
	Root    string
	Clients *Table
	Health  *healthstore.Store
	Catalog *CatalogRef
	Agents  AgentFilter
	Workers Workers

	ln net.Listener

	stopper   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a server bound to addr once Start is called. health,
// catalogRef and agents are shared with the rest of the master
// process (the refresher and the admin API read the same instances).
func New(addr, root string, health *healthstore.Store, catalogRef *CatalogRef, agents AgentFilter, workers Workers) *Server {
	return &Server{
		addr:    addr,
		Root:    root,
		Clients: NewTable(health),
		Health:  health,
		Catalog: catalogRef,
		Agents:  agents,
		Workers: workers,
		stopper: make(chan struct{}),
	}
}

// Start binds the listener and begins accepting connections in a
// background goroutine. It returns once the listener is bound so
// callers can rely on the address being live immediately after Start
// returns.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener's address, useful when addr was
// given as "host:0" for tests.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	logger := log.WithComponent("clusterserver")
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopper:
				return
			default:
			}
			logger.Error().Err(err).Msg("accept failed")
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(nc)
		}()
	}
}

func (s *Server) handleConnection(nc net.Conn) {
	conn := frame.NewConn(nc)
	h := &handler{server: s, conn: conn}
	h.run()
}

// Shutdown signals every worker and background task tied to this
// server to stop, closes the listener, and waits up to timeout for
// in-flight handlers to finish, logging if any remain (spec §5
// "connection shutdown waits for workers up to a bounded timeout").
func (s *Server) Shutdown(timeout time.Duration) {
	s.closeOnce.Do(func() {
		close(s.stopper)
		if s.ln != nil {
			s.ln.Close()
		}
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.WithComponent("clusterserver").Warn().Msg("shutdown timed out waiting for handlers")
	}
}

// Stopper exposes the server-wide shutdown signal, broadcast to every
// client's own per-connection stopper on top of its own (spec §5's
// single stopper event).
func (s *Server) Stopper() <-chan struct{} {
	return s.stopper
}
