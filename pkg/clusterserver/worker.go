package clusterserver

import (
	"github.com/cuemby/wazuh-cluster/pkg/frame"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
)

// WorkerContext is everything a sync worker needs, and nothing more:
// the handle it sends frames on, the stopper it must select against,
// a way to release its permit on any terminal state, and the shared
// health store to record its run in. Per spec §9's re-architecture
// note, a worker never receives a reference to the Client or the
// handler itself — only these narrow capabilities — so a worker
// cannot reach back into connection state it has no business
// touching.
type WorkerContext struct {
	ClientName  string
	ArchivePath string
	Conn        *frame.Conn
	Stopper     <-chan struct{}
	Health      *healthstore.Store
	Agents      AgentFilter
	Catalog     *CatalogRef
	Release     func()

	// AwaitResponse registers interest in one response counter and
	// returns a channel that receives the matching frame (and a
	// cancel func to release the registration if the wait is
	// abandoned). It is the narrow substitute for a worker reading
	// the connection directly, which would race the handler's own
	// read loop.
	AwaitResponse func(counter uint32) (<-chan *frame.Frame, func())
}

// AgentFilter is the narrow known-agent interface sync workers need;
// it is declared here (rather than imported from agentstore) so this
// package does not have to depend on the registry's storage backend.
type AgentFilter interface {
	KnownName(name string) bool
	KnownID(id string) bool
}

// WorkerFunc runs one sync worker to completion. It must never panic
// or return into the handler's goroutine with an unhandled error; all
// terminal state is reported via ctx.Health and ctx.Release, per the
// propagation rule in spec §7 ("workers never raise into the
// handler").
type WorkerFunc func(ctx WorkerContext)

// Workers bundles the three sync worker implementations the server
// dispatches to. They are injected at construction time (typically by
// cmd/cluster-master wiring pkg/syncworker in) rather than imported
// directly, keeping this package free of a dependency on syncworker.
type Workers struct {
	Integrity  WorkerFunc
	AgentInfo  WorkerFunc
	ExtraValid WorkerFunc
}

func (w Workers) forKind(k Kind) WorkerFunc {
	switch k {
	case KindAgentInfo:
		return w.AgentInfo
	case KindExtraValid:
		return w.ExtraValid
	default:
		return w.Integrity
	}
}
