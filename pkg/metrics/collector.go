package metrics

import (
	"time"

	"github.com/cuemby/wazuh-cluster/pkg/agentstore"
	"github.com/cuemby/wazuh-cluster/pkg/catalog"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
)

// ClientLister is the slice of clusterserver.Table a collector needs:
// just enough to count connected clients without this package
// depending on clusterserver (which itself depends on this package
// for inline counters, e.g. PermitDeniedTotal).
type ClientLister interface {
	Names() []string
}

// CatalogSource is the slice of clusterserver.CatalogRef a collector
// needs, for the same reason.
type CatalogSource interface {
	Get() (catalog.Snapshot, error)
}

// Collector periodically samples the master's shared state into the
// gauge metrics above. Counters and histograms are recorded inline by
// the components that observe the underlying event (a run finishing,
// a permit being denied); this is only for state a reader has to poll
// a snapshot to know, keeping polled gauges and event-driven counters
// separate.
type Collector struct {
	clients ClientLister
	health  *healthstore.Store
	agents  *agentstore.Store
	catalog CatalogSource

	stopCh chan struct{}
}

// NewCollector builds a collector over the master's shared components.
// agents and catalog may be nil; a nil catalog skips CatalogItemsTotal.
func NewCollector(clients ClientLister, health *healthstore.Store, agents *agentstore.Store, catalog CatalogSource) *Collector {
	return &Collector{
		clients: clients,
		health:  health,
		agents:  agents,
		catalog: catalog,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting on a fixed interval, sampling immediately so
// the first scrape after startup is never empty.
func (c *Collector) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		c.Collect()
		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect samples every gauge once. Exported so tests (and a one-shot
// scrape-time refresh) can drive a sample without waiting on the
// ticker.
func (c *Collector) Collect() {
	c.collectClients()
	c.collectAgents()
	c.collectCatalog()
}

func (c *Collector) collectClients() {
	names := c.clients.Names()
	ConnectedClients.Set(float64(len(names)))

	snap := c.health.Snapshot(nil)
	HealthNodesConnected.Set(float64(snap.ConnectedNodes))

	var missing, shared, extra, extraValid int
	for _, status := range snap.Clients {
		missing += status.Integrity.Files.Missing
		shared += status.Integrity.Files.Shared
		extra += status.Integrity.Files.Extra
		extraValid += status.Integrity.Files.ExtraValid
	}
	SyncFilesTotal.WithLabelValues("missing").Set(float64(missing))
	SyncFilesTotal.WithLabelValues("shared").Set(float64(shared))
	SyncFilesTotal.WithLabelValues("extra").Set(float64(extra))
	SyncFilesTotal.WithLabelValues("extra_valid").Set(float64(extraValid))
}

func (c *Collector) collectAgents() {
	if c.agents == nil {
		return
	}
	agents, err := c.agents.List()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, ag := range agents {
		counts[ag.Status]++
	}
	for status, n := range counts {
		AgentsTotal.WithLabelValues(status).Set(float64(n))
	}
}

func (c *Collector) collectCatalog() {
	if c.catalog == nil {
		return
	}
	snap, err := c.catalog.Get()
	if err != nil {
		return
	}
	CatalogItemsTotal.Set(float64(len(snap)))
}
