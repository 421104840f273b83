package clusterserver

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/wazuh-cluster/pkg/catalog"
	"github.com/cuemby/wazuh-cluster/pkg/clustererr"
	"github.com/cuemby/wazuh-cluster/pkg/log"
)

// CatalogRef holds the master's current authoritative catalog behind
// a shared lock (spec §4.8): the refresher takes an exclusive lock to
// swap in a freshly rebuilt snapshot; the differ takes a shared lock
// to read it. Readers that observe no snapshot yet computed get
// clustererr.ErrIntegrityNotReady rather than an empty-but-valid one.
type CatalogRef struct {
	mu       sync.RWMutex
	snapshot catalog.Snapshot
	ready    bool
}

// NewCatalogRef creates an empty, not-yet-ready reference.
func NewCatalogRef() *CatalogRef {
	return &CatalogRef{}
}

// Swap atomically replaces the authoritative snapshot.
func (c *CatalogRef) Swap(snap catalog.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snap
	c.ready = true
}

// Get returns the current snapshot, or clustererr.ErrIntegrityNotReady
// if the refresher has not completed its first rebuild.
func (c *CatalogRef) Get() (catalog.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return nil, clustererr.ErrIntegrityNotReady
	}
	return c.snapshot, nil
}

// Refresher is the background task rebuilding the authoritative
// catalog at a fixed interval, cancellable between files and between
// sleep ticks.
type Refresher struct {
	scanner  *catalog.Scanner
	ref      *CatalogRef
	interval time.Duration
}

// NewRefresher wires a scanner and a target reference together.
func NewRefresher(scanner *catalog.Scanner, ref *CatalogRef, interval time.Duration) *Refresher {
	return &Refresher{scanner: scanner, ref: ref, interval: interval}
}

// Run rebuilds the catalog once immediately, then on every tick,
// until stopper closes.
func (r *Refresher) Run(stopper <-chan struct{}) {
	logger := log.WithComponent("integrity-refresher")
	r.rebuildOnce(logger, stopper)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.rebuildOnce(logger, stopper)
		case <-stopper:
			return
		}
	}
}

func (r *Refresher) rebuildOnce(logger zerolog.Logger, stopper <-chan struct{}) {
	snap, err := r.scanner.ScanCancellable(stopper)
	if err != nil {
		if err == catalog.ErrScanCancelled {
			return
		}
		logger.Error().Err(err).Msg("rebuilding catalog")
		return
	}
	r.ref.Swap(snap)
	logger.Debug().Int("files", len(snap)).Msg("catalog refreshed")
}
