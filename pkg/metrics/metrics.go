package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectedClients is the live count of clients currently connected
	// to the master's cluster socket.
	ConnectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wazuh_cluster_connected_clients",
			Help: "Number of clients currently connected to the master",
		},
	)

	// HealthNodesConnected mirrors the get_health response's
	// n_connected_nodes: connected clients plus the master itself.
	HealthNodesConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wazuh_cluster_health_nodes_connected",
			Help: "Nodes reported connected by the health store, clients plus master",
		},
	)

	// CatalogItemsTotal is the size of the master's own authoritative
	// file catalog, refreshed by the background rescan.
	CatalogItemsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wazuh_cluster_catalog_items_total",
			Help: "Number of files tracked in the master's authoritative catalog",
		},
	)

	// AgentsTotal counts known agents by status (active/disconnected/...).
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wazuh_cluster_agents_total",
			Help: "Total known agents by status",
		},
		[]string{"status"},
	)

	// SyncFilesTotal is the most recent integrity diff's bucket sizes,
	// summed across every client, by bucket (missing/shared/extra/extra_valid).
	SyncFilesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wazuh_cluster_sync_files_total",
			Help: "Sum across clients of the last integrity run's file bucket sizes",
		},
		[]string{"bucket"},
	)

	// SyncRunsTotal counts completed sync-worker runs by kind and
	// terminal result.
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wazuh_cluster_sync_runs_total",
			Help: "Total sync worker runs by kind and result",
		},
		[]string{"kind", "result"},
	)

	// SyncDuration observes how long one sync worker run took, from
	// permit acquisition to release.
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wazuh_cluster_sync_duration_seconds",
			Help:    "Sync worker run duration in seconds by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// PermitDeniedTotal counts sync requests rejected because the
	// matching permit was already held by an in-flight run.
	PermitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wazuh_cluster_permit_denied_total",
			Help: "Total sync requests denied because a run of that kind was already in progress",
		},
		[]string{"kind"},
	)

	// AdminRequestsTotal counts requests served on the local admin
	// endpoint, by command and outcome.
	AdminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wazuh_cluster_admin_requests_total",
			Help: "Total requests served on the local admin endpoint by command and outcome",
		},
		[]string{"command", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(HealthNodesConnected)
	prometheus.MustRegister(CatalogItemsTotal)
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(SyncFilesTotal)
	prometheus.MustRegister(SyncRunsTotal)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(PermitDeniedTotal)
	prometheus.MustRegister(AdminRequestsTotal)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
