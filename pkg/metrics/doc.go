/*
Package metrics provides Prometheus metrics collection and exposition for the
cluster core.

It exposes connected-client and catalog-size gauges (via Collector, polled on
an interval), sync-worker duration and result counters (recorded inline by
pkg/syncworker as each run finishes), permit-denial counters (recorded inline
by pkg/clusterserver), and a request counter for the local admin endpoint
(recorded inline by pkg/adminapi). Metrics are exposed over HTTP via Handler
for scraping by a Prometheus server.

# Usage

	metrics.ConnectedClients.Set(3)
	metrics.SyncRunsTotal.WithLabelValues("integrity", "done").Inc()

	timer := metrics.NewTimer()
	runIntegrity()
	timer.ObserveDurationVec(metrics.SyncDuration, "integrity")

	http.Handle("/metrics", metrics.Handler())

# Health

HealthChecker (health.go) is a separate, general-purpose component
registry used for liveness/readiness HTTP probes, independent of the
Prometheus registry above.
*/
package metrics
