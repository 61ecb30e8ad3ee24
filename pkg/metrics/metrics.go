// Package metrics provides Prometheus instrumentation for the ingestion
// core. All collectors hang off a caller-supplied registry so tests can use
// isolated registries; every recording method is nil-safe, so components can
// run unmetered at zero overhead.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the per-concern instrument sets.
type Metrics struct {
	registry *prometheus.Registry

	Upload    *UploadMetrics
	RateLimit *RateLimitMetrics
	Events    *EventMetrics
	Reconcile *ReconcileMetrics
}

// New creates a registry with process and Go runtime collectors plus all
// domain instrument sets.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:  reg,
		Upload:    newUploadMetrics(reg),
		RateLimit: newRateLimitMetrics(reg),
		Events:    newEventMetrics(reg),
		Reconcile: newReconcileMetrics(reg),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
