package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ReconcileMetrics instruments the background reconcilers.
type ReconcileMetrics struct {
	runsTotal   *prometheus.CounterVec
	rowsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

func newReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	return &ReconcileMetrics{
		runsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallvault_reconcile_runs_total",
				Help: "Total number of reconciler runs by reconciler and status",
			},
			[]string{"reconciler", "status"},
		),
		rowsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallvault_reconcile_items_total",
				Help: "Total number of items acted on by reconciler and action",
			},
			[]string{"reconciler", "action"},
		),
		runDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallvault_reconcile_run_duration_milliseconds",
				Help:    "Duration of reconciler runs in milliseconds",
				Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000},
			},
			[]string{"reconciler"},
		),
	}
}

// ObserveRun records one reconciler run.
func (m *ReconcileMetrics) ObserveRun(reconciler string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.runsTotal.WithLabelValues(reconciler, status).Inc()
	m.runDuration.WithLabelValues(reconciler).Observe(duration.Seconds() * 1000)
}

// RecordItems records items acted on during a run.
func (m *ReconcileMetrics) RecordItems(reconciler, action string, count int) {
	if m == nil {
		return
	}
	if count > 0 {
		m.rowsTotal.WithLabelValues(reconciler, action).Add(float64(count))
	}
}
