package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UploadMetrics instruments the upload pipeline.
type UploadMetrics struct {
	uploadsTotal     *prometheus.CounterVec
	uploadDuration   prometheus.Histogram
	uploadBytes      prometheus.Histogram
	transitionsTotal *prometheus.CounterVec
	storeRetries     prometheus.Counter
}

func newUploadMetrics(reg prometheus.Registerer) *UploadMetrics {
	return &UploadMetrics{
		uploadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallvault_uploads_total",
				Help: "Total number of upload requests by outcome",
			},
			[]string{"outcome"},
		),
		uploadDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "wallvault_upload_duration_milliseconds",
				Help: "End-to-end duration of upload request handling in milliseconds",
				Buckets: []float64{
					10,    // 10ms - rejected before storage
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms - small originals
					1000,  // 1s
					5000,  // 5s - large originals
					15000, // 15s
					30000, // 30s - retried storage writes
				},
			},
		),
		uploadBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "wallvault_upload_bytes",
				Help: "Distribution of accepted upload sizes in bytes",
				Buckets: []float64{
					65536,    // 64KB
					262144,   // 256KB
					1048576,  // 1MB
					4194304,  // 4MB
					10485760, // 10MB
					26214400, // 25MB
					52428800, // 50MB - hard limit
				},
			},
		),
		transitionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallvault_state_transitions_total",
				Help: "Total number of applied upload state transitions",
			},
			[]string{"from", "to"},
		),
		storeRetries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "wallvault_upload_store_retries_total",
				Help: "Total number of object storage write retries",
			},
		),
	}
}

// ObserveUpload records one finished upload request.
func (m *UploadMetrics) ObserveUpload(outcome string, duration time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(outcome).Inc()
	m.uploadDuration.Observe(duration.Seconds() * 1000)
	if bytes > 0 {
		m.uploadBytes.Observe(float64(bytes))
	}
}

// RecordTransition records an applied state transition.
func (m *UploadMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordStoreRetry records one object storage write retry.
func (m *UploadMetrics) RecordStoreRetry() {
	if m == nil {
		return
	}
	m.storeRetries.Inc()
}
