package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventMetrics instruments event publishing and consumption.
type EventMetrics struct {
	publishedTotal  *prometheus.CounterVec
	publishDuration prometheus.Histogram
	consumedTotal   *prometheus.CounterVec
}

func newEventMetrics(reg prometheus.Registerer) *EventMetrics {
	return &EventMetrics{
		publishedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallvault_events_published_total",
				Help: "Total number of events published by type and status",
			},
			[]string{"type", "status"},
		),
		publishDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wallvault_event_publish_duration_milliseconds",
				Help:    "Duration of event publishes in milliseconds",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
			},
		),
		consumedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallvault_events_consumed_total",
				Help: "Total number of events consumed by type and disposition (ack, nak, term)",
			},
			[]string{"type", "disposition"},
		),
	}
}

// RecordPublish records one publish attempt.
func (m *EventMetrics) RecordPublish(eventType string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.publishedTotal.WithLabelValues(eventType, status).Inc()
	m.publishDuration.Observe(duration.Seconds() * 1000)
}

// RecordConsume records one consumed message and its disposition.
func (m *EventMetrics) RecordConsume(eventType, disposition string) {
	if m == nil {
		return
	}
	m.consumedTotal.WithLabelValues(eventType, disposition).Inc()
}
