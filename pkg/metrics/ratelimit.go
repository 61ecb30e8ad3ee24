package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RateLimitMetrics instruments the distributed rate limiter.
type RateLimitMetrics struct {
	checksTotal *prometheus.CounterVec
}

func newRateLimitMetrics(reg prometheus.Registerer) *RateLimitMetrics {
	return &RateLimitMetrics{
		checksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallvault_ratelimit_checks_total",
				Help: "Total number of rate limit checks by outcome (allowed, denied, failopen)",
			},
			[]string{"outcome"},
		),
	}
}

// RecordCheck records one rate limit decision.
func (m *RateLimitMetrics) RecordCheck(outcome string) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(outcome).Inc()
}
