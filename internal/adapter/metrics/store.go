package metrics

import "github.com/prometheus/client_golang/prometheus"

// StoreMetrics covers queries against the task store and the Redis rate limiter.
type StoreMetrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Duration of store queries, by backend and operation.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"backend", "operation"}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_errors_total",
			Help:      "Total number of failed store queries, by backend and operation.",
		}, []string{"backend", "operation"}),
	}

	reg.MustRegister(m.QueryDuration, m.QueryErrors)
	return m
}

// Observe records one query outcome.
func (m *StoreMetrics) Observe(backend, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(backend, operation).Observe(seconds)
	if err != nil {
		m.QueryErrors.WithLabelValues(backend, operation).Inc()
	}
}
