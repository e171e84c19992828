package metrics

import "github.com/prometheus/client_golang/prometheus"

// MutationMetrics covers the mutation gateway: store writes and the broadcast hand-off.
type MutationMetrics struct {
	MutationsTotal    *prometheus.CounterVec
	MutationDuration  *prometheus.HistogramVec
	BroadcastFailures *prometheus.CounterVec
	SnapshotsShared   prometheus.Counter
}

func NewMutationMetrics(reg prometheus.Registerer) *MutationMetrics {
	m := &MutationMetrics{
		MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutations",
			Name:      "total",
			Help:      "Total number of mutations, by operation and result.",
		}, []string{"operation", "result"}),
		MutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mutations",
			Name:      "duration_seconds",
			Help:      "Duration of mutations including the broadcast hand-off.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"operation"}),
		BroadcastFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutations",
			Name:      "broadcast_failures_total",
			Help:      "Total number of persisted mutations whose event could not be handed to the broadcaster.",
		}, []string{"event"}),
		SnapshotsShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshots",
			Name:      "shared_total",
			Help:      "Total number of snapshot loads answered by an in-flight load of the same stream.",
		}),
	}

	reg.MustRegister(m.MutationsTotal, m.MutationDuration, m.BroadcastFailures, m.SnapshotsShared)
	return m
}
