package metrics

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons for BroadcastMetrics.DeliveriesDropped.
const (
	DropSlowClient = "slow_client"
	DropWriteError = "write_error"
)

// BroadcastMetrics covers the room registry, the dispatcher and the per-connection writers.
type BroadcastMetrics struct {
	ActiveConnections   prometheus.Gauge
	ActiveRooms         prometheus.Gauge
	EventsDispatched    *prometheus.CounterVec
	DeliveriesDropped   *prometheus.CounterVec
	RoomFanout          prometheus.Histogram
	MessageSendDuration prometheus.Histogram
	PingFailures        prometheus.Counter
	CommandChannelDepth prometheus.Gauge
	ConnectionsRejected *prometheus.CounterVec
	StopTimeoutsTotal   prometheus.Counter
}

func NewBroadcastMetrics(reg prometheus.Registerer) *BroadcastMetrics {
	m := &BroadcastMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of WebSocket connections that joined at least one room.",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "active_rooms",
			Help:      "Number of streams with at least one connected viewer.",
		}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "events_dispatched_total",
			Help:      "Total number of events dispatched to rooms, by event name.",
		}, []string{"event"}),
		DeliveriesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_dropped_total",
			Help:      "Total number of per-connection deliveries dropped, by reason.",
		}, []string{"reason"}),
		RoomFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "room_fanout",
			Help:      "Number of connections an event was enqueued for.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),
		MessageSendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "message_send_duration_seconds",
			Help:      "Time spent writing a single message to a WebSocket connection.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		PingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "ping_failures_total",
			Help:      "Total number of failed WebSocket pings.",
		}),
		CommandChannelDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "command_channel_depth",
			Help:      "Number of commands queued for the broadcaster.",
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Total number of WebSocket connections or joins rejected, by reason.",
		}, []string{"reason"}),
		StopTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "stop_timeouts_total",
			Help:      "Total number of broadcaster shutdowns that exceeded their deadline.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections, m.ActiveRooms, m.EventsDispatched, m.DeliveriesDropped,
		m.RoomFanout, m.MessageSendDuration, m.PingFailures, m.CommandChannelDepth,
		m.ConnectionsRejected, m.StopTimeoutsTotal,
	)
	return m
}
