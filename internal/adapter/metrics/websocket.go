package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for the broadcast servers.
// One set is shared by every server instance in a pool.
type WebSocketMetrics struct {
	ActiveConnections     prometheus.Gauge
	ActiveSubscriptions   prometheus.Gauge
	AuthFailures          *prometheus.CounterVec
	ControlErrors         prometheus.Counter
	EventsBroadcast       *prometheus.CounterVec
	EventsDelivered       prometheus.Counter
	EventsDropped         *prometheus.CounterVec
	HeartbeatTerminations prometheus.Counter
	CommandChannelDepth   prometheus.Gauge
	Panics                prometheus.Counter
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of authenticated WebSocket connections.",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_subscriptions",
			Help:      "Number of live subscriptions across all connections.",
		}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "auth_failures_total",
			Help:      "Connections rejected during the handshake, by reason.",
		}, []string{"reason"}),
		ControlErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "control_errors_total",
			Help:      "Client control messages that failed to parse or validate.",
		}),
		EventsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "events_broadcast_total",
			Help:      "Envelopes accepted for fan-out, by domain.",
		}, []string{"domain"}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "events_delivered_total",
			Help:      "Envelope copies queued to client writers.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "events_dropped_total",
			Help:      "Envelopes dropped before delivery, by reason.",
		}, []string{"reason"}),
		HeartbeatTerminations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "heartbeat_terminations_total",
			Help:      "Connections terminated for missing heartbeats.",
		}),
		CommandChannelDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "command_channel_depth",
			Help:      "Pending commands in the broadcaster queue.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "broadcaster_panics_total",
			Help:      "Panics recovered in the broadcaster loop.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ActiveSubscriptions,
		m.AuthFailures,
		m.ControlErrors,
		m.EventsBroadcast,
		m.EventsDelivered,
		m.EventsDropped,
		m.HeartbeatTerminations,
		m.CommandChannelDepth,
		m.Panics,
	)
	return m
}
