package chat

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the relay collectors. A nil *Metrics disables collection.
type Metrics struct {
	Sessions        prometheus.Gauge
	Connections     prometheus.Gauge
	EventsTotal     *prometheus.CounterVec
	EventDuration   *prometheus.HistogramVec
	PeerUnreachable prometheus.Counter
	LogMessages     prometheus.Gauge
	LogEvicted      prometheus.Counter
}

// NewMetrics creates the relay collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions",
			Help: "Number of registered sessions",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Number of open websocket connections, registered or not",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Total events processed by the dispatcher, by type",
		}, []string{"type"}),
		EventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_event_processing_seconds",
			Help:    "Time to process each event type",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		PeerUnreachable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_peer_unreachable_total",
			Help: "Frames that could not be queued because a peer's outbound queue was full",
		}),
		LogMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_log_messages",
			Help: "Messages currently retained in the message log",
		}),
		LogEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_log_evicted_total",
			Help: "Messages evicted from the message log",
		}),
	}

	reg.MustRegister(
		m.Sessions,
		m.Connections,
		m.EventsTotal,
		m.EventDuration,
		m.PeerUnreachable,
		m.LogMessages,
		m.LogEvicted,
	)

	return m
}
