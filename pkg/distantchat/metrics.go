package distantchat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons reported on frames_dropped_total
const (
	dropDecode         = "decode"
	dropUnknownSession = "unknown_session"
	dropVerify         = "verify"
	dropSerialize      = "serialize"
	dropTransport      = "transport"
)

// MetricsConfig configures the session metrics
type MetricsConfig struct {
	Namespace string
	Subsystem string

	// Registry receives the collectors. A nil registry creates them
	// without registering, which is what tests want.
	Registry prometheus.Registerer
}

type metrics struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	tunnelRequests *prometheus.CounterVec
	activeContacts prometheus.Gauge
	eventsDropped  prometheus.Counter
}

func newMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "frames_sent_total",
			Help:      "Chat frames handed to the tunnel transport",
		}, []string{"kind"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "frames_received_total",
			Help:      "Chat frames decoded from the tunnel transport",
		}, []string{"kind"}),

		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "frames_dropped_total",
			Help:      "Chat frames dropped, by reason",
		}, []string{"reason"}),

		tunnelRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "tunnel_requests_total",
			Help:      "Tunnel requests made by Initiate, by result",
		}, []string{"result"}),

		activeContacts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "active_contacts",
			Help:      "Distant chat contacts currently in the table",
		}),

		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the consumer lagged",
		}),
	}
}
