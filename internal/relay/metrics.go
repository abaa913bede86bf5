package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	messages    *prometheus.CounterVec
	relayed     prometheus.Counter
	dropped     prometheus.Counter
}

// newMetrics registers the relay collectors on reg.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "qcompose",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open websocket connections",
		}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "qcompose",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Rooms with at least one member",
		}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcompose",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Inbound messages by type",
		}, []string{"type"}),
		relayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qcompose",
			Subsystem: "relay",
			Name:      "relayed_total",
			Help:      "Gate updates delivered to room members",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qcompose",
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Outbound messages dropped because a client fell behind",
		}),
	}
}
