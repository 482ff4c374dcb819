package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parishdesk_events_broadcast_total",
		Help: "Envelopes fanned out to event-stream subscribers.",
	}, []string{"resource", "type"})

	WSConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parishdesk_ws_connections_total",
		Help: "Accepted event-stream connections.",
	})

	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parishdesk_ws_connections_active",
		Help: "Currently open event-stream connections.",
	})

	WSAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parishdesk_ws_auth_failures_total",
		Help: "Event-stream connection attempts rejected at token verification.",
	})
)
