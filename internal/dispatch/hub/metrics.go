package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_connections_active",
		Help: "Currently connected dispatch sockets by kind.",
	}, []string{"kind"})

	inboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_inbound_events_total",
		Help: "Inbound socket events grouped by event and outcome.",
	}, []string{"event", "result"})

	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_broadcast_deliveries_total",
		Help: "Envelopes enqueued to room members, by event.",
	}, []string{"event"})

	slowConsumersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_slow_consumers_total",
		Help: "Connections dropped because their outbound buffer filled.",
	})
)
