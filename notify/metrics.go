package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery results.
const (
	deliveryDelivered = "delivered"
	deliveryOffline   = "offline"
	deliveryFailed    = "failed"
)

var (
	pushConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campushub_push_connections",
			Help: "Number of users with a registered push channel",
		},
	)

	notificationsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campushub_notifications_emitted_total",
			Help: "Total number of notifications created",
		},
		[]string{"type"},
	)

	pushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campushub_push_deliveries_total",
			Help: "Total number of push attempts by result",
		},
		[]string{"result"},
	)

	protocolErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campushub_protocol_errors_total",
			Help: "Total number of client frames answered with an error frame",
		},
	)
)
