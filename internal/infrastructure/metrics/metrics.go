package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoomsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_rooms_open",
		Help: "Number of rooms with at least one local connection.",
	})

	LocalConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_room_connections",
		Help: "Number of connections currently joined to a local room.",
	})

	BroadcastDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_broadcast_deliveries_total",
		Help: "Messages delivered to local room members.",
	})

	BusEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_bus_events_published_total",
		Help: "Events published to the shared event bus, by type.",
	}, []string{"type"})

	BusEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_bus_events_received_total",
		Help: "Events received from the shared event bus, by type.",
	}, []string{"type"})

	SelfEchoesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_bus_self_echoes_suppressed_total",
		Help: "Bus events discarded because this instance published them.",
	})

	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_admissions_total",
		Help: "Connection admission outcomes.",
	}, []string{"outcome"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
