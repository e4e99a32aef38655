package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notecollab_ws_connections",
			Help: "Current number of active websocket connections.",
		},
	)
	wsRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notecollab_ws_rooms",
			Help: "Current number of rooms with at least one connection.",
		},
	)
	wsMessagesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecollab_ws_messages_delivered_total",
			Help: "Total websocket frames queued for delivery to clients.",
		},
	)
	wsDeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecollab_ws_delivery_failures_total",
			Help: "Fan-out deliveries dropped because the recipient was closed or too slow.",
		},
	)
	wsInbound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notecollab_ws_inbound_total",
			Help: "Inbound websocket frames by decoded kind.",
		},
		[]string{"kind"},
	)
	wsMalformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecollab_ws_malformed_total",
			Help: "Inbound frames rejected as malformed.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsRooms, wsMessagesDelivered, wsDeliveryFailures, wsInbound, wsMalformed)
}

func incConnections() {
	wsConnections.Inc()
}

func decConnections() {
	wsConnections.Dec()
}

func setRooms(count int) {
	wsRooms.Set(float64(count))
}

func addDelivered(count int) {
	wsMessagesDelivered.Add(float64(count))
}

func addFailures(count int) {
	wsDeliveryFailures.Add(float64(count))
}

func countInbound(kind string) {
	wsInbound.WithLabelValues(kind).Inc()
}

func countMalformed() {
	wsMalformed.Inc()
}
