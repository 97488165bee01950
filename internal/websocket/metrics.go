package websocket

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the hub's Prometheus collectors.
type Metrics struct {
	Clients  prometheus.Gauge
	Rooms    prometheus.Gauge
	Events   *prometheus.CounterVec
	Dropped  prometheus.Counter
	Limited  prometheus.Counter
	Rejected *prometheus.CounterVec
}

// NewMetrics creates the hub collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fellowship",
			Subsystem: "realtime",
			Name:      "connected_clients",
			Help:      "Number of open websocket connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fellowship",
			Subsystem: "realtime",
			Name:      "active_rooms",
			Help:      "Number of rooms with at least one subscriber.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fellowship",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Events handled by the hub, by name and direction.",
		}, []string{"event", "direction"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fellowship",
			Subsystem: "realtime",
			Name:      "dropped_clients_total",
			Help:      "Clients disconnected because their send buffer was full.",
		}),
		Limited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fellowship",
			Subsystem: "realtime",
			Name:      "rate_limited_frames_total",
			Help:      "Inbound frames rejected by the per-socket rate limit.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fellowship",
			Subsystem: "realtime",
			Name:      "rejected_frames_total",
			Help:      "Inbound frames rejected, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Clients, m.Rooms, m.Events, m.Dropped, m.Limited, m.Rejected)
	}
	return m
}
