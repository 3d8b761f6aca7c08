package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drawspace/drawsync/pkg/wire"
)

// hubMetrics carries its own registry so multiple servers in one process
// (tests especially) never collide on the default registerer.
type hubMetrics struct {
	registry *prometheus.Registry

	peersConnected prometheus.Gauge
	framesRelayed  prometheus.Counter
	eventsByType   *prometheus.CounterVec
}

func createHubMetrics() *hubMetrics {
	m := &hubMetrics{
		registry: prometheus.NewRegistry(),
		peersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drawsync_peers_connected",
			Help: "Number of currently connected peers.",
		}),
		framesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drawsync_frames_relayed_total",
			Help: "Frames enqueued for delivery to peers.",
		}),
		eventsByType: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drawsync_events_received_total",
			Help: "Events received from peers, by event type.",
		}, []string{"type"}),
	}

	m.registry.MustRegister(m.peersConnected, m.framesRelayed, m.eventsByType)
	return m
}

func eventTypeLabel(t wire.EventType) string {
	switch t {
	case wire.EventType_Ping:
		return "ping"
	case wire.EventType_AddObject:
		return "addObject"
	case wire.EventType_DeleteObjects:
		return "deleteObjects"
	case wire.EventType_MoveObjects:
		return "moveObjects"
	case wire.EventType_UpdateObject:
		return "updateObject"
	case wire.EventType_SetObjects:
		return "setObjects"
	case wire.EventType_AddUser:
		return "addUser"
	case wire.EventType_MoveUserCursor:
		return "moveUserCursor"
	}
	return "unknown"
}

func (m *hubMetrics) countEvent(t wire.EventType) {
	m.eventsByType.WithLabelValues(eventTypeLabel(t)).Inc()
}
