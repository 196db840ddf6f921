package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the talespin game server.
//
// Naming convention: namespace_subsystem_name
// - namespace: talespin (application-level grouping)
// - subsystem: websocket, room(s), catalog, ratelimit (feature-level grouping)
//
// Metric Types:
// - Gauge: current state (connections, rooms, members)
// - Counter: cumulative events (messages processed, rooms created)
// - Histogram: latency distributions (message processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "talespin",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms in the registry
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "talespin",
		Subsystem: "rooms",
		Name:      "active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members (players + observers) per room
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "talespin",
		Subsystem: "room",
		Name:      "members",
		Help:      "Number of players and observers in each room",
	}, []string{"room_id"})

	// RoomsCreated counts rooms created over the process lifetime
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "talespin",
		Subsystem: "rooms",
		Name:      "created_total",
		Help:      "Total rooms created",
	})

	// RoomsCollected counts rooms removed by the garbage collector
	RoomsCollected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "talespin",
		Subsystem: "rooms",
		Name:      "gc_total",
		Help:      "Total rooms removed by garbage collection",
	})

	// WebsocketEvents tracks the total number of WebSocket events processed
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "talespin",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing WebSocket messages
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "talespin",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// CardsServed counts card image responses
	CardsServed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "talespin",
		Subsystem: "catalog",
		Name:      "cards_served_total",
		Help:      "Total card images served",
	})

	// RateLimitExceeded counts requests rejected by the rate limiter
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "talespin",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by the rate limiter",
	}, []string{"endpoint", "limit_type"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
