// Package health exposes Kubernetes-style liveness and readiness probes.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// DeckSource reports how many cards the server has available.
type DeckSource interface {
	Size() int
}

// RoomCounter reports how many rooms are live.
type RoomCounter interface {
	Len() int
}

// Handler serves the probe endpoints.
type Handler struct {
	deck  DeckSource
	rooms RoomCounter
}

// NewHandler wires the probes to the card catalog and room registry.
func NewHandler(deck DeckSource, rooms RoomCounter) *Handler {
	return &Handler{deck: deck, rooms: rooms}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Rooms     int               `json:"rooms"`
	Cards     int               `json:"cards"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. It answers 200 whenever the process
// is alive; no dependencies are checked.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. The server is ready once the card
// catalog holds at least one card; an empty catalog cannot create rooms.
func (h *Handler) Readiness(c *gin.Context) {
	checks := make(map[string]string)
	allHealthy := true

	if h.deck != nil && h.deck.Size() > 0 {
		checks["catalog"] = "healthy"
	} else {
		checks["catalog"] = "unhealthy"
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	rooms := 0
	if h.rooms != nil {
		rooms = h.rooms.Len()
	}
	cards := 0
	if h.deck != nil {
		cards = h.deck.Size()
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Rooms:     rooms,
		Cards:     cards,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
