// Package transport multiplexes HTTP and WebSocket traffic onto game rooms:
// the registry of live rooms, the per-connection pumps, and the REST surface.
package transport

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talespin-gg/talespin-server/internal/v1/game"
	"github.com/talespin-gg/talespin-server/internal/v1/logging"
	"github.com/talespin-gg/talespin-server/internal/v1/metrics"
)

const (
	roomIDLength = 4

	// GCInterval is how often idle rooms are collected.
	GCInterval = 20 * time.Minute
	// MaintenanceInterval is how often per-room maintenance runs.
	MaintenanceInterval = 30 * time.Second
	// gcRoomTimeout is how long a room with no subscribers survives.
	gcRoomTimeout = time.Hour
)

var errRoomIDSpaceExhausted = errors.New("failed to allocate a free room id")

// RoomStats is one row of the /stats report.
type RoomStats struct {
	Active     int
	LastAccess int64
}

// Hub owns the set of live rooms. Lookups are concurrent; creation is
// serialized so generated room IDs stay unique.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*game.Room

	baseDeck         []string
	defaultWinPoints uint16
	gcTimeout        time.Duration
}

// NewHub creates a registry over the given base deck.
func NewHub(baseDeck []string, defaultWinPoints uint16) *Hub {
	return &Hub{
		rooms:            make(map[string]*game.Room),
		baseDeck:         baseDeck,
		defaultWinPoints: defaultWinPoints,
		gcTimeout:        gcRoomTimeout,
	}
}

// CreateRoom validates the win condition, allocates a fresh 4-letter room
// ID, and registers the new room.
func (h *Hub) CreateRoom(ctx context.Context, win game.WinCondition, creatorName string) (*game.Room, error) {
	if err := win.Validate(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	roomID, err := h.freeRoomIDLocked()
	if err != nil {
		return nil, err
	}

	room := game.NewRoom(roomID, h.baseDeck, win, creatorName)
	h.rooms[roomID] = room

	metrics.RoomsCreated.Inc()
	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	logging.Info(ctx, "Room created",
		zap.String(string(logging.RoomIDKey), roomID),
		zap.String("win_mode", win.Mode))

	return room, nil
}

// freeRoomIDLocked rejection-samples 4 lowercase letters until unused.
func (h *Hub) freeRoomIDLocked() (string, error) {
	for attempt := 0; attempt < 10_000; attempt++ {
		id := randomRoomID()
		if _, taken := h.rooms[id]; !taken {
			return id, nil
		}
	}
	return "", errRoomIDSpaceExhausted
}

func randomRoomID() string {
	letters := make([]byte, roomIDLength)
	for i := range letters {
		letters[i] = byte('a' + rand.Intn(26))
	}
	return string(letters)
}

// Get looks a room up. IDs are matched case-insensitively.
func (h *Hub) Get(roomID string) (*game.Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[strings.ToLower(roomID)]
	return room, ok
}

// Exists reports whether a room ID is live.
func (h *Hub) Exists(roomID string) bool {
	_, ok := h.Get(roomID)
	return ok
}

// Len reports the number of live rooms.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Stats reports subscriber counts and last-access times per room.
func (h *Hub) Stats() map[string]RoomStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := make(map[string]RoomStats, len(h.rooms))
	for id, room := range h.rooms {
		stats[id] = RoomStats{
			Active:     room.NumActive(),
			LastAccess: room.LastAccess(),
		}
	}
	return stats
}

// GC removes rooms that have no subscribers and have been idle beyond the
// timeout.
func (h *Hub) GC(ctx context.Context) {
	now := time.Now().Unix()

	h.mu.Lock()
	defer h.mu.Unlock()

	var collected []string
	for id, room := range h.rooms {
		if room.NumActive() == 0 && now-room.LastAccess() > int64(h.gcTimeout/time.Second) {
			collected = append(collected, id)
		}
	}

	for _, id := range collected {
		delete(h.rooms, id)
		metrics.RoomsCollected.Inc()
		metrics.RoomMembers.DeleteLabelValues(id)
	}

	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	if len(collected) > 0 {
		logging.Info(ctx, "Collected idle rooms", zap.Strings("room_ids", collected))
	}
}

// RunMaintenance runs the periodic moderator-promotion check on every room.
// Rooms are snapshotted first so per-room locks are never held under the
// registry lock.
func (h *Hub) RunMaintenance() {
	h.mu.RLock()
	rooms := make([]*game.Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.RUnlock()

	for _, room := range rooms {
		room.RunMaintenance()
	}
}
