package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/talespin-gg/talespin-server/internal/v1/catalog"
	"github.com/talespin-gg/talespin-server/internal/v1/game"
	"github.com/talespin-gg/talespin-server/internal/v1/logging"
	"github.com/talespin-gg/talespin-server/internal/v1/metrics"
)

// CardSource serves normalized card images by ID.
type CardSource interface {
	CardBytes(cardID string) ([]byte, error)
	ContentType() string
}

// WebSocketLimiter gates new socket connections.
type WebSocketLimiter interface {
	CheckWebSocket(c *gin.Context) bool
}

// Handler holds the HTTP surface over the room registry.
type Handler struct {
	hub      *Hub
	cards    CardSource
	wsLimit  WebSocketLimiter
	upgrader websocket.Upgrader
}

// NewHandler builds the HTTP surface. wsLimit may be nil to disable
// connection rate limiting.
func NewHandler(hub *Hub, cards CardSource, wsLimit WebSocketLimiter) *Handler {
	return &Handler{
		hub:     hub,
		cards:   cards,
		wsLimit: wsLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The game protocol has its own auth; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes attaches all game endpoints to the router. apiMiddleware
// wraps the REST endpoints only; the WebSocket route carries its own
// limiter.
func (h *Handler) RegisterRoutes(r gin.IRouter, apiMiddleware ...gin.HandlerFunc) {
	api := r.Group("", apiMiddleware...)
	api.GET("/", h.Root)
	api.POST("/create", h.CreateRoom)
	api.POST("/exists", h.RoomExists)
	api.GET("/stats", h.Stats)
	api.GET("/cards/:cardId", h.Card)

	r.GET("/ws", h.WebSocket)
}

// Root is a plain liveness banner.
func (h *Handler) Root(c *gin.Context) {
	c.String(http.StatusOK, "Hello, world!")
}

// createRoomRequest is the /create body. Pointer fields distinguish an
// absent value from an explicit zero.
type createRoomRequest struct {
	WinCondition *winConditionRequest `json:"win_condition"`
	CreatorName  *string              `json:"creator_name"`
}

type winConditionRequest struct {
	Mode         string  `json:"mode"`
	TargetPoints *uint16 `json:"target_points"`
	TargetCycles *uint16 `json:"target_cycles"`
}

// CreateRoom makes a new room and answers with its initial RoomState
// message. An empty body creates a cards-finish game with no reserved
// creator. Any parse or validation failure answers an ErrorMsg body so
// game clients can surface it directly.
func (h *Handler) CreateRoom(c *gin.Context) {
	ctx := requestContext(c)

	body, err := c.GetRawData()
	if err != nil {
		logging.Warn(ctx, "Failed to read create-room body", zap.Error(err))
		c.JSON(http.StatusOK, game.ErrorServerMsg("Failed to create room"))
		return
	}

	win, creator, err := h.parseCreateRoom(body)
	if err != nil {
		logging.Warn(ctx, "Rejected create-room payload", zap.Error(err))
		c.JSON(http.StatusOK, game.ErrorServerMsg("Failed to create room"))
		return
	}

	room, err := h.hub.CreateRoom(ctx, win, creator)
	if err != nil {
		logging.Warn(ctx, "Failed to create room", zap.Error(err))
		c.JSON(http.StatusOK, game.ErrorServerMsg("Failed to create room"))
		return
	}

	state := room.Snapshot()
	c.JSON(http.StatusOK, game.ServerMsg{RoomState: &state})
}

func (h *Handler) parseCreateRoom(body []byte) (game.WinCondition, string, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return game.WinCondition{Mode: game.WinModeCardsFinish}, "", nil
	}

	var req createRoomRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return game.WinCondition{}, "", err
	}

	win := game.WinCondition{Mode: game.WinModeCardsFinish}
	if req.WinCondition != nil {
		win = game.WinCondition{Mode: req.WinCondition.Mode}
		if req.WinCondition.TargetPoints != nil {
			win.TargetPoints = *req.WinCondition.TargetPoints
		} else if win.Mode == game.WinModePoints {
			// A points game with no explicit target uses the server default.
			win.TargetPoints = h.hub.defaultWinPoints
		}
		if req.WinCondition.TargetCycles != nil {
			win.TargetCycles = *req.WinCondition.TargetCycles
		}
	}
	if err := win.Validate(); err != nil {
		return game.WinCondition{}, "", err
	}

	creator := ""
	if req.CreatorName != nil {
		creator = strings.TrimSpace(*req.CreatorName)
	}
	return win, creator, nil
}

// RoomExists takes a JSON string body holding a room ID and answers the
// literal "true" or "false".
func (h *Handler) RoomExists(c *gin.Context) {
	var roomID string
	if err := c.ShouldBindJSON(&roomID); err != nil {
		c.String(http.StatusBadRequest, "false")
		return
	}

	if h.hub.Exists(roomID) {
		c.String(http.StatusOK, "true")
		return
	}
	c.String(http.StatusOK, "false")
}

// Stats reports every room as {"room_id": [num_active, last_access]}.
func (h *Handler) Stats(c *gin.Context) {
	stats := h.hub.Stats()

	report := make(map[string][2]int64, len(stats))
	for id, s := range stats {
		report[id] = [2]int64{int64(s.Active), s.LastAccess}
	}
	c.JSON(http.StatusOK, report)
}

// Card streams a normalized card image. IDs are content-addressed, so
// responses are immutable and cached aggressively.
func (h *Handler) Card(c *gin.Context) {
	cardID := c.Param("cardId")

	data, err := h.cards.CardBytes(cardID)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			logging.Error(requestContext(c), "Failed to load card image",
				zap.String("card_id", cardID), zap.Error(err))
		}
		c.String(http.StatusNotFound, "Card image unavailable")
		return
	}

	metrics.CardsServed.Inc()
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, h.cards.ContentType(), data)
}

// WebSocket upgrades the connection and performs the join handshake: the
// first frame must be a JoinRoom message naming a live room.
func (h *Handler) WebSocket(c *gin.Context) {
	ctx := requestContext(c)

	// The limiter writes the 429 itself on rejection.
	if h.wsLimit != nil && !h.wsLimit.CheckWebSocket(c) {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(ctx, "WebSocket upgrade failed", zap.Error(err))
		return
	}

	room, sess, ok := h.handshake(ctx, conn)
	if !ok {
		conn.Close()
		return
	}

	ctx = context.WithValue(ctx, logging.RoomIDKey, room.ID())
	ctx = context.WithValue(ctx, logging.PlayerKey, sess.Name)
	metrics.WebsocketEvents.WithLabelValues("join", "success").Inc()

	NewClient(conn, room, sess).Run(ctx)
}

// handshake reads the initial JoinRoom frame and admits the session.
// On failure the reason is written to the socket before the caller
// closes it.
func (h *Handler) handshake(ctx context.Context, conn wsConnection) (*game.Room, *game.Session, bool) {
	msgType, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, nil, false
	}
	if !textPayload(msgType, raw) {
		h.refuse(conn, game.ErrorServerMsg("Expected a JoinRoom message"))
		return nil, nil, false
	}

	msg, err := game.ParseClientMsg(raw)
	if err != nil || msg.JoinRoom == nil {
		h.refuse(conn, game.ErrorServerMsg("Expected a JoinRoom message"))
		return nil, nil, false
	}
	join := msg.JoinRoom

	room, found := h.hub.Get(join.RoomID)
	if !found {
		metrics.WebsocketEvents.WithLabelValues("join", "invalid_room").Inc()
		h.refuse(conn, game.InvalidRoomIDMsg())
		return nil, nil, false
	}

	sess, err := room.Join(ctx, join.Name, join.Token)
	if err != nil {
		metrics.WebsocketEvents.WithLabelValues("join", "rejected").Inc()
		h.refuse(conn, game.ErrorServerMsg(err.Error()))
		return nil, nil, false
	}
	return room, sess, true
}

func (h *Handler) refuse(conn wsConnection, msg game.ServerMsg) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, msg.Encode())
}

// requestContext carries the gin correlation ID into the logging context.
func requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if cid, ok := c.Get(string(logging.CorrelationIDKey)); ok {
		if s, ok := cid.(string); ok {
			ctx = context.WithValue(ctx, logging.CorrelationIDKey, s)
		}
	}
	return ctx
}
