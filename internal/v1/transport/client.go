package transport

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/talespin-gg/talespin-server/internal/v1/game"
	"github.com/talespin-gg/talespin-server/internal/v1/logging"
	"github.com/talespin-gg/talespin-server/internal/v1/metrics"
)

// writeWait is the deadline for a single socket write.
const writeWait = 10 * time.Second

// wsConnection abstracts the gorilla connection so pumps can be tested
// against a mock.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client bridges one WebSocket connection to a room session. Inbound
// frames feed the room's message handler; the session outbox feeds the
// socket.
type Client struct {
	conn wsConnection
	room *game.Room
	sess *game.Session
}

// NewClient wraps an upgraded connection and its joined session.
func NewClient(conn wsConnection, room *game.Room, sess *game.Session) *Client {
	return &Client{conn: conn, room: room, sess: sess}
}

// Run services the connection until either side closes. It blocks until
// the read pump exits; the write pump drains in its own goroutine.
func (c *Client) Run(ctx context.Context) {
	metrics.IncConnection()
	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump relays inbound frames into the room until the socket errors.
// A fatal handler error (corrupted room state) tears the connection down.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.room.HandleDisconnect(ctx, c.sess)
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn(ctx, "Unexpected WebSocket close", zap.Error(err))
			}
			return
		}
		if !textPayload(msgType, raw) {
			continue
		}

		if err := c.room.HandleMessage(ctx, c.sess, raw); err != nil {
			logging.Error(ctx, "Fatal room error, closing connection", zap.Error(err))
			return
		}
	}
}

// textPayload reports whether a frame carries protocol JSON: a text frame,
// or a binary frame whose payload is valid UTF-8.
func textPayload(messageType int, data []byte) bool {
	switch messageType {
	case websocket.TextMessage:
		return true
	case websocket.BinaryMessage:
		return utf8.Valid(data)
	}
	return false
}

// writePump drains the session outbox onto the socket. A closed outbox
// means the session was removed or superseded; the peer gets a close
// frame.
func (c *Client) writePump(ctx context.Context) {
	for msg := range c.sess.Outbox {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logging.Warn(ctx, "WebSocket write failed", zap.Error(err))
			c.conn.Close()
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
	c.conn.Close()
}
