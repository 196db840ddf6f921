package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/talespin-gg/talespin-server/internal/v1/catalog"
	"github.com/talespin-gg/talespin-server/internal/v1/game"
)

var errMockClosed = errors.New("mock connection closed")

type writtenFrame struct {
	messageType int
	data        []byte
}

// mockConn scripts inbound frames and records everything written.
type mockConn struct {
	mu      sync.Mutex
	inbound chan writtenFrame
	written []writtenFrame
	closed  chan struct{}
	once    sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan writtenFrame, 16),
		closed:  make(chan struct{}),
	}
}

func (m *mockConn) queueText(data []byte) {
	m.queueFrame(websocket.TextMessage, data)
}

func (m *mockConn) queueBinary(data []byte) {
	m.queueFrame(websocket.BinaryMessage, data)
}

func (m *mockConn) queueFrame(messageType int, data []byte) {
	m.inbound <- writtenFrame{messageType: messageType, data: data}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-m.inbound:
		return f.messageType, f.data, nil
	case <-m.closed:
		return 0, nil, errMockClosed
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-m.closed:
		return errMockClosed
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, writtenFrame{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (m *mockConn) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

func (m *mockConn) frames() []writtenFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]writtenFrame(nil), m.written...)
}

// serverMsgs decodes every text frame written so far.
func (m *mockConn) serverMsgs(t *testing.T) []game.ServerMsg {
	t.Helper()
	var msgs []game.ServerMsg
	for _, f := range m.frames() {
		if f.messageType != websocket.TextMessage {
			continue
		}
		var msg game.ServerMsg
		require.NoError(t, json.Unmarshal(f.data, &msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

// mockCardSource serves a fixed card set.
type mockCardSource struct {
	cards map[string][]byte
	err   error
}

func (m *mockCardSource) CardBytes(cardID string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.cards[cardID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return data, nil
}

func (m *mockCardSource) ContentType() string { return "image/jpeg" }
