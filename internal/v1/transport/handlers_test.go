package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talespin-gg/talespin-server/internal/v1/game"
)

func newTestHandler(t *testing.T) (*Handler, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(testDeck(60), 10)
	cards := &mockCardSource{cards: map[string][]byte{
		"abc123": []byte("jpeg-bytes"),
	}}
	return NewHandler(hub, cards, nil), hub
}

func newTestRouter(t *testing.T) (*gin.Engine, *Hub) {
	t.Helper()
	h, hub := newTestHandler(t)
	router := gin.New()
	h.RegisterRoutes(router)
	return router, hub
}

func doRequest(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRootBanner(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello, world!", rec.Body.String())
}

func TestCreateRoomEmptyBodyDefaultsToCardsFinish(t *testing.T) {
	router, hub := newTestRouter(t)

	rec := doRequest(router, http.MethodPost, "/create", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var msg game.ServerMsg
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	require.NotNil(t, msg.RoomState)

	assert.Regexp(t, `^[a-z]{4}$`, msg.RoomState.RoomID)
	assert.Equal(t, game.WinModeCardsFinish, msg.RoomState.WinCondition.Mode)
	assert.Nil(t, msg.RoomState.Creator)
	assert.True(t, hub.Exists(msg.RoomState.RoomID))
}

func TestCreateRoomWithCreatorAndPoints(t *testing.T) {
	router, _ := newTestRouter(t)

	body := []byte(`{"win_condition":{"mode":"points","target_points":7},"creator_name":"  alice  "}`)
	rec := doRequest(router, http.MethodPost, "/create", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var msg game.ServerMsg
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	require.NotNil(t, msg.RoomState)

	assert.Equal(t, game.WinModePoints, msg.RoomState.WinCondition.Mode)
	assert.Equal(t, uint16(7), msg.RoomState.WinCondition.TargetPoints)
	require.NotNil(t, msg.RoomState.Creator)
	assert.Equal(t, "alice", *msg.RoomState.Creator)
}

func TestCreateRoomPointsWithoutTargetUsesDefault(t *testing.T) {
	router, _ := newTestRouter(t)

	body := []byte(`{"win_condition":{"mode":"points"}}`)
	rec := doRequest(router, http.MethodPost, "/create", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var msg game.ServerMsg
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	require.NotNil(t, msg.RoomState)
	assert.Equal(t, uint16(10), msg.RoomState.WinCondition.TargetPoints)
}

func TestCreateRoomRejectsBadPayloads(t *testing.T) {
	router, hub := newTestRouter(t)

	for _, body := range []string{
		`{not json`,
		`{"win_condition":{"mode":"points","target_points":0}}`,
		`{"win_condition":{"mode":"sudden_death"}}`,
	} {
		rec := doRequest(router, http.MethodPost, "/create", []byte(body))
		require.Equal(t, http.StatusOK, rec.Code, body)

		var msg game.ServerMsg
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
		require.NotNil(t, msg.ErrorMsg, body)
		assert.Equal(t, "Failed to create room", *msg.ErrorMsg)
	}
	assert.Zero(t, hub.Len())
}

func TestRoomExists(t *testing.T) {
	router, hub := newTestRouter(t)
	room, err := hub.CreateRoom(context.Background(), cardsFinish(), "")
	require.NoError(t, err)

	rec := doRequest(router, http.MethodPost, "/exists", []byte(`"`+room.ID()+`"`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Body.String())

	rec = doRequest(router, http.MethodPost, "/exists", []byte(`"zzzz"`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "false", rec.Body.String())
}

func TestStatsReport(t *testing.T) {
	router, hub := newTestRouter(t)
	room, err := hub.CreateRoom(context.Background(), cardsFinish(), "")
	require.NoError(t, err)
	_, err = room.Join(context.Background(), "alice", "tok")
	require.NoError(t, err)

	rec := doRequest(router, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report map[string][2]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Contains(t, report, room.ID())
	assert.Equal(t, int64(1), report[room.ID()][0])
	assert.NotZero(t, report[room.ID()][1])
}

func TestCardServedImmutable(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/cards/abc123", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg-bytes", rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
}

func TestCardNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/cards/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandshakeUnknownRoom(t *testing.T) {
	h, _ := newTestHandler(t)
	conn := newMockConn()
	conn.queueText(joinFrame("zzzz", "alice", "tok"))

	_, _, ok := h.handshake(context.Background(), conn)
	assert.False(t, ok)

	msgs := conn.serverMsgs(t)
	require.Len(t, msgs, 1)
	assert.NotNil(t, msgs[0].InvalidRoomID)
}

func TestHandshakeRequiresJoinRoomFirst(t *testing.T) {
	h, _ := newTestHandler(t)
	conn := newMockConn()
	conn.queueText([]byte(`{"Ready":{}}`))

	_, _, ok := h.handshake(context.Background(), conn)
	assert.False(t, ok)

	msgs := conn.serverMsgs(t)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].ErrorMsg)
}

func TestHandshakeRejectsBadName(t *testing.T) {
	h, hub := newTestHandler(t)
	room, err := hub.CreateRoom(context.Background(), cardsFinish(), "")
	require.NoError(t, err)

	conn := newMockConn()
	conn.queueText(joinFrame(room.ID(), "", "tok"))

	_, _, ok := h.handshake(context.Background(), conn)
	assert.False(t, ok)

	msgs := conn.serverMsgs(t)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].ErrorMsg)
	assert.Equal(t, game.ErrEmptyName.Error(), *msgs[0].ErrorMsg)
}

func TestHandshakeUppercaseRoomID(t *testing.T) {
	h, hub := newTestHandler(t)
	room, err := hub.CreateRoom(context.Background(), cardsFinish(), "")
	require.NoError(t, err)

	upper := []byte(room.ID())
	for i, b := range upper {
		upper[i] = b - 'a' + 'A'
	}

	conn := newMockConn()
	conn.queueText(joinFrame(string(upper), "alice", "tok"))

	got, sess, ok := h.handshake(context.Background(), conn)
	require.True(t, ok)
	assert.Same(t, room, got)
	assert.Equal(t, "alice", sess.Name)
}

func TestHandshakeAcceptsBinaryJoin(t *testing.T) {
	h, hub := newTestHandler(t)
	room, err := hub.CreateRoom(context.Background(), cardsFinish(), "")
	require.NoError(t, err)

	// Some clients send JSON as binary frames; valid UTF-8 payloads count.
	conn := newMockConn()
	conn.queueBinary(joinFrame(room.ID(), "alice", "tok"))

	_, sess, ok := h.handshake(context.Background(), conn)
	require.True(t, ok)
	assert.Equal(t, "alice", sess.Name)
}

func TestHandshakeRejectsNonUTF8Binary(t *testing.T) {
	h, _ := newTestHandler(t)
	conn := newMockConn()
	conn.queueBinary([]byte{0xff, 0xfe, 0xfd})

	_, _, ok := h.handshake(context.Background(), conn)
	assert.False(t, ok)

	msgs := conn.serverMsgs(t)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].ErrorMsg)
}

func TestClientRunRoutesBinaryFrames(t *testing.T) {
	h, hub := newTestHandler(t)
	room, err := hub.CreateRoom(context.Background(), cardsFinish(), "")
	require.NoError(t, err)

	conn := newMockConn()
	conn.queueText(joinFrame(room.ID(), "alice", "tok"))
	_, sess, ok := h.handshake(context.Background(), conn)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewClient(conn, room, sess).Run(context.Background())
	}()

	// A non-UTF-8 binary frame is skipped without killing the loop; the
	// following binary JSON frame still reaches the room.
	conn.queueBinary([]byte{0xff, 0xfe, 0xfd})
	leave, _ := json.Marshal(game.ClientMsg{LeaveRoom: &game.EmptyPayload{}})
	conn.queueBinary(leave)

	require.Eventually(t, func() bool {
		_, present := room.Snapshot().Players["alice"]
		return !present
	}, time.Second, 5*time.Millisecond)

	conn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("client did not shut down after the socket closed")
	}
}

func TestClientRunRelaysStateAndDisconnects(t *testing.T) {
	h, hub := newTestHandler(t)
	room, err := hub.CreateRoom(context.Background(), cardsFinish(), "")
	require.NoError(t, err)

	conn := newMockConn()
	conn.queueText(joinFrame(room.ID(), "alice", "tok"))

	_, sess, ok := h.handshake(context.Background(), conn)
	require.True(t, ok)
	require.Equal(t, 1, room.NumActive())

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewClient(conn, room, sess).Run(context.Background())
	}()

	// The join snapshot reaches the socket.
	require.Eventually(t, func() bool {
		for _, f := range conn.frames() {
			var msg game.ServerMsg
			if json.Unmarshal(f.data, &msg) == nil && msg.RoomState != nil {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	conn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("client did not shut down after the socket closed")
	}

	// Disconnecting during Joining removes the player entirely.
	require.Eventually(t, func() bool {
		return room.NumActive() == 0
	}, time.Second, 5*time.Millisecond)
	assert.NotContains(t, room.Snapshot().Players, "alice")
}

func joinFrame(roomID, name, token string) []byte {
	frame, _ := json.Marshal(game.ClientMsg{JoinRoom: &game.JoinRoomPayload{
		RoomID: roomID,
		Name:   name,
		Token:  token,
	}})
	return frame
}
