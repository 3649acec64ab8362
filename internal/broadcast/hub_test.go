package broadcast_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuneclash/server/internal/broadcast"
)

// wsPair stands up a hub-registered server connection and returns the
// dialing side for reading what the hub broadcast.
func wsPair(t *testing.T, h *broadcast.Hub, room string) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		c := h.Register(room, conn)
		close(registered)
		c.WritePump()
		_ = conn.Close()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	<-registered
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) broadcast.Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var e broadcast.Envelope
	require.NoError(t, json.Unmarshal(msg, &e))
	return e
}

func TestHub_BroadcastDeliversInOrder(t *testing.T) {
	h := broadcast.NewHub()
	conn := wsPair(t, h, "ABC123")

	h.Broadcast("ABC123", "playerJoined", map[string]string{"name": "alice"})
	h.Broadcast("ABC123", "questionStarted", map[string]int{"duration": 10})
	h.Broadcast("ABC123", "timerTick", map[string]int{"seconds_remaining": 9})

	assert.Equal(t, "playerJoined", readEnvelope(t, conn).Event)
	assert.Equal(t, "questionStarted", readEnvelope(t, conn).Event)
	assert.Equal(t, "timerTick", readEnvelope(t, conn).Event)
}

func TestHub_BroadcastScopedToRoom(t *testing.T) {
	h := broadcast.NewHub()
	a := wsPair(t, h, "AAAAAA")
	b := wsPair(t, h, "BBBBBB")

	h.Broadcast("AAAAAA", "playerJoined", nil)
	assert.Equal(t, "playerJoined", readEnvelope(t, a).Event)

	require.NoError(t, b.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := b.ReadMessage()
	assert.Error(t, err, "other room must not receive the event")
}

func TestHub_SendToReachesOnlyTarget(t *testing.T) {
	h := broadcast.NewHub()

	upgrader := websocket.Upgrader{}
	clients := make(chan *broadcast.Client, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		c := h.Register("ABC123", conn)
		clients <- c
		c.WritePump()
		_ = conn.Close()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	target := <-clients

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	<-clients

	h.SendTo(target, "error", map[string]string{"message": "room full"})

	assert.Equal(t, "error", readEnvelope(t, first).Event)

	require.NoError(t, second.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = second.ReadMessage()
	assert.Error(t, err, "non-target client must not receive the event")
}

func TestHub_UnregisterRemovesClient(t *testing.T) {
	h := broadcast.NewHub()

	upgrader := websocket.Upgrader{}
	clients := make(chan *broadcast.Client, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		c := h.Register("ABC123", conn)
		clients <- c
		c.WritePump()
		_ = conn.Close()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := <-clients
	require.Equal(t, 1, h.RoomSize("ABC123"))

	h.Unregister(c)
	assert.Equal(t, 0, h.RoomSize("ABC123"))

	// Double unregister is a no-op.
	h.Unregister(c)
}
