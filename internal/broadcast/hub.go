// Package broadcast fans session events out to the websocket clients of
// a room. Delivery is ordered per room: events broadcast for one room
// reach every member's send queue in emission order. Nothing is promised
// across rooms or to disconnected clients.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tuneclash_connected_clients",
	Help: "Number of websocket clients currently registered.",
})

// Envelope is the wire framing for every event pushed to clients.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

// Register attaches a connection to a room and returns its client
// handle. The caller runs the client's WritePump and owns reads.
func (h *Hub) Register(roomCode string, conn *websocket.Conn) *Client {
	c := &Client{
		RoomCode: roomCode,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[roomCode]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[roomCode] = room
	}
	room[c] = struct{}{}

	connectedClients.Inc()
	return c
}

// Unregister detaches the client and closes its send queue. Safe to call
// more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	room := h.rooms[c.RoomCode]
	_, registered := room[c]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.RoomCode)
	}
	h.mu.Unlock()

	if registered {
		connectedClients.Dec()
		c.close()
	}
}

// Broadcast queues the event for every client of the room. A client
// whose queue is full loses the event rather than stalling the room.
func (h *Hub) Broadcast(roomCode string, event string, data any) {
	b, err := marshal(event, data)
	if err != nil {
		slog.ErrorContext(context.Background(), "broadcast: marshal event failed",
			"event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[roomCode] {
		select {
		case c.send <- b:
		default:
			slog.WarnContext(context.Background(), "broadcast: dropping event for slow client",
				"room", roomCode, "event", event)
		}
	}
}

// SendTo queues the event for a single client, typically an error reply
// to the command's originator.
func (h *Hub) SendTo(c *Client, event string, data any) {
	b, err := marshal(event, data)
	if err != nil {
		slog.ErrorContext(context.Background(), "broadcast: marshal event failed",
			"event", event, "error", err)
		return
	}

	select {
	case c.send <- b:
	default:
		slog.WarnContext(context.Background(), "broadcast: dropping event for slow client",
			"room", c.RoomCode, "event", event)
	}
}

// RoomSize reports the number of connected clients in a room.
func (h *Hub) RoomSize(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[roomCode])
}

func marshal(event string, data any) ([]byte, error) {
	return json.Marshal(Envelope{
		Event: event,
		Data:  data,
	})
}
