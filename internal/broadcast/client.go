package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendQueueSize = 256
	writeWait     = 10 * time.Second
	pingPeriod    = 54 * time.Second
)

// Client is one registered websocket connection. The hub writes events
// into send; WritePump drains them onto the wire.
type Client struct {
	RoomCode string

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// WritePump forwards queued events to the connection and keeps it alive
// with pings. It returns when the send queue is closed or a write fails;
// the caller is responsible for closing the connection afterwards.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}
