package hmr

import (
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket keepalive tuning.
const (
	// WriteWait is the deadline for a single outbound frame.
	WriteWait = 10 * time.Second

	// PongWait is how long a client may stay silent before the read fails.
	PongWait = 60 * time.Second

	// PingPeriod is the server ping interval; must be under PongWait.
	PingPeriod = (PongWait * 9) / 10

	// maxFrameSize bounds inbound ack frames.
	maxFrameSize = 64 * 1024
)

// wsClient is one connected in-page runtime (or extension bridge).
type wsClient struct {
	// id identifies the connection in logs.
	id string

	conn *websocket.Conn

	// send buffers outbound frames consumed by writePump.
	send chan []byte
}

func newWSClient(id string, conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   id,
		conn: conn,
		send: make(chan []byte, 16),
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings. Runs in its own goroutine per client.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
