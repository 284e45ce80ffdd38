package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/omnisonic/coda/internal/presence"
)

// client is one live connection with its immutable handshake identity.
type client struct {
	conn         *websocket.Conn
	roomID       string
	memberID     string
	displayName  string
	status       presence.Status
	writeTimeout time.Duration

	// mu guards closed and the close of send. trySend and close both hold it
	// so a fan-out can never race a disconnect into a closed channel.
	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newClient(conn *websocket.Conn, roomID, memberID, displayName string, status presence.Status, sendBuffer int, writeTimeout time.Duration) *client {
	return &client{
		conn:         conn,
		roomID:       roomID,
		memberID:     memberID,
		displayName:  displayName,
		status:       status,
		send:         make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
	}
}

// trySend queues a frame without blocking. A full buffer means the peer is
// slow or dead; the frame is dropped for that peer only. A client that has
// already been closed drops the frame too.
func (c *client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close shuts the send channel exactly once, which ends the write pump.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump serializes all writes to the connection. It exits when the send
// channel closes and then closes the underlying socket.
func (c *client) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
