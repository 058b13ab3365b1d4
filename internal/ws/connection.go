package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when writing to a closed connection.
var ErrConnectionClosed = errors.New("connection is closed")

// Connection wraps a single client socket. gorilla/websocket allows one
// concurrent writer, so every data frame goes through mu.
type Connection struct {
	ID          string
	ConnectedAt time.Time

	raw       *websocket.Conn
	writeWait time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newConnection(id string, raw *websocket.Conn, writeWait time.Duration) *Connection {
	return &Connection{
		ID:          id,
		ConnectedAt: time.Now(),
		raw:         raw,
		writeWait:   writeWait,
		done:        make(chan struct{}),
	}
}

func (c *Connection) deadline() time.Time {
	if c.writeWait <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.writeWait)
}

// Send writes payload as a text frame.
func (c *Connection) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if err := c.raw.SetWriteDeadline(c.deadline()); err != nil {
		return err
	}
	return c.raw.WriteMessage(websocket.TextMessage, payload)
}

// Ping sends a ping control frame.
func (c *Connection) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	return c.raw.WriteControl(websocket.PingMessage, nil, c.deadline())
}

// Close sends a close frame and releases the socket. Idempotent.
func (c *Connection) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	d := c.deadline()
	if d.IsZero() {
		d = time.Now().Add(time.Second)
	}
	_ = c.raw.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), d)
	return c.raw.Close()
}
