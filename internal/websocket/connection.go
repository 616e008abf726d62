package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection wraps one client WebSocket. All writes go through a single
// writer goroutine; gorilla/websocket does not allow concurrent writers and
// notices arrive from actor, terminator and heartbeat paths at once.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	sessionID string
	studentID string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded WebSocket and starts its writer.
func NewConnection(conn *websocket.Conn, sessionID, studentID string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:      conn,
		writeCh:   make(chan []byte, 100),
		sessionID: sessionID,
		studentID: studentID,
		ctx:       ctx,
		cancel:    cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues a notice for delivery. Returns ErrWriteTimeout when the
// client cannot drain its buffer; notices are advisory, so callers log and
// move on.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts the connection down once; later calls are no-ops.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// SessionID returns the session this connection serves.
func (c *Connection) SessionID() string {
	return c.sessionID
}

// StudentID returns the authenticated student.
func (c *Connection) StudentID() string {
	return c.studentID
}
