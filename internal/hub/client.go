package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dukepan/multi-rooms-chat-back/internal/wire"
)

// Client is one live WebSocket connection. Its exported identity is an
// opaque connection ID, not a user ID — a connection becomes associated
// with a user only after a successful auth frame.
type Client struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	send   chan wire.Frame
	remote string

	mu     sync.RWMutex
	userID uuid.UUID
	roomID uuid.UUID

	closeOnce sync.Once
}

// ID returns the connection's opaque ID.
func (c *Client) ID() string { return c.id }

// RemoteAddr returns the client's remote address, used as the rate
// limiter identifier before authentication assigns a user ID.
func (c *Client) RemoteAddr() string {
	if c.remote != "" {
		return c.remote
	}
	return c.conn.RemoteAddr().String()
}

// UserID returns the authenticated user ID, or uuid.Nil if unauthenticated.
func (c *Client) UserID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// SetUserID associates this connection with an authenticated user.
func (c *Client) SetUserID(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = id
}

// RoomID returns the room this connection is currently joined to, or
// uuid.Nil.
func (c *Client) RoomID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Client) setRoom(id uuid.UUID) {
	c.mu.Lock()
	c.roomID = id
	c.mu.Unlock()
}

// Enqueue queues frame for delivery without blocking the caller. If the
// client's send buffer is full the connection is considered too slow and
// is closed, mirroring the teacher's backpressure handling in
// rooms.Client.
func (c *Client) Enqueue(frame wire.Frame) {
	select {
	case c.send <- frame:
	default:
		c.Close(websocket.CloseMessageTooBig, "send buffer exceeded")
	}
}

// Close closes the underlying connection with the given close code,
// idempotently.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.conn.Close()
	})
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister(c)
		h.shutdownWg.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame wire.ClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		ctx := context.Background()
		if h.handler != nil {
			h.handler(ctx, c, frame)
		}
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close(websocket.CloseNormalClosure, "")
		h.shutdownWg.Done()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
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
