package hub

import "github.com/dukepan/multi-rooms-chat-back/internal/wire"

// NewTestClient builds a Client with no underlying socket, for unit
// tests in other packages (notably router) that exercise dispatch logic
// without a live WebSocket connection. Calling Close or anything that
// touches the network on the result will panic; tests should only drive
// it through Enqueue, SetUserID, RoomID, and similar bookkeeping calls.
func NewTestClient(id string) *Client {
	return &Client{
		id:     id,
		remote: "127.0.0.1:0",
		send:   make(chan wire.Frame, sendBufferSize),
	}
}

// Outbox exposes a test client's send channel so tests can assert on
// frames a handler enqueued without a live socket to read them off of.
func (c *Client) Outbox() <-chan wire.Frame {
	return c.send
}
