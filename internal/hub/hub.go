// Package hub implements component C10, the connection hub: the socket
// fleet, per-connection read/write pumps, heartbeats, and the
// subscribe-on-first-member / unsubscribe-on-last-member bridge between
// a room's local clients and the cross-node bus. Grounded in the
// teacher's rooms.Manager + rooms.Client pair.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dukepan/multi-rooms-chat-back/internal/bus"
	"github.com/dukepan/multi-rooms-chat-back/internal/logging"
	"github.com/dukepan/multi-rooms-chat-back/internal/metrics"
	"github.com/dukepan/multi-rooms-chat-back/internal/wire"
)

const (
	writeWait = 10 * time.Second
	// pingPeriod matches the spec's 30s heartbeat cadence (§5); pongWait
	// gives a client one full period of slack to answer a ping before its
	// connection is flagged not-alive and torn down on the next round.
	pingPeriod     = 30 * time.Second
	pongWait       = 2 * pingPeriod
	maxMessageSize = 8192
	sendBufferSize = 64
)

// Handler dispatches one decoded client frame for conn. Implemented by
// the router package; kept as a function type here to avoid an
// import cycle between hub and router.
type Handler func(ctx context.Context, conn *Client, frame wire.ClientFrame)

// DisconnectHandler runs once a connection's read pump has exited.
// Implemented by the router/users packages to clean up authentication
// and room membership state.
type DisconnectHandler func(conn *Client)

// Hub owns every live connection and bridges room membership to bus
// subscriptions.
type Hub struct {
	log          *logging.Logger
	bus          bus.Bus
	handler      Handler
	onDisconnect DisconnectHandler

	mu          sync.RWMutex
	clients     map[string]*Client
	roomClients map[uuid.UUID]map[string]*Client
	roomUnsub   map[uuid.UUID]func()

	shutdownWg sync.WaitGroup
}

// New constructs a Hub. SetHandler must be called before any connection
// is registered.
func New(b bus.Bus, log *logging.Logger) *Hub {
	return &Hub{
		log:         log,
		bus:         b,
		clients:     make(map[string]*Client),
		roomClients: make(map[uuid.UUID]map[string]*Client),
		roomUnsub:   make(map[uuid.UUID]func()),
	}
}

// SetHandler installs the frame dispatcher.
func (h *Hub) SetHandler(fn Handler) {
	h.handler = fn
}

// SetDisconnectHandler installs the cleanup callback run after a
// connection's read pump exits.
func (h *Hub) SetDisconnectHandler(fn DisconnectHandler) {
	h.onDisconnect = fn
}

// Register upgrades conn into a tracked Client and starts its read and
// write pumps. The caller must not use conn directly afterward.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		hub:  h,
		send: make(chan wire.Frame, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	metrics.ConnectionsActive.Inc()

	c.Enqueue(wire.SystemFrame("welcome"))

	h.shutdownWg.Add(2)
	go h.writePump(c)
	go h.readPump(c)

	return c
}

// unregister tears down a client's bookkeeping; idempotent.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	roomID := c.RoomID()
	h.mu.Unlock()
	metrics.ConnectionsActive.Dec()

	if roomID != uuid.Nil {
		h.leaveRoomLocal(roomID, c)
	}
	close(c.send)

	if h.onDisconnect != nil {
		h.onDisconnect(c)
	}
}

// ClientCount returns the number of currently registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// JoinRoomLocal tracks c as a local member of roomID and, if c is the
// first local member, subscribes this node to the room's bus channel so
// messages published by other nodes reach c.
func (h *Hub) JoinRoomLocal(ctx context.Context, roomID uuid.UUID, c *Client, onEvent func(bus.Message)) {
	h.mu.Lock()
	if h.roomClients[roomID] == nil {
		h.roomClients[roomID] = make(map[string]*Client)
	}
	first := len(h.roomClients[roomID]) == 0
	h.roomClients[roomID][c.id] = c
	h.mu.Unlock()

	c.setRoom(roomID)

	if first && h.bus != nil {
		channel := roomChannel(roomID)
		unsub, err := h.bus.Subscribe(ctx, channel, onEvent)
		if err == nil {
			h.mu.Lock()
			h.roomUnsub[roomID] = unsub
			h.mu.Unlock()
		} else if h.log != nil {
			h.log.Error(ctx, "hub: subscribe to %s failed: %v", channel, err)
		}
	}
}

// LeaveRoomLocal removes c from roomID's local member set.
func (h *Hub) LeaveRoomLocal(roomID uuid.UUID, c *Client) {
	h.leaveRoomLocal(roomID, c)
	c.setRoom(uuid.Nil)
}

func (h *Hub) leaveRoomLocal(roomID uuid.UUID, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.roomClients[roomID]
	if !ok {
		return
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(h.roomClients, roomID)
		if unsub, ok := h.roomUnsub[roomID]; ok {
			unsub()
			delete(h.roomUnsub, roomID)
		}
	}
}

// BroadcastLocal fans frame out to every client locally joined to
// roomID. Cross-node fan-out happens via the bus subscription installed
// in JoinRoomLocal, whose handler should itself call BroadcastLocal.
func (h *Hub) BroadcastLocal(roomID uuid.UUID, frame wire.Frame) {
	h.BroadcastLocalExcept(roomID, frame, "")
}

// BroadcastLocalExcept is BroadcastLocal but skips the connection whose
// ID matches exceptConnID, if any. Used so a sender doesn't receive its
// own send_message frame back (the Fan-out invariant: exactly one
// message frame to every *other* active member's socket).
func (h *Hub) BroadcastLocalExcept(roomID uuid.UUID, frame wire.Frame, exceptConnID string) {
	h.mu.RLock()
	members := h.roomClients[roomID]
	recipients := make([]*Client, 0, len(members))
	for id, c := range members {
		if id == exceptConnID {
			continue
		}
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	for _, c := range recipients {
		c.Enqueue(frame)
	}
}

func roomChannel(roomID uuid.UUID) string {
	return "room:" + roomID.String() + ":messages"
}

// Shutdown closes every connection gracefully and waits for the pumps
// to drain, bounded by timeout.
func (h *Hub) Shutdown(timeout time.Duration) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
}
