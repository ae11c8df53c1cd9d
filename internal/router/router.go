// Package router implements component C11: it decodes each incoming
// wire.ClientFrame, enforces the authentication precondition and the
// per-class rate limit, dispatches to the matching component, and
// converts any panic or error into a wire-level error frame rather than
// letting it take down the connection's read pump. Grounded in the
// teacher's api.Router type-switch dispatch.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/multi-rooms-chat-back/internal/bus"
	"github.com/dukepan/multi-rooms-chat-back/internal/hub"
	"github.com/dukepan/multi-rooms-chat-back/internal/logging"
	"github.com/dukepan/multi-rooms-chat-back/internal/messages"
	"github.com/dukepan/multi-rooms-chat-back/internal/metrics"
	"github.com/dukepan/multi-rooms-chat-back/internal/models"
	"github.com/dukepan/multi-rooms-chat-back/internal/ratelimit"
	"github.com/dukepan/multi-rooms-chat-back/internal/rooms"
	"github.com/dukepan/multi-rooms-chat-back/internal/store"
	"github.com/dukepan/multi-rooms-chat-back/internal/users"
	"github.com/dukepan/multi-rooms-chat-back/internal/validate"
	"github.com/dukepan/multi-rooms-chat-back/internal/wire"
)

const historyPageSize = 50

// Router dispatches decoded client frames to the owning component.
type Router struct {
	hub      *hub.Hub
	users    *users.Registry
	rooms    *rooms.Registry
	messages *messages.Service
	limiter  *ratelimit.Limiter
	log      *logging.Logger
}

// New constructs a Router. Call Handler and pass it to hub.SetHandler.
func New(h *hub.Hub, u *users.Registry, r *rooms.Registry, m *messages.Service, l *ratelimit.Limiter, log *logging.Logger) *Router {
	return &Router{hub: h, users: u, rooms: r, messages: m, limiter: l, log: log}
}

// Handler adapts Dispatch to hub.Handler.
func (rt *Router) Handler() hub.Handler {
	return rt.Dispatch
}

// DisconnectHandler adapts HandleDisconnect to hub.DisconnectHandler.
func (rt *Router) DisconnectHandler() hub.DisconnectHandler {
	return rt.HandleDisconnect
}

// HandleDisconnect runs the cleanup a dropped connection needs: ending
// its room membership (deactivating the room if it was the last member)
// and removing its user registry entry if it held the last connection
// for that user.
func (rt *Router) HandleDisconnect(c *hub.Client) {
	ctx := context.Background()

	if roomID := c.RoomID(); roomID != uuid.Nil {
		if u, ok := rt.users.Profile(c.UserID()); ok {
			rt.leaveRoom(ctx, c, roomID, u)
		}
	}

	userID, stillOnline := rt.users.Disconnect(ctx, c.ID())
	if userID != uuid.Nil && !stillOnline && rt.log != nil {
		rt.log.Info(ctx, "user %s went offline", userID)
	}
	rt.limiter.Reset(c.RemoteAddr())
}

var classByType = map[wire.ClientType]ratelimit.Class{
	wire.ClientCreateRoom:  ratelimit.ClassRoomCreate,
	wire.ClientSendMessage: ratelimit.ClassMessage,
	wire.ClientCommand:     ratelimit.ClassCommand,
}

// requiresAuth is every client frame type except auth itself.
func requiresAuth(t wire.ClientType) bool {
	return t != wire.ClientAuth
}

// Dispatch handles one decoded frame from c, recovering from any panic
// raised by a component handler and reporting it as INTERNAL_ERROR
// rather than killing the read pump.
func (rt *Router) Dispatch(ctx context.Context, c *hub.Client, frame wire.ClientFrame) {
	defer func() {
		if r := recover(); r != nil {
			if rt.log != nil {
				rt.log.Error(ctx, "router: panic handling %s: %v", frame.Type, r)
			}
			c.Enqueue(wire.ErrorFrame(wire.ErrInternalError, "internal error", frame.CorrelationID, 0))
		}
	}()

	if requiresAuth(frame.Type) && c.UserID() == uuid.Nil {
		metrics.FramesRejected.WithLabelValues(string(wire.ErrUnauthorized)).Inc()
		c.Enqueue(wire.ErrorFrame(wire.ErrUnauthorized, "authenticate first", frame.CorrelationID, 0))
		return
	}

	if class, ok := classByType[frame.Type]; ok {
		identifier := rateLimitIdentifier(c)
		if allowed, retryAfter := rt.limiter.Allow(class, identifier); !allowed {
			metrics.FramesRejected.WithLabelValues(string(wire.ErrRateLimit)).Inc()
			c.Enqueue(wire.ErrorFrame(wire.ErrRateLimit, "rate limit exceeded", frame.CorrelationID, int(retryAfter.Seconds())))
			return
		}
	}

	switch frame.Type {
	case wire.ClientAuth:
		rt.handleAuth(ctx, c, frame)
	case wire.ClientCreateRoom:
		rt.handleCreateRoom(ctx, c, frame)
	case wire.ClientJoinRoom:
		rt.handleJoinRoom(ctx, c, frame)
	case wire.ClientLeaveRoom:
		rt.handleLeaveRoom(ctx, c, frame)
	case wire.ClientSendMessage:
		rt.handleSendMessage(ctx, c, frame)
	case wire.ClientTypingStart:
		rt.handleTyping(ctx, c, frame, true)
	case wire.ClientTypingStop:
		rt.handleTyping(ctx, c, frame, false)
	case wire.ClientCommand:
		rt.handleCommand(ctx, c, frame)
	default:
		metrics.FramesRejected.WithLabelValues(string(wire.ErrInvalidMessage)).Inc()
		c.Enqueue(wire.ErrorFrame(wire.ErrInvalidMessage, "unrecognized frame type", frame.CorrelationID, 0))
	}
}

func rateLimitIdentifier(c *hub.Client) string {
	if id := c.UserID(); id != uuid.Nil {
		return id.String()
	}
	return c.RemoteAddr()
}

func (rt *Router) handleAuth(ctx context.Context, c *hub.Client, frame wire.ClientFrame) {
	if err := validate.Username(frame.Username); err != nil {
		c.Enqueue(wire.ErrorFrame(wire.ErrInvalidMessage, err.Error(), frame.CorrelationID, 0))
		return
	}
	if allowed, retryAfter := rt.limiter.Allow(ratelimit.ClassConnection, c.RemoteAddr()); !allowed {
		c.Enqueue(wire.ErrorFrame(wire.ErrRateLimit, "rate limit exceeded", frame.CorrelationID, int(retryAfter.Seconds())))
		return
	}

	u, err := rt.users.Authenticate(ctx, c.ID(), frame.Username)
	if errors.Is(err, users.ErrUsernameTaken) {
		c.Enqueue(wire.ErrorFrame(wire.ErrUserExists, "username already online", frame.CorrelationID, 0))
		return
	}
	if err != nil {
		rt.log.Error(ctx, "router: authenticate failed: %v", err)
		c.Enqueue(wire.ErrorFrame(wire.ErrDatabaseError, "could not authenticate", frame.CorrelationID, 0))
		return
	}

	c.SetUserID(u.ID)
	c.Enqueue(wire.NewFrame(wire.ServerAuthSuccess, wire.Frame{
		"userId":   u.ID,
		"username": u.Username,
	}))
}

func (rt *Router) handleCreateRoom(ctx context.Context, c *hub.Client, frame wire.ClientFrame) {
	if err := validate.RoomName(frame.RoomName); err != nil {
		c.Enqueue(wire.ErrorFrame(wire.ErrInvalidMessage, err.Error(), frame.CorrelationID, 0))
		return
	}

	u, ok := rt.users.Profile(c.UserID())
	if !ok {
		c.Enqueue(wire.ErrorFrame(wire.ErrUnauthorized, "authenticate first", frame.CorrelationID, 0))
		return
	}

	room, err := rt.rooms.CreateRoom(ctx, frame.RoomName, u.ID, u.Username)
	if errors.Is(err, store.ErrRoomExists) {
		c.Enqueue(wire.ErrorFrame(wire.ErrRoomExists, "room name already exists", frame.CorrelationID, 0))
		return
	}
	if err != nil {
		rt.log.Error(ctx, "router: create room failed: %v", err)
		c.Enqueue(wire.ErrorFrame(wire.ErrDatabaseError, "could not create room", frame.CorrelationID, 0))
		return
	}

	rt.joinClientToRoom(ctx, c, room, u)
	c.Enqueue(wire.NewFrame(wire.ServerRoomCreated, wire.Frame{"roomId": room.ID, "name": room.Name}))
}

func (rt *Router) handleJoinRoom(ctx context.Context, c *hub.Client, frame wire.ClientFrame) {
	u, ok := rt.users.Profile(c.UserID())
	if !ok {
		c.Enqueue(wire.ErrorFrame(wire.ErrUnauthorized, "authenticate first", frame.CorrelationID, 0))
		return
	}

	room, err := rt.rooms.ByName(ctx, frame.RoomName)
	if errors.Is(err, store.ErrNotFound) {
		c.Enqueue(wire.ErrorFrame(wire.ErrRoomNotFound, "room not found", frame.CorrelationID, 0))
		return
	}
	if err != nil {
		rt.log.Error(ctx, "router: lookup room failed: %v", err)
		c.Enqueue(wire.ErrorFrame(wire.ErrDatabaseError, "could not find room", frame.CorrelationID, 0))
		return
	}

	if prev := c.RoomID(); prev != uuid.Nil && prev != room.ID {
		rt.leaveRoom(ctx, c, prev, u)
	}

	joined, err := rt.rooms.Join(ctx, room.ID, u.ID, u.Username)
	if err != nil {
		rt.log.Error(ctx, "router: join room failed: %v", err)
		c.Enqueue(wire.ErrorFrame(wire.ErrDatabaseError, "could not join room", frame.CorrelationID, 0))
		return
	}

	rt.joinClientToRoom(ctx, c, joined, u)

	history, err := rt.messages.History(ctx, room.ID, historyPageSize)
	if err != nil {
		rt.log.Error(ctx, "router: load history failed: %v", err)
	}
	c.Enqueue(wire.NewFrame(wire.ServerMessageHistory, wire.Frame{"roomId": room.ID, "messages": history}))
}

// joinClientToRoom performs the local bookkeeping common to both create
// and join: registering the client with the hub, broadcasting presence,
// and acking the caller.
func (rt *Router) joinClientToRoom(ctx context.Context, c *hub.Client, room *models.Room, u *models.User) {
	rt.users.SetCurrentRoom(u.ID, room.Name)

	onEvent := func(m bus.Message) {
		var evt messages.Event
		if err := json.Unmarshal(m.Payload, &evt); err != nil {
			return
		}
		rt.hub.BroadcastLocalExcept(room.ID, wire.NewFrame(wire.ServerMessage, wire.Frame{
			"roomId":  room.ID,
			"message": evt.Message,
		}), evt.SenderConnID)
	}
	rt.hub.JoinRoomLocal(ctx, room.ID, c, onEvent)

	c.Enqueue(wire.NewFrame(wire.ServerRoomJoined, wire.Frame{
		"roomId":  room.ID,
		"name":    room.Name,
		"members": rt.rooms.Members(room.ID),
	}))
	rt.hub.BroadcastLocalExcept(room.ID, wire.NewFrame(wire.ServerUserJoined, wire.Frame{
		"roomId":   room.ID,
		"userId":   u.ID,
		"username": u.Username,
	}), c.ID())

	if _, err := rt.messages.SystemBroadcast(ctx, room.ID, u.Username+" joined the room", models.MessageKindSystem, c.ID()); err != nil && rt.log != nil {
		rt.log.Error(ctx, "router: system broadcast failed: %v", err)
	}
}

func (rt *Router) handleLeaveRoom(ctx context.Context, c *hub.Client, frame wire.ClientFrame) {
	u, ok := rt.users.Profile(c.UserID())
	if !ok {
		c.Enqueue(wire.ErrorFrame(wire.ErrUnauthorized, "authenticate first", frame.CorrelationID, 0))
		return
	}
	roomID := c.RoomID()
	if roomID == uuid.Nil {
		c.Enqueue(wire.ErrorFrame(wire.ErrRoomNotFound, "not in a room", frame.CorrelationID, 0))
		return
	}
	rt.leaveRoom(ctx, c, roomID, u)
	c.Enqueue(wire.NewFrame(wire.ServerRoomLeft, wire.Frame{"roomId": roomID}))
}

func (rt *Router) leaveRoom(ctx context.Context, c *hub.Client, roomID uuid.UUID, u *models.User) {
	if err := rt.rooms.Leave(ctx, roomID, u.ID); err != nil && rt.log != nil {
		rt.log.Error(ctx, "router: leave room failed: %v", err)
	}
	rt.hub.BroadcastLocalExcept(roomID, wire.NewFrame(wire.ServerUserLeft, wire.Frame{
		"roomId":   roomID,
		"userId":   u.ID,
		"username": u.Username,
	}), c.ID())
	rt.hub.LeaveRoomLocal(roomID, c)

	if _, err := rt.messages.SystemBroadcast(ctx, roomID, u.Username+" left the room", models.MessageKindSystem, c.ID()); err != nil && rt.log != nil {
		rt.log.Error(ctx, "router: system broadcast failed: %v", err)
	}
	rt.users.SetCurrentRoom(u.ID, "")
}

func (rt *Router) handleSendMessage(ctx context.Context, c *hub.Client, frame wire.ClientFrame) {
	u, ok := rt.users.Profile(c.UserID())
	if !ok {
		c.Enqueue(wire.ErrorFrame(wire.ErrUnauthorized, "authenticate first", frame.CorrelationID, 0))
		return
	}
	roomID := c.RoomID()
	if roomID == uuid.Nil {
		c.Enqueue(wire.ErrorFrame(wire.ErrRoomNotFound, "not in a room", frame.CorrelationID, 0))
		return
	}

	if _, err := rt.messages.Send(ctx, roomID, u.ID, u.Username, frame.Content, c.ID()); err != nil {
		if errors.Is(err, validate.ErrContentEmpty) || errors.Is(err, validate.ErrContentTooLong) ||
			errors.Is(err, validate.ErrSQLPatternDetected) || errors.Is(err, messages.ErrSpamDetected) {
			c.Enqueue(wire.ErrorFrame(wire.ErrInvalidMessage, err.Error(), frame.CorrelationID, 0))
			return
		}
		rt.log.Error(ctx, "router: send message failed: %v", err)
		c.Enqueue(wire.ErrorFrame(wire.ErrDatabaseError, "could not send message", frame.CorrelationID, 0))
		return
	}
	rt.users.IncrementMessageCount(u.ID)
}

func (rt *Router) handleTyping(ctx context.Context, c *hub.Client, frame wire.ClientFrame, typing bool) {
	u, ok := rt.users.Profile(c.UserID())
	if !ok {
		return
	}
	roomID := c.RoomID()
	if roomID == uuid.Nil {
		return
	}
	rt.rooms.SetTyping(roomID, u.ID, u.Username, typing)
	rt.hub.BroadcastLocal(roomID, wire.NewFrame(wire.ServerTypingUpdate, wire.Frame{
		"roomId": roomID,
		"typing": rt.rooms.TypingUsers(roomID),
	}))
}

// roomSummary is the projection room_list sends per entry (§6):
// {name, users, messages, createdAt}.
type roomSummary struct {
	Name      string    `json:"name"`
	Users     int       `json:"users"`
	Messages  int64     `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

const defaultRoomsCommandLimit = 20

func (rt *Router) handleCommand(ctx context.Context, c *hub.Client, frame wire.ClientFrame) {
	u, ok := rt.users.Profile(c.UserID())
	if !ok {
		c.Enqueue(wire.ErrorFrame(wire.ErrUnauthorized, "authenticate first", frame.CorrelationID, 0))
		return
	}

	switch frame.Command {
	case "rooms":
		rt.handleRoomsCommand(ctx, c, frame)
	case "users":
		roomID := c.RoomID()
		if roomID == uuid.Nil {
			c.Enqueue(wire.ErrorFrame(wire.ErrRoomNotFound, "not in a room", frame.CorrelationID, 0))
			return
		}
		members := rt.rooms.Members(roomID)
		c.Enqueue(wire.NewFrame(wire.ServerUserList, wire.Frame{"room": roomID, "users": members, "count": len(members)}))
	case "help":
		c.Enqueue(wire.NewFrame(wire.ServerNotification, wire.Frame{
			"message": "available commands: rooms [limit], users, help, stats, me, clear",
		}))
	case "stats":
		roomsList, err := rt.rooms.ListActive(ctx)
		if err != nil {
			c.Enqueue(wire.ErrorFrame(wire.ErrDatabaseError, "could not load stats", frame.CorrelationID, 0))
			return
		}
		c.Enqueue(wire.NewFrame(wire.ServerNotification, wire.Frame{
			"onlineUsers": len(rt.users.OnlineUsers()),
			"activeRooms": len(roomsList),
		}))
	case "me":
		c.Enqueue(wire.NewFrame(wire.ServerNotification, wire.Frame{
			"userId":          u.ID,
			"username":        u.Username,
			"totalMessages":   u.TotalMessages,
			"currentRoomName": u.CurrentRoomName,
		}))
	case "clear":
		c.Enqueue(wire.NewFrame(wire.ServerClearScreen, nil))
	default:
		c.Enqueue(wire.ErrorFrame(wire.ErrInvalidMessage, "unknown command", frame.CorrelationID, 0))
	}
}

func (rt *Router) handleRoomsCommand(ctx context.Context, c *hub.Client, frame wire.ClientFrame) {
	limit := defaultRoomsCommandLimit
	if len(frame.Args) > 0 {
		if n, err := strconv.Atoi(frame.Args[0]); err == nil && n > 0 {
			limit = n
		}
	}

	roomsList, err := rt.rooms.ListActive(ctx)
	if err != nil {
		c.Enqueue(wire.ErrorFrame(wire.ErrDatabaseError, "could not list rooms", frame.CorrelationID, 0))
		return
	}
	if len(roomsList) > limit {
		roomsList = roomsList[:limit]
	}

	summaries := make([]roomSummary, 0, len(roomsList))
	for _, r := range roomsList {
		summaries = append(summaries, roomSummary{
			Name:      r.Name,
			Users:     r.CurrentUsers,
			Messages:  r.MessageCount,
			CreatedAt: r.CreatedAt,
		})
	}
	c.Enqueue(wire.NewFrame(wire.ServerRoomList, wire.Frame{"rooms": summaries, "count": len(summaries)}))
}
