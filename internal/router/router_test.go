package router

import (
	"context"
	"testing"
	"time"

	"github.com/dukepan/multi-rooms-chat-back/internal/bus"
	"github.com/dukepan/multi-rooms-chat-back/internal/hub"
	"github.com/dukepan/multi-rooms-chat-back/internal/logging"
	"github.com/dukepan/multi-rooms-chat-back/internal/messages"
	"github.com/dukepan/multi-rooms-chat-back/internal/ratelimit"
	"github.com/dukepan/multi-rooms-chat-back/internal/rooms"
	"github.com/dukepan/multi-rooms-chat-back/internal/store"
	"github.com/dukepan/multi-rooms-chat-back/internal/users"
	"github.com/dukepan/multi-rooms-chat-back/internal/wire"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	db := store.NewMemory()
	b := bus.NewLocalBus()
	log := logging.New("error")
	h := hub.New(b, log)
	u := users.New(db, nil)
	r := rooms.New(db, nil, rooms.DefaultConfig())
	m := messages.New(db, nil, b)
	l := ratelimit.New()
	t.Cleanup(func() { r.Close(); l.Close() })

	rt := New(h, u, r, m, l, log)
	h.SetHandler(rt.Handler())
	h.SetDisconnectHandler(rt.DisconnectHandler())
	return rt
}

func recvFrame(t *testing.T, c *hub.Client) wire.Frame {
	t.Helper()
	select {
	case f := <-c.Outbox():
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func TestUnauthenticatedFrameRejected(t *testing.T) {
	rt := newTestRouter(t)
	c := hub.NewTestClient("conn-1")

	rt.Dispatch(context.Background(), c, wire.ClientFrame{Type: wire.ClientSendMessage, Content: "hi"})

	frame := recvFrame(t, c)
	if frame["type"] != wire.ServerError {
		t.Fatalf("expected error frame, got %+v", frame)
	}
}

func TestAuthThenCreateRoomThenSendMessage(t *testing.T) {
	rt := newTestRouter(t)
	c := hub.NewTestClient("conn-1")

	rt.Dispatch(context.Background(), c, wire.ClientFrame{Type: wire.ClientAuth, Username: "alice"})
	authFrame := recvFrame(t, c)
	if authFrame["type"] != wire.ServerAuthSuccess {
		t.Fatalf("expected auth_success, got %+v", authFrame)
	}

	rt.Dispatch(context.Background(), c, wire.ClientFrame{Type: wire.ClientCreateRoom, RoomName: "general"})
	joinedFrame := recvFrame(t, c)
	if joinedFrame["type"] != wire.ServerRoomJoined {
		t.Fatalf("expected room_joined, got %+v", joinedFrame)
	}
	createdFrame := recvFrame(t, c)
	if createdFrame["type"] != wire.ServerRoomCreated {
		t.Fatalf("expected room_created, got %+v", createdFrame)
	}

	rt.Dispatch(context.Background(), c, wire.ClientFrame{Type: wire.ClientSendMessage, Content: "hello room"})
	select {
	case frame := <-c.Outbox():
		t.Fatalf("sender should not receive its own message back, got %+v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestSendMessageExcludesSenderFromFanOut exercises the Fan-out
// invariant end to end: a send_message that succeeds produces exactly
// one message frame, delivered to every other active member and never
// to the sender's own socket.
func TestSendMessageExcludesSenderFromFanOut(t *testing.T) {
	rt := newTestRouter(t)
	alice := hub.NewTestClient("conn-alice")
	bob := hub.NewTestClient("conn-bob")

	rt.Dispatch(context.Background(), alice, wire.ClientFrame{Type: wire.ClientAuth, Username: "alice"})
	recvFrame(t, alice)
	rt.Dispatch(context.Background(), alice, wire.ClientFrame{Type: wire.ClientCreateRoom, RoomName: "general"})
	recvFrame(t, alice) // room_joined
	recvFrame(t, alice) // room_created

	rt.Dispatch(context.Background(), bob, wire.ClientFrame{Type: wire.ClientAuth, Username: "bob"})
	recvFrame(t, bob)
	rt.Dispatch(context.Background(), bob, wire.ClientFrame{Type: wire.ClientJoinRoom, RoomName: "general"})
	recvFrame(t, bob) // room_joined
	recvFrame(t, bob) // message_history
	userJoined := recvFrame(t, alice)
	if userJoined["type"] != wire.ServerUserJoined {
		t.Fatalf("expected user_joined for bob, got %+v", userJoined)
	}
	recvFrame(t, alice) // system announcement: "bob joined the room"

	select {
	case frame := <-bob.Outbox():
		t.Fatalf("joiner bob should not receive a user_joined about itself, got %+v", frame)
	case <-time.After(100 * time.Millisecond):
	}

	rt.Dispatch(context.Background(), bob, wire.ClientFrame{Type: wire.ClientSendMessage, Content: "hi"})

	msgFrame := recvFrame(t, alice)
	if msgFrame["type"] != wire.ServerMessage {
		t.Fatalf("expected message frame at alice, got %+v", msgFrame)
	}

	select {
	case frame := <-bob.Outbox():
		t.Fatalf("sender bob should not receive its own message back, got %+v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCreateDuplicateRoomNameRejected(t *testing.T) {
	rt := newTestRouter(t)
	c1 := hub.NewTestClient("conn-1")
	c2 := hub.NewTestClient("conn-2")

	rt.Dispatch(context.Background(), c1, wire.ClientFrame{Type: wire.ClientAuth, Username: "alice"})
	recvFrame(t, c1)
	rt.Dispatch(context.Background(), c1, wire.ClientFrame{Type: wire.ClientCreateRoom, RoomName: "general"})
	recvFrame(t, c1) // room_joined
	recvFrame(t, c1) // room_created

	rt.Dispatch(context.Background(), c2, wire.ClientFrame{Type: wire.ClientAuth, Username: "bob"})
	recvFrame(t, c2)
	rt.Dispatch(context.Background(), c2, wire.ClientFrame{Type: wire.ClientCreateRoom, RoomName: "general"})
	errFrame := recvFrame(t, c2)
	if errFrame["type"] != wire.ServerError {
		t.Fatalf("expected error frame for duplicate room name, got %+v", errFrame)
	}
}

func TestRateLimitBlocksExcessMessages(t *testing.T) {
	rt := newTestRouter(t)
	c := hub.NewTestClient("conn-1")
	listener := hub.NewTestClient("conn-2")

	rt.Dispatch(context.Background(), c, wire.ClientFrame{Type: wire.ClientAuth, Username: "alice"})
	recvFrame(t, c)
	rt.Dispatch(context.Background(), c, wire.ClientFrame{Type: wire.ClientCreateRoom, RoomName: "general"})
	recvFrame(t, c) // room_joined
	recvFrame(t, c) // room_created

	rt.Dispatch(context.Background(), listener, wire.ClientFrame{Type: wire.ClientAuth, Username: "bob"})
	recvFrame(t, listener)
	rt.Dispatch(context.Background(), listener, wire.ClientFrame{Type: wire.ClientJoinRoom, RoomName: "general"})
	recvFrame(t, listener) // room_joined
	recvFrame(t, listener) // message_history
	recvFrame(t, c)        // user_joined for bob
	recvFrame(t, c)        // system announcement: "bob joined the room"

	for i := 0; i < 10; i++ {
		rt.Dispatch(context.Background(), c, wire.ClientFrame{Type: wire.ClientSendMessage, Content: "hi"})
		recvFrame(t, listener)
	}

	rt.Dispatch(context.Background(), c, wire.ClientFrame{Type: wire.ClientSendMessage, Content: "one too many"})
	errFrame := recvFrame(t, c)
	if errFrame["type"] != wire.ServerError {
		t.Fatalf("expected rate limit error frame, got %+v", errFrame)
	}
	if errObj, ok := errFrame["error"].(wire.Frame); ok {
		if errObj["code"] != wire.ErrRateLimit {
			t.Fatalf("expected RATE_LIMIT code, got %+v", errObj)
		}
	}
}
