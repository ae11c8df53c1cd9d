package rooms

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/multi-rooms-chat-back/internal/store"
)

func newTestRegistry() (*Registry, store.DurableStore) {
	db := store.NewMemory()
	r := New(db, nil, DefaultConfig())
	return r, db
}

func TestCreateRoomThenDuplicateNameRejected(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()
	creator := uuid.New()

	if _, err := r.CreateRoom(ctx, "general", creator, "alice"); err != nil {
		t.Fatalf("unexpected error creating room: %v", err)
	}

	if _, err := r.CreateRoom(ctx, "general", uuid.New(), "bob"); err != store.ErrRoomExists {
		t.Fatalf("expected ErrRoomExists, got %v", err)
	}
}

func TestJoinAndLeaveDeactivatesEmptyRoom(t *testing.T) {
	r, db := newTestRegistry()
	defer r.Close()
	ctx := context.Background()
	creator := uuid.New()

	room, err := r.CreateRoom(ctx, "lobby", creator, "alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	if err := r.Leave(ctx, room.ID, creator); err != nil {
		t.Fatalf("leave room: %v", err)
	}

	stored, err := db.RoomByID(ctx, room.ID)
	if err != nil {
		t.Fatalf("lookup room: %v", err)
	}
	if stored.IsActive {
		t.Fatal("expected room to be deactivated once its last member left")
	}
}

func TestTypingIndicatorExpires(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()
	creator := uuid.New()

	room, err := r.CreateRoom(ctx, "typing-room", creator, "alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	r.SetTyping(room.ID, creator, "alice", true)
	if users := r.TypingUsers(room.ID); len(users) != 1 {
		t.Fatalf("expected one typing user, got %v", users)
	}

	r.mu.Lock()
	rm := r.byID[room.ID]
	rm.typing[creator].LastSeen = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	if users := r.TypingUsers(room.ID); len(users) != 0 {
		t.Fatalf("expected typing indicator to have expired, got %v", users)
	}
}

func TestByNameRejectsDeactivatedRoom(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()
	creator := uuid.New()
	other := uuid.New()

	room, err := r.CreateRoom(ctx, "general", creator, "alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := r.Join(ctx, room.ID, other, "bob"); err != nil {
		t.Fatalf("join room: %v", err)
	}
	if err := r.Leave(ctx, room.ID, creator); err != nil {
		t.Fatalf("leave room: %v", err)
	}
	if err := r.Leave(ctx, room.ID, other); err != nil {
		t.Fatalf("leave room: %v", err)
	}

	if _, err := r.ByName(ctx, "general"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound for a deactivated room, got %v", err)
	}
}

func TestJoinUnknownRoomFails(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	if _, err := r.Join(ctx, uuid.New(), uuid.New(), "ghost"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown room, got %v", err)
	}
}
