package messages

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/multi-rooms-chat-back/internal/models"
	"github.com/dukepan/multi-rooms-chat-back/internal/store"
)

func newTestService(t *testing.T) (*Service, store.DurableStore, *models.Room) {
	t.Helper()
	db := store.NewMemory()
	ctx := context.Background()
	room := &models.Room{ID: uuid.New(), Name: "general", CreatedBy: uuid.New(), CreatedAt: time.Now(), LastActivity: time.Now()}
	if err := db.CreateRoom(ctx, room); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	return New(db, nil, nil), db, room
}

func TestSendPersistsAndAssignsSeq(t *testing.T) {
	svc, _, room := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.Send(ctx, room.ID, userID, "alice", "hello there")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	second, err := svc.Send(ctx, room.ID, userID, "alice", "hello again")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if second.Seq <= first.Seq {
		t.Fatalf("expected increasing seq, got %d then %d", first.Seq, second.Seq)
	}
}

func TestSendRejectsEmptyContent(t *testing.T) {
	svc, _, room := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Send(ctx, room.ID, uuid.New(), "alice", "   "); err == nil {
		t.Fatal("expected error for blank content")
	}
}

func TestEditWithinWindowSucceeds(t *testing.T) {
	svc, _, room := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	msg, err := svc.Send(ctx, room.ID, userID, "alice", "original")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	edited, err := svc.Edit(ctx, msg.ID, userID, "corrected")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !edited.Edited || edited.Content != "corrected" {
		t.Fatalf("expected edited content, got %+v", edited)
	}
}

func TestEditByNonAuthorRejected(t *testing.T) {
	svc, _, room := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	msg, err := svc.Send(ctx, room.ID, userID, "alice", "original")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := svc.Edit(ctx, msg.ID, uuid.New(), "hijacked"); err != ErrNotAuthor {
		t.Fatalf("expected ErrNotAuthor, got %v", err)
	}
}

func TestEditAfterWindowRejected(t *testing.T) {
	svc, db, room := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	msg, err := svc.Send(ctx, room.ID, userID, "alice", "original")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	stale, err := db.MessageByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	stale.Timestamp = time.Now().Add(-models.EditWindow - time.Minute)
	if err := db.InsertMessage(ctx, stale); err != nil {
		t.Fatalf("reinsert: %v", err)
	}

	if _, err := svc.Edit(ctx, msg.ID, userID, "too late"); err != ErrEditWindowExpired {
		t.Fatalf("expected ErrEditWindowExpired, got %v", err)
	}
}

func TestSystemBroadcastEphemeralNotPersisted(t *testing.T) {
	svc, db, room := newTestService(t)
	ctx := context.Background()

	msg, err := svc.SystemBroadcast(ctx, room.ID, "alice joined the room", models.MessageKindSystem)
	if err != nil {
		t.Fatalf("system broadcast: %v", err)
	}
	if msg.Kind != models.MessageKindSystem {
		t.Fatalf("expected kind=system, got %v", msg.Kind)
	}
	if _, err := db.MessageByID(ctx, msg.ID); err != store.ErrNotFound {
		t.Fatalf("expected an ephemeral system message to be absent from the store, got %v", err)
	}
}

func TestSystemBroadcastNotificationPersisted(t *testing.T) {
	svc, db, room := newTestService(t)
	ctx := context.Background()

	msg, err := svc.SystemBroadcast(ctx, room.ID, "room will be archived soon", models.MessageKindNotification)
	if err != nil {
		t.Fatalf("system broadcast: %v", err)
	}

	stored, err := db.MessageByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("expected a notification message to be persisted: %v", err)
	}
	if stored.Kind != models.MessageKindNotification {
		t.Fatalf("expected stored kind=notification, got %v", stored.Kind)
	}
}

func TestHistoryReturnsOldestFirst(t *testing.T) {
	svc, _, room := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := svc.Send(ctx, room.ID, userID, "alice", "message"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	history, err := svc.History(ctx, room.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Seq <= history[i-1].Seq {
			t.Fatalf("expected ascending seq order, got %v", history)
		}
	}
}
