// Package store defines component C5, the durable store abstraction,
// and its PostgreSQL implementation. Every other component talks to the
// DurableStore interface, never to pgx directly, so tests can substitute
// an in-memory fake.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/multi-rooms-chat-back/internal/models"
)

// ErrRoomExists is returned by CreateRoom when the room name is already
// taken by an active room — the wire-level ROOM_EXISTS sentinel.
var ErrRoomExists = errors.New("store: room name already exists")

// ErrNotFound is returned when a lookup by ID or name finds nothing.
var ErrNotFound = errors.New("store: not found")

// DurableStore is the persistence boundary for all entities the chat
// server owns. Every method takes a context, through which the caller
// can bound its latency.
type DurableStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	TouchUserSeen(ctx context.Context, userID uuid.UUID, online bool) error
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	IncrementUserMessageCount(ctx context.Context, userID uuid.UUID) error

	CreateRoom(ctx context.Context, r *models.Room) error
	RoomByName(ctx context.Context, name string) (*models.Room, error)
	RoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ListActiveRooms(ctx context.Context) ([]*models.Room, error)
	UpdateRoomActivity(ctx context.Context, roomID uuid.UUID, currentUsers, peakUsers int) error
	DeactivateRoom(ctx context.Context, roomID uuid.UUID) error

	UpsertMembership(ctx context.Context, m *models.Membership) error
	EndMembership(ctx context.Context, roomID, userID uuid.UUID, leftAt time.Time) error
	MembersOf(ctx context.Context, roomID uuid.UUID) ([]*models.Membership, error)
	IncrementMembershipMessageCount(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error

	InsertMessage(ctx context.Context, m *models.Message) error
	NextSeq(ctx context.Context, roomID uuid.UUID) (int64, error)
	RecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error)
	EditMessage(ctx context.Context, messageID uuid.UUID, newContent string, editedAt time.Time) error
	DeleteMessage(ctx context.Context, messageID uuid.UUID) error
	MessageByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error)

	PurgeInactiveRooms(ctx context.Context, inactiveFor time.Duration) (int64, error)
	PurgeOldMessages(ctx context.Context, olderThan time.Duration) (int64, error)
	PurgeInactiveUsers(ctx context.Context, inactiveFor time.Duration) (int64, error)
	PurgeInactiveMemberships(ctx context.Context, inactiveFor time.Duration) (int64, error)

	Close()
}
