// Package models holds the durable data model shared by the store,
// cache, and messaging layers. These are plain structs — behavior lives
// in the owning component (store, rooms, messages), not on the struct.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a chat participant. Username is unique among currently-online
// users only; a username may be reused once its prior holder goes offline.
type User struct {
	ID              uuid.UUID `json:"userId"`
	Username        string    `json:"username"`
	CreatedAt       time.Time `json:"createdAt"`
	LastSeen        time.Time `json:"lastSeen"`
	IsOnline        bool      `json:"isOnline"`
	CurrentRoomName string    `json:"currentRoomName,omitempty"`
	TotalMessages   int64     `json:"totalMessages"`
	ConnectionCount int       `json:"connectionCount"`
	RoomsJoined     []string  `json:"roomsJoined,omitempty"`
}

// MaxRoomsJoinedTracked caps the RoomsJoined counter slice (spec: ≤50).
const MaxRoomsJoinedTracked = 50

// Room is a named multi-user broadcast domain with durable identity.
type Room struct {
	ID               uuid.UUID `json:"roomId"`
	Name             string    `json:"name"`
	CreatedBy        uuid.UUID `json:"createdBy"`
	CreatedAt        time.Time `json:"createdAt"`
	LastActivity     time.Time `json:"lastActivity"`
	IsActive         bool      `json:"isActive"`
	CurrentUsers     int       `json:"currentUsers"`
	PeakUsers        int       `json:"peakUsers"`
	MessageCount     int64     `json:"messageCount"`
	TotalUniqueUsers int       `json:"totalUniqueUsers"`
}

// Membership is the relation between a user and a room.
type Membership struct {
	RoomID         uuid.UUID  `json:"roomId"`
	UserID         uuid.UUID  `json:"userId"`
	Username       string     `json:"username"`
	JoinedAt       time.Time  `json:"joinedAt"`
	LeftAt         *time.Time `json:"leftAt,omitempty"`
	IsActive       bool       `json:"isActive"`
	MessagesInRoom int64      `json:"messagesInRoom"`
	JoinCount      int        `json:"joinCount"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
}

// MessageKind discriminates the three message kinds the protocol knows.
type MessageKind string

const (
	MessageKindUser         MessageKind = "user"
	MessageKindSystem       MessageKind = "system"
	MessageKindNotification MessageKind = "notification"
)

// Message is an immutable (save for the edited/deleted window) room post.
type Message struct {
	ID        uuid.UUID   `json:"messageId"`
	RoomID    uuid.UUID   `json:"roomId"`
	UserID    uuid.UUID   `json:"userId"`
	Username  string      `json:"username"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Seq       int64       `json:"seq"`
	Kind      MessageKind `json:"kind"`
	Edited    bool        `json:"edited"`
	EditedAt  *time.Time  `json:"editedAt,omitempty"`
}

// EditWindow is how long after send a message may still be edited/deleted.
const EditWindow = 5 * time.Minute

// TypingEntry is one user's typing state inside a room's ephemeral
// TypingSet; it expires TypingTTL after LastSeen unless refreshed.
type TypingEntry struct {
	UserID   uuid.UUID
	Username string
	LastSeen time.Time
}

// TypingTTL is how long a typing_start holds without a refresh before the
// user is treated as no longer typing.
const TypingTTL = 3 * time.Second
