// Package messages implements component C9: the validate → sanitize →
// persist → invalidate → publish pipeline for chat messages, plus the
// bounded edit/delete window. Grounded in the teacher's
// persistence.MessageWriter, replacing its batched-write buffer with a
// synchronous write per message (the spec gives no batching
// requirement, and a synchronous write keeps send() failure modes
// visible to the caller).
package messages

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/multi-rooms-chat-back/internal/bus"
	"github.com/dukepan/multi-rooms-chat-back/internal/cache"
	"github.com/dukepan/multi-rooms-chat-back/internal/metrics"
	"github.com/dukepan/multi-rooms-chat-back/internal/models"
	"github.com/dukepan/multi-rooms-chat-back/internal/store"
	"github.com/dukepan/multi-rooms-chat-back/internal/validate"
)

// ErrEditWindowExpired is returned by Edit/Delete once EditWindow has
// passed since the message was sent.
var ErrEditWindowExpired = errors.New("messages: edit window expired")

// ErrNotAuthor is returned when a caller attempts to edit or delete a
// message it did not author.
var ErrNotAuthor = errors.New("messages: not the message author")

// ErrSpamDetected is returned by Send when content's spam score meets
// validate.SpamThreshold.
var ErrSpamDetected = errors.New("messages: content flagged as spam")

// spamLookback bounds how many recent messages in the room are checked
// for an exact duplicate when scoring a new message for spam (spec
// §4.4 heuristic (c)).
const spamLookback = 20

// RoomChannel is the bus channel a room's messages are published on.
func RoomChannel(roomID uuid.UUID) string {
	return "room:" + roomID.String() + ":messages"
}

// Event is what gets published to RoomChannel on send/edit/delete.
// SenderConnID, when set, names the connection that originated the
// write so the hub can exclude it from the local fan-out — the sender
// already has the result from its own request/response flow and must
// not also receive it as a broadcast (see the Fan-out invariant).
type Event struct {
	Kind         string          `json:"kind"` // "sent", "edited", "deleted"
	Message      *models.Message `json:"message"`
	SenderConnID string          `json:"senderConnId,omitempty"`
}

// Service implements component C9.
type Service struct {
	db    store.DurableStore
	cache *cache.Cache
	bus   bus.Bus
}

// New constructs a Service.
func New(db store.DurableStore, c *cache.Cache, b bus.Bus) *Service {
	return &Service{db: db, cache: c, bus: b}
}

// Send validates and sanitizes content, persists it with the room's next
// sequence number, invalidates the room's cached history, and publishes
// the event for every node with a live subscriber.
func (s *Service) Send(ctx context.Context, roomID, userID uuid.UUID, username, content string, senderConnID ...string) (*models.Message, error) {
	if err := validate.Content(content); err != nil {
		return nil, err
	}
	clean, err := validate.Sanitize(content)
	if err != nil {
		return nil, err
	}
	if err := validate.Content(clean); err != nil {
		return nil, err
	}

	recent, err := s.db.RecentMessages(ctx, roomID, spamLookback)
	if err == nil {
		recentContents := make([]string, len(recent))
		for i, m := range recent {
			recentContents[i] = m.Content
		}
		if validate.IsSpam(validate.SpamScore(clean, recentContents)) {
			return nil, ErrSpamDetected
		}
	}

	seq, err := s.db.NextSeq(ctx, roomID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		UserID:    userID,
		Username:  username,
		Content:   clean,
		Timestamp: time.Now(),
		Seq:       seq,
		Kind:      models.MessageKindUser,
	}
	if err := s.db.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	_ = s.db.IncrementUserMessageCount(ctx, userID)
	_ = s.db.IncrementMembershipMessageCount(ctx, roomID, userID, msg.Timestamp)

	s.afterWrite(ctx, roomID, "sent", msg, firstOrEmpty(senderConnID))
	return msg, nil
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// SystemBroadcast publishes a server-authored message (join / leave /
// room-level announcements) bypassing author-oriented validation, since
// the server itself is the author. It is persisted to history only when
// kind is MessageKindNotification; a MessageKindSystem announcement is
// ephemeral and published to the room channel without a row in the
// store, matching the distinction the protocol draws between the two.
func (s *Service) SystemBroadcast(ctx context.Context, roomID uuid.UUID, content string, kind models.MessageKind, excludeConnID ...string) (*models.Message, error) {
	seq, err := s.db.NextSeq(ctx, roomID)
	if err != nil {
		return nil, err
	}
	msg := &models.Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		Content:   content,
		Timestamp: time.Now(),
		Seq:       seq,
		Kind:      kind,
	}
	if kind == models.MessageKindNotification {
		if err := s.db.InsertMessage(ctx, msg); err != nil {
			return nil, err
		}
	}
	s.afterWrite(ctx, roomID, "sent", msg, firstOrEmpty(excludeConnID))
	return msg, nil
}

func (s *Service) afterWrite(ctx context.Context, roomID uuid.UUID, kind string, msg *models.Message, senderConnID string) {
	if kind == "sent" {
		metrics.MessagesSent.WithLabelValues(string(msg.Kind)).Inc()
	}
	if s.cache != nil {
		s.cache.InvalidateTag(ctx, "room:"+roomID.String())
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, RoomChannel(roomID), Event{Kind: kind, Message: msg, SenderConnID: senderConnID})
	}
}

// History returns up to limit of the most recent messages in roomID,
// oldest first, checking the cache before falling through to the store.
func (s *Service) History(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error) {
	key := "history:" + roomID.String()
	if s.cache != nil {
		var cached []*models.Message
		if s.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	msgs, err := s.db.RecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, msgs, time.Minute, "room:"+roomID.String())
	}
	return msgs, nil
}

// Edit rewrites messageID's content, enforcing EditWindow and authorship.
func (s *Service) Edit(ctx context.Context, messageID, userID uuid.UUID, newContent string) (*models.Message, error) {
	msg, err := s.db.MessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.UserID != userID {
		return nil, ErrNotAuthor
	}
	if time.Since(msg.Timestamp) > models.EditWindow {
		return nil, ErrEditWindowExpired
	}
	if err := validate.Content(newContent); err != nil {
		return nil, err
	}
	clean, err := validate.Sanitize(newContent)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.db.EditMessage(ctx, messageID, clean, now); err != nil {
		return nil, err
	}
	msg.Content = clean
	msg.Edited = true
	msg.EditedAt = &now

	s.afterWrite(ctx, msg.RoomID, "edited", msg, "")
	return msg, nil
}

// Delete removes messageID, enforcing EditWindow and authorship.
func (s *Service) Delete(ctx context.Context, messageID, userID uuid.UUID) error {
	msg, err := s.db.MessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.UserID != userID {
		return ErrNotAuthor
	}
	if time.Since(msg.Timestamp) > models.EditWindow {
		return ErrEditWindowExpired
	}
	if err := s.db.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	s.afterWrite(ctx, msg.RoomID, "deleted", msg, "")
	return nil
}
