package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/multi-rooms-chat-back/internal/models"
)

// Memory is an in-process DurableStore used by component tests so they
// don't need a live Postgres instance.
type Memory struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*models.User
	usersByName map[string]uuid.UUID
	rooms       map[uuid.UUID]*models.Room
	roomsByName map[string]uuid.UUID
	memberships map[uuid.UUID]map[uuid.UUID]*models.Membership // roomID -> userID -> membership
	messages    map[uuid.UUID]*models.Message
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[uuid.UUID]*models.User),
		usersByName: make(map[string]uuid.UUID),
		rooms:       make(map[uuid.UUID]*models.Room),
		roomsByName: make(map[string]uuid.UUID),
		memberships: make(map[uuid.UUID]map[uuid.UUID]*models.Membership),
		messages:    make(map[uuid.UUID]*models.Message),
	}
}

func (m *Memory) Close() {}

func (m *Memory) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	m.usersByName[u.Username] = u.ID
	return nil
}

func (m *Memory) TouchUserSeen(_ context.Context, userID uuid.UUID, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastSeen = time.Now()
		u.IsOnline = online
	}
	return nil
}

func (m *Memory) UserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.usersByName[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *Memory) IncrementUserMessageCount(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.TotalMessages++
	}
	return nil
}

func (m *Memory) CreateRoom(_ context.Context, r *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.roomsByName[r.Name]; ok {
		if room := m.rooms[id]; room.IsActive {
			return ErrRoomExists
		}
	}
	cp := *r
	cp.IsActive = true
	cp.CurrentUsers = 1
	cp.PeakUsers = 1
	m.rooms[r.ID] = &cp
	m.roomsByName[r.Name] = r.ID
	return nil
}

func (m *Memory) RoomByName(_ context.Context, name string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.roomsByName[name]
	if !ok || !m.rooms[id].IsActive {
		return nil, ErrNotFound
	}
	cp := *m.rooms[id]
	return &cp, nil
}

func (m *Memory) RoomByID(_ context.Context, id uuid.UUID) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) ListActiveRooms(_ context.Context) ([]*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Room
	for _, r := range m.rooms {
		if r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (m *Memory) UpdateRoomActivity(_ context.Context, roomID uuid.UUID, currentUsers, peakUsers int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[roomID]; ok {
		r.LastActivity = time.Now()
		r.CurrentUsers = currentUsers
		if peakUsers > r.PeakUsers {
			r.PeakUsers = peakUsers
		}
	}
	return nil
}

func (m *Memory) DeactivateRoom(_ context.Context, roomID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[roomID]; ok {
		r.IsActive = false
		r.CurrentUsers = 0
	}
	return nil
}

func (m *Memory) UpsertMembership(_ context.Context, ms *models.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser, ok := m.memberships[ms.RoomID]
	if !ok {
		byUser = make(map[uuid.UUID]*models.Membership)
		m.memberships[ms.RoomID] = byUser
	}
	existing, ok := byUser[ms.UserID]
	if ok {
		existing.IsActive = true
		existing.JoinedAt = ms.JoinedAt
		existing.LeftAt = nil
		existing.JoinCount++
		return nil
	}
	cp := *ms
	cp.IsActive = true
	cp.JoinCount = 1
	byUser[ms.UserID] = &cp
	return nil
}

func (m *Memory) EndMembership(_ context.Context, roomID, userID uuid.UUID, leftAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byUser, ok := m.memberships[roomID]; ok {
		if ms, ok := byUser[userID]; ok {
			ms.IsActive = false
			t := leftAt
			ms.LeftAt = &t
		}
	}
	return nil
}

func (m *Memory) IncrementMembershipMessageCount(_ context.Context, roomID, userID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byUser, ok := m.memberships[roomID]; ok {
		if ms, ok := byUser[userID]; ok {
			ms.MessagesInRoom++
			t := at
			ms.LastMessageAt = &t
		}
	}
	return nil
}

func (m *Memory) MembersOf(_ context.Context, roomID uuid.UUID) ([]*models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Membership
	for _, ms := range m.memberships[roomID] {
		if ms.IsActive {
			cp := *ms
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) NextSeq(_ context.Context, roomID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return 0, ErrNotFound
	}
	r.MessageCount++
	return r.MessageCount, nil
}

func (m *Memory) InsertMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *Memory) RecentMessages(_ context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Message
	for _, msg := range m.messages {
		if msg.RoomID == roomID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) EditMessage(_ context.Context, messageID uuid.UUID, newContent string, editedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.Content = newContent
	msg.Edited = true
	t := editedAt
	msg.EditedAt = &t
	return nil
}

func (m *Memory) DeleteMessage(_ context.Context, messageID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, messageID)
	return nil
}

func (m *Memory) MessageByID(_ context.Context, messageID uuid.UUID) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *Memory) PurgeInactiveRooms(_ context.Context, inactiveFor time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-inactiveFor)
	var n int64
	for _, r := range m.rooms {
		if r.IsActive && r.CurrentUsers == 0 && r.LastActivity.Before(cutoff) {
			r.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *Memory) PurgeOldMessages(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for id, msg := range m.messages {
		if msg.Timestamp.Before(cutoff) {
			delete(m.messages, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) PurgeInactiveUsers(_ context.Context, inactiveFor time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-inactiveFor)
	var n int64
	for id, u := range m.users {
		if !u.IsOnline && u.LastSeen.Before(cutoff) {
			delete(m.users, id)
			delete(m.usersByName, u.Username)
			n++
		}
	}
	return n, nil
}

func (m *Memory) PurgeInactiveMemberships(_ context.Context, inactiveFor time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-inactiveFor)
	var n int64
	for _, byUser := range m.memberships {
		for userID, mem := range byUser {
			if !mem.IsActive && mem.LeftAt != nil && mem.LeftAt.Before(cutoff) {
				delete(byUser, userID)
				n++
			}
		}
	}
	return n, nil
}

var _ DurableStore = (*Memory)(nil)
