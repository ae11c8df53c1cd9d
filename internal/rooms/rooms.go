// Package rooms implements component C8, the room registry: named
// creation guarded against duplicate-name races, membership tracking,
// ephemeral typing indicators with a TTL, and LRU eviction of rooms that
// go cold (no members, no activity) for too long. Grounded in the
// teacher's rooms.Manager, generalized from its hardcoded lobby model to
// arbitrary named rooms.
package rooms

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/multi-rooms-chat-back/internal/cache"
	"github.com/dukepan/multi-rooms-chat-back/internal/metrics"
	"github.com/dukepan/multi-rooms-chat-back/internal/models"
	"github.com/dukepan/multi-rooms-chat-back/internal/store"
)

// room is the in-memory live state for one room; models.Room carries the
// durable projection.
type room struct {
	info    models.Room
	members map[uuid.UUID]*models.Membership
	typing  map[uuid.UUID]*models.TypingEntry
	lruElem *list.Element
}

// Registry is the live room table. All mutation goes through its
// exported methods, which serialize access internally; callers never
// lock a room directly.
type Registry struct {
	db    store.DurableStore
	cache *cache.Cache

	mu       sync.Mutex
	byID     map[uuid.UUID]*room
	byName   map[string]uuid.UUID
	creating map[string]struct{} // names currently mid-CreateRoom

	lru      *list.List // front = most recently active
	maxCold  int
	idleTTL  time.Duration
	stopOnce sync.Once
	stop     chan struct{}
}

// Config tunes eviction behavior.
type Config struct {
	MaxColdRooms int           // cold (empty) rooms kept before LRU eviction kicks in
	IdleTTL      time.Duration // how long an empty room survives before eviction regardless of count
}

func DefaultConfig() Config {
	return Config{MaxColdRooms: 200, IdleTTL: 30 * time.Minute}
}

// New constructs a Registry and starts its eviction sweeper.
func New(db store.DurableStore, c *cache.Cache, cfg Config) *Registry {
	if cfg.MaxColdRooms <= 0 {
		cfg = DefaultConfig()
	}
	r := &Registry{
		db:       db,
		cache:    c,
		byID:     make(map[uuid.UUID]*room),
		byName:   make(map[string]uuid.UUID),
		creating: make(map[string]struct{}),
		lru:      list.New(),
		maxCold:  cfg.MaxColdRooms,
		idleTTL:  cfg.IdleTTL,
		stop:     make(chan struct{}),
	}
	go r.sweeper()
	return r
}

func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) sweeper() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.evictCold()
		case <-r.stop:
			return
		}
	}
}

// CreateRoom creates a new active room named `name`. A second caller
// racing on the same name, whether mid-creation or already persisted,
// gets store.ErrRoomExists. The per-name "creating" set closes the
// window between the in-memory check and the durable insert.
func (r *Registry) CreateRoom(ctx context.Context, name string, creatorID uuid.UUID, creatorUsername string) (*models.Room, error) {
	r.mu.Lock()
	if _, ok := r.byName[name]; ok {
		r.mu.Unlock()
		return nil, store.ErrRoomExists
	}
	if _, ok := r.creating[name]; ok {
		r.mu.Unlock()
		return nil, store.ErrRoomExists
	}
	r.creating[name] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.creating, name)
		r.mu.Unlock()
	}()

	now := time.Now()
	info := &models.Room{
		ID:           uuid.New(),
		Name:         name,
		CreatedBy:    creatorID,
		CreatedAt:    now,
		LastActivity: now,
		IsActive:     true,
		CurrentUsers: 1,
		PeakUsers:    1,
	}
	if err := r.db.CreateRoom(ctx, info); err != nil {
		return nil, err
	}
	membership := &models.Membership{RoomID: info.ID, UserID: creatorID, Username: creatorUsername, JoinedAt: now}
	if err := r.db.UpsertMembership(ctx, membership); err != nil {
		return nil, err
	}

	r.mu.Lock()
	rm := &room{
		info:    *info,
		members: map[uuid.UUID]*models.Membership{creatorID: membership},
		typing:  make(map[uuid.UUID]*models.TypingEntry),
	}
	rm.lruElem = r.lru.PushFront(info.ID)
	r.byID[info.ID] = rm
	r.byName[name] = info.ID
	r.mu.Unlock()
	metrics.RoomsActive.Inc()

	out := *info
	return &out, nil
}

// Join adds userID/username to roomID's membership set, creating a
// lazily-loaded in-memory room entry from the durable record if this
// node hasn't seen the room yet (e.g. it was created on another node).
func (r *Registry) Join(ctx context.Context, roomID uuid.UUID, userID uuid.UUID, username string) (*models.Room, error) {
	rm, err := r.load(ctx, roomID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r.mu.Lock()
	if _, already := rm.members[userID]; !already {
		rm.members[userID] = &models.Membership{RoomID: roomID, UserID: userID, Username: username, JoinedAt: now}
		rm.info.CurrentUsers = len(rm.members)
		if rm.info.CurrentUsers > rm.info.PeakUsers {
			rm.info.PeakUsers = rm.info.CurrentUsers
		}
	}
	rm.info.LastActivity = now
	r.lru.MoveToFront(rm.lruElem)
	out := rm.info
	r.mu.Unlock()

	if err := r.db.UpsertMembership(ctx, &models.Membership{RoomID: roomID, UserID: userID, Username: username, JoinedAt: now}); err != nil {
		return nil, err
	}
	_ = r.db.UpdateRoomActivity(ctx, roomID, out.CurrentUsers, out.PeakUsers)
	if r.cache != nil {
		r.cache.InvalidateTag(ctx, "room:"+roomID.String())
	}
	return &out, nil
}

// Leave removes userID from roomID's membership set. If the room has no
// members left it is deactivated immediately rather than waiting for
// the idle sweeper, matching spec's "last member leaving deactivates
// the room" rule.
func (r *Registry) Leave(ctx context.Context, roomID uuid.UUID, userID uuid.UUID) error {
	r.mu.Lock()
	rm, ok := r.byID[roomID]
	if !ok {
		r.mu.Unlock()
		return store.ErrNotFound
	}
	delete(rm.members, userID)
	delete(rm.typing, userID)
	rm.info.CurrentUsers = len(rm.members)
	current, peak := rm.info.CurrentUsers, rm.info.PeakUsers
	empty := current == 0
	r.mu.Unlock()

	now := time.Now()
	if err := r.db.EndMembership(ctx, roomID, userID, now); err != nil {
		return err
	}
	_ = r.db.UpdateRoomActivity(ctx, roomID, current, peak)
	if empty {
		_ = r.db.DeactivateRoom(ctx, roomID)
		r.mu.Lock()
		wasActive := rm.info.IsActive
		rm.info.IsActive = false
		// Drop the name-cache entry so a subsequent lookup by name falls
		// through to the durable store, which only resolves active rooms
		// (spec 4.8: "drop name-cache entry" on the last member leaving).
		if id, ok := r.byName[rm.info.Name]; ok && id == roomID {
			delete(r.byName, rm.info.Name)
		}
		r.mu.Unlock()
		if wasActive {
			metrics.RoomsActive.Dec()
		}
	}
	if r.cache != nil {
		r.cache.InvalidateTag(ctx, "room:"+roomID.String())
	}
	return nil
}

// SetTyping records or clears a typing indicator for userID in roomID.
func (r *Registry) SetTyping(roomID, userID uuid.UUID, username string, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.byID[roomID]
	if !ok {
		return
	}
	if !typing {
		delete(rm.typing, userID)
		return
	}
	rm.typing[userID] = &models.TypingEntry{UserID: userID, Username: username, LastSeen: time.Now()}
}

// TypingUsers returns the usernames currently typing in roomID, pruning
// any entry whose TTL has lapsed.
func (r *Registry) TypingUsers(roomID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.byID[roomID]
	if !ok {
		return nil
	}
	cutoff := time.Now().Add(-models.TypingTTL)
	var out []string
	for id, t := range rm.typing {
		if t.LastSeen.Before(cutoff) {
			delete(rm.typing, id)
			continue
		}
		out = append(out, t.Username)
	}
	return out
}

// Members returns a snapshot of roomID's active membership.
func (r *Registry) Members(roomID uuid.UUID) []*models.Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.byID[roomID]
	if !ok {
		return nil
	}
	out := make([]*models.Membership, 0, len(rm.members))
	for _, m := range rm.members {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

// ByName resolves a room name to its live info, loading from the store
// on a cache/registry miss. A name-cache hit on a room that turned out
// inactive (a race with a concurrent Leave) is treated as a miss so the
// durable store — the source of truth for active rooms — decides.
func (r *Registry) ByName(ctx context.Context, name string) (*models.Room, error) {
	r.mu.Lock()
	id, ok := r.byName[name]
	r.mu.Unlock()
	if ok {
		if info := r.infoByID(id); info != nil && info.IsActive {
			return info, nil
		}
	}

	info, err := r.db.RoomByName(ctx, name)
	if err != nil {
		return nil, err
	}
	rm, err := r.load(ctx, info.ID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := rm.info
	r.mu.Unlock()
	return &out, nil
}

func (r *Registry) infoByID(id uuid.UUID) *models.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.byID[id]
	if !ok {
		return nil
	}
	out := rm.info
	return &out
}

// load returns the in-memory room for id, populating it (and its
// membership snapshot) from the durable store if this node hasn't seen
// it before.
func (r *Registry) load(ctx context.Context, id uuid.UUID) (*room, error) {
	r.mu.Lock()
	if rm, ok := r.byID[id]; ok {
		r.lru.MoveToFront(rm.lruElem)
		r.mu.Unlock()
		return rm, nil
	}
	r.mu.Unlock()

	info, err := r.db.RoomByID(ctx, id)
	if err != nil {
		return nil, err
	}
	memberships, err := r.db.MembersOf(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.byID[id]; ok {
		r.lru.MoveToFront(rm.lruElem)
		return rm, nil
	}
	rm := &room{
		info:    *info,
		members: make(map[uuid.UUID]*models.Membership, len(memberships)),
		typing:  make(map[uuid.UUID]*models.TypingEntry),
	}
	for _, m := range memberships {
		rm.members[m.UserID] = m
	}
	rm.lruElem = r.lru.PushFront(id)
	r.byID[id] = rm
	r.byName[info.Name] = id
	return rm, nil
}

// ListActive returns every currently-active room known to the store.
func (r *Registry) ListActive(ctx context.Context) ([]*models.Room, error) {
	return r.db.ListActiveRooms(ctx)
}

// evictCold drops in-memory room state (not the durable record) for
// rooms with no members that have either gone idle past idleTTL or are
// pushing the registry past maxCold entries, oldest-first.
func (r *Registry) evictCold() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.idleTTL)
	coldCount := 0
	for _, rm := range r.byID {
		if len(rm.members) == 0 {
			coldCount++
		}
	}

	for e := r.lru.Back(); e != nil; {
		prev := e.Prev()
		id := e.Value.(uuid.UUID)
		rm, ok := r.byID[id]
		if !ok || len(rm.members) > 0 {
			e = prev
			continue
		}
		if rm.info.LastActivity.Before(cutoff) || coldCount > r.maxCold {
			delete(r.byID, id)
			delete(r.byName, rm.info.Name)
			r.lru.Remove(e)
			coldCount--
		}
		e = prev
	}
}
