// Package users implements component C7, the user registry: username
// uniqueness among currently-online users, the connectionId↔userId
// mapping, and online/offline bookkeeping backed by the durable store.
// The mapping keeps a set of connections per user, but Authenticate
// refuses a second connection for a username that is already online,
// so each online user holds exactly one connection.
package users

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/multi-rooms-chat-back/internal/cache"
	"github.com/dukepan/multi-rooms-chat-back/internal/models"
	"github.com/dukepan/multi-rooms-chat-back/internal/store"
)

// ErrUsernameTaken is returned by Authenticate when another currently
// online connection already holds the requested username.
var ErrUsernameTaken = errors.New("users: username already online")

// presenceTTL bounds how long a node's presence key survives without a
// refresh; Authenticate refreshes it, so a node that dies without
// running Disconnect still clears its users within one TTL window.
const presenceTTL = 90 * time.Second

// Registry tracks online users and their connections.
type Registry struct {
	db    store.DurableStore
	cache *cache.Cache

	mu            sync.RWMutex
	onlineByName  map[string]uuid.UUID
	connsByUser   map[uuid.UUID]map[string]struct{}
	userByConn    map[string]uuid.UUID
	cachedProfile map[uuid.UUID]*models.User
}

// New constructs a Registry backed by db. c may be nil, in which case
// cross-node presence tracking is skipped (tests, and any deployment
// running without a shared cache).
func New(db store.DurableStore, c *cache.Cache) *Registry {
	return &Registry{
		db:            db,
		cache:         c,
		onlineByName:  make(map[string]uuid.UUID),
		connsByUser:   make(map[uuid.UUID]map[string]struct{}),
		userByConn:    make(map[string]uuid.UUID),
		cachedProfile: make(map[uuid.UUID]*models.User),
	}
}

// Authenticate associates connectionID with username: if the username
// was previously seen (even offline) its durable identity is reused,
// otherwise a new user is created. If another connection currently
// holds that username online, ErrUsernameTaken is returned and no state
// changes.
func (r *Registry) Authenticate(ctx context.Context, connectionID, username string) (*models.User, error) {
	r.mu.Lock()
	if existing, ok := r.onlineByName[username]; ok {
		if _, held := r.connsByUser[existing][connectionID]; !held {
			r.mu.Unlock()
			return nil, ErrUsernameTaken
		}
	}
	r.mu.Unlock()

	u, err := r.db.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		u = &models.User{
			ID:        uuid.New(),
			Username:  username,
			CreatedAt: time.Now(),
			LastSeen:  time.Now(),
			IsOnline:  true,
		}
		if err := r.db.CreateUser(ctx, u); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if taken, ok := r.onlineByName[username]; ok && taken != u.ID {
		r.mu.Unlock()
		return nil, ErrUsernameTaken
	}
	r.onlineByName[username] = u.ID
	if r.connsByUser[u.ID] == nil {
		r.connsByUser[u.ID] = make(map[string]struct{})
	}
	r.connsByUser[u.ID][connectionID] = struct{}{}
	r.userByConn[connectionID] = u.ID
	u.IsOnline = true
	u.ConnectionCount = len(r.connsByUser[u.ID])
	r.cachedProfile[u.ID] = u
	r.mu.Unlock()

	_ = r.db.TouchUserSeen(ctx, u.ID, true)
	if r.cache != nil {
		_ = r.cache.SetPresence(ctx, u.ID.String(), presenceTTL)
	}
	return u, nil
}

// Disconnect removes connectionID from its user's connection set. It
// reports the user ID (zero value if the connection was never
// authenticated) and whether the user has any remaining connections.
func (r *Registry) Disconnect(ctx context.Context, connectionID string) (userID uuid.UUID, stillOnline bool) {
	r.mu.Lock()
	userID, ok := r.userByConn[connectionID]
	if !ok {
		r.mu.Unlock()
		return uuid.Nil, false
	}
	delete(r.userByConn, connectionID)
	delete(r.connsByUser[userID], connectionID)
	remaining := len(r.connsByUser[userID])
	if remaining == 0 {
		delete(r.connsByUser, userID)
		if profile, ok := r.cachedProfile[userID]; ok && r.onlineByName[profile.Username] == userID {
			delete(r.onlineByName, profile.Username)
		}
		delete(r.cachedProfile, userID)
	} else if profile, ok := r.cachedProfile[userID]; ok {
		profile.ConnectionCount = remaining
	}
	r.mu.Unlock()

	_ = r.db.TouchUserSeen(ctx, userID, remaining > 0)
	if remaining == 0 && r.cache != nil {
		_ = r.cache.ClearPresence(ctx, userID.String())
	}
	return userID, remaining > 0
}

// UserForConnection returns the user ID authenticated on connectionID.
func (r *Registry) UserForConnection(connectionID string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.userByConn[connectionID]
	return id, ok
}

// IsOnline reports whether username currently has any live connection.
func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.onlineByName[username]
	return ok
}

// Profile returns the cached in-memory profile for userID, if online.
func (r *Registry) Profile(userID uuid.UUID) (*models.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.cachedProfile[userID]
	return u, ok
}

// OnlineUsers lists every currently-connected user's cached profile.
func (r *Registry) OnlineUsers() []*models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.User, 0, len(r.cachedProfile))
	for _, u := range r.cachedProfile {
		cp := *u
		out = append(out, &cp)
	}
	return out
}

// SetCurrentRoom records which room userID is currently joined to, for
// display in user_list frames. An empty name clears it.
func (r *Registry) SetCurrentRoom(userID uuid.UUID, roomName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.cachedProfile[userID]; ok {
		u.CurrentRoomName = roomName
	}
}

// IncrementMessageCount bumps the cached profile's message counter after
// a successful send, keeping it in step with the durable
// IncrementUserMessageCount call the message pipeline makes separately.
func (r *Registry) IncrementMessageCount(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.cachedProfile[userID]; ok {
		u.TotalMessages++
	}
}
