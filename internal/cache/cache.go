// Package cache implements the two-tier read-through cache: an
// in-process L1 with its own TTL, backed by a shared Redis L2 reached
// through a circuit breaker. Entries are tagged with dependency keys
// (e.g. a room ID) so a single write can invalidate every cached value
// derived from it, in both tiers, without tracking individual keys.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukepan/multi-rooms-chat-back/internal/breaker"
	"github.com/dukepan/multi-rooms-chat-back/internal/logging"
	"github.com/dukepan/multi-rooms-chat-back/internal/metrics"
)

type l1Entry struct {
	value     []byte
	expiresAt time.Time
	tags      []string
}

// Cache is the two-tier cache described in component C1.
type Cache struct {
	log *logging.Logger
	rdb *redis.Client
	brk *breaker.Breaker

	mu       sync.RWMutex
	entries  map[string]l1Entry
	tagIndex map[string]map[string]struct{} // tag -> set of keys

	l1TTL time.Duration
}

// New constructs a Cache. rdb may be nil, in which case the cache
// operates purely as an L1 (used in tests and the in-process bus
// fallback configuration).
func New(rdb *redis.Client, log *logging.Logger) *Cache {
	brk := breaker.New(breaker.DefaultConfig())
	c := &Cache{
		log:      log,
		rdb:      rdb,
		brk:      brk,
		entries:  make(map[string]l1Entry),
		tagIndex: make(map[string]map[string]struct{}),
		l1TTL:    30 * time.Second,
	}
	brk.OnStateChange(func(from, to breaker.State) {
		metrics.CacheBreakerState.Set(breakerStateValue(to))
		if log != nil {
			log.Info(context.Background(), "cache: redis breaker %s -> %s", from, to)
		}
	})
	return c
}

func breakerStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateClosed:
		return 0
	case breaker.StateHalfOpen:
		return 1
	case breaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Get attempts L1 first, then L2 on an L1 miss, populating L1 on an L2
// hit. The returned bool is false on a miss in both tiers or any L2
// error (a cache is a performance layer, never a correctness dependency:
// callers must fall back to the durable store on a miss).
func (c *Cache) Get(ctx context.Context, key string, out interface{}) bool {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		if json.Unmarshal(e.value, out) == nil {
			return true
		}
	}

	if c.rdb == nil {
		return false
	}

	var raw string
	err := c.brk.Execute(ctx, func(ctx context.Context) error {
		var err error
		raw, err = c.rdb.Get(ctx, key).Result()
		return err
	}, nil)
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false
	}

	c.mu.Lock()
	c.entries[key] = l1Entry{value: []byte(raw), expiresAt: time.Now().Add(c.l1TTL)}
	c.mu.Unlock()
	return true
}

// Set writes value into both tiers under key, tagged by deps so a later
// InvalidateTag call against any of them evicts this key too. ttl
// governs the L2 entry; L1 always uses the shorter internal l1TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, deps ...string) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.entries[key] = l1Entry{value: raw, expiresAt: time.Now().Add(c.l1TTL), tags: deps}
	for _, tag := range deps {
		if c.tagIndex[tag] == nil {
			c.tagIndex[tag] = make(map[string]struct{})
		}
		c.tagIndex[tag][key] = struct{}{}
	}
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}

	_ = c.brk.Execute(ctx, func(ctx context.Context) error {
		pipe := c.rdb.TxPipeline()
		pipe.Set(ctx, key, raw, ttl)
		for _, tag := range deps {
			pipe.SAdd(ctx, tagKey(tag), key)
			pipe.Expire(ctx, tagKey(tag), ttl+time.Minute)
		}
		_, err := pipe.Exec(ctx)
		return err
	}, nil)
}

// InvalidateTag evicts every key, in both tiers, that was cached with
// the given dependency tag (for example "room:<roomId>" after a new
// message is persisted to that room).
func (c *Cache) InvalidateTag(ctx context.Context, tag string) {
	c.mu.Lock()
	for key := range c.tagIndex[tag] {
		delete(c.entries, key)
	}
	delete(c.tagIndex, tag)
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}

	_ = c.brk.Execute(ctx, func(ctx context.Context) error {
		members, err := c.rdb.SMembers(ctx, tagKey(tag)).Result()
		if err != nil {
			return err
		}
		if len(members) > 0 {
			pipe := c.rdb.TxPipeline()
			pipe.Del(ctx, members...)
			pipe.Del(ctx, tagKey(tag))
			_, err = pipe.Exec(ctx)
		}
		return err
	}, nil)
}

func tagKey(tag string) string {
	return "tag:" + tag
}

// SetPresence and ClearPresence track per-connection-node presence in
// Redis directly (bypassing L1, since presence must be read
// cluster-wide and is cheap to refresh), grounded in the teacher's
// cache.SetUserOnline/IsUserOnline pair.
func (c *Cache) SetPresence(ctx context.Context, userID string, ttl time.Duration) error {
	if c.rdb == nil {
		return nil
	}
	return c.brk.Execute(ctx, func(ctx context.Context) error {
		return c.rdb.Set(ctx, presenceKey(userID), "1", ttl).Err()
	}, nil)
}

func (c *Cache) ClearPresence(ctx context.Context, userID string) error {
	if c.rdb == nil {
		return nil
	}
	return c.brk.Execute(ctx, func(ctx context.Context) error {
		return c.rdb.Del(ctx, presenceKey(userID)).Err()
	}, nil)
}

func presenceKey(userID string) string {
	return "presence:" + userID
}
