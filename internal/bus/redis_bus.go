package bus

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dukepan/multi-rooms-chat-back/internal/logging"
)

// RedisBus fans messages out across every server node subscribed to the
// same Redis instance, grounded in the teacher's cache.Publish /
// cache.Subscribe pair.
type RedisBus struct {
	rdb *redis.Client
	log *logging.Logger

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

// NewRedisBus wraps an existing Redis client (shared with the cache's L2
// tier) as a Bus.
func NewRedisBus(rdb *redis.Client, log *logging.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, log: log, subs: make(map[string]*redis.PubSub)}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload interface{}) error {
	raw, err := encode(payload)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel, raw).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler Handler) (func(), error) {
	ps := b.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.subs[channel] = ps
	b.mu.Unlock()

	ch := ps.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(Message{Channel: msg.Channel, Payload: []byte(msg.Payload)})
			case <-done:
				return
			}
		}
	}()

	unsubscribe := func() {
		close(done)
		_ = ps.Unsubscribe(context.Background(), channel)
		_ = ps.Close()
		b.mu.Lock()
		delete(b.subs, channel)
		b.mu.Unlock()
	}
	return unsubscribe, nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ps := range b.subs {
		_ = ps.Close()
	}
	return nil
}

var _ Bus = (*RedisBus)(nil)
