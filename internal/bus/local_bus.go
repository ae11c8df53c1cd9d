package bus

import (
	"context"
	"sync"
)

// LocalBus is the single-node fallback Bus: publishing simply invokes
// every handler registered on the channel in the same process, with no
// network hop. Used when Config.RedisURL is unset, and in tests.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
}

// NewLocalBus constructs an empty in-process Bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[string]map[int]Handler)}
}

func (b *LocalBus) Publish(_ context.Context, channel string, payload interface{}) error {
	raw, err := encode(payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[channel]))
	for _, h := range b.handlers[channel] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	msg := Message{Channel: channel, Payload: raw}
	for _, h := range hs {
		h(msg)
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, channel string, handler Handler) (func(), error) {
	b.mu.Lock()
	if b.handlers[channel] == nil {
		b.handlers[channel] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[channel][id] = handler
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.handlers[channel], id)
		if len(b.handlers[channel]) == 0 {
			delete(b.handlers, channel)
		}
		b.mu.Unlock()
	}
	return unsubscribe, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string]map[int]Handler)
	return nil
}

var _ Bus = (*LocalBus)(nil)
