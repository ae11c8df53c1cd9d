// Package bus implements component C6, the publish/subscribe fabric
// that fans a message out to every server process holding a connection
// to the room it belongs to. Two implementations satisfy the same
// interface: a Redis-backed Bus for multi-node deployments, and an
// in-process Bus for single-node deployments and tests, selected once
// at startup — callers never branch on which one is active.
package bus

import (
	"context"
	"encoding/json"
)

// Message is one published event: a channel name and an opaque payload.
type Message struct {
	Channel string
	Payload []byte
}

// Handler processes a single delivered message.
type Handler func(Message)

// Bus is the pub/sub boundary every higher-level component depends on.
type Bus interface {
	// Publish encodes payload as JSON and publishes it to channel.
	Publish(ctx context.Context, channel string, payload interface{}) error
	// Subscribe registers handler for channel and returns an unsubscribe
	// function. Delivery order within a channel is preserved; delivery
	// across channels is not.
	Subscribe(ctx context.Context, channel string, handler Handler) (unsubscribe func(), err error)
	Close() error
}

func encode(payload interface{}) ([]byte, error) {
	if b, ok := payload.([]byte); ok {
		return b, nil
	}
	return json.Marshal(payload)
}
