package bus

import (
	"context"
	"testing"
	"time"
)

func TestLocalBusDeliversToSubscriber(t *testing.T) {
	b := NewLocalBus()
	ctx := context.Background()

	received := make(chan Message, 1)
	unsubscribe, err := b.Subscribe(ctx, "room:1", func(m Message) {
		received <- m
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if err := b.Publish(ctx, "room:1", map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Channel != "room:1" {
			t.Fatalf("unexpected channel: %s", msg.Channel)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestLocalBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewLocalBus()
	ctx := context.Background()

	received := make(chan Message, 1)
	unsubscribe, err := b.Subscribe(ctx, "room:1", func(m Message) {
		received <- m
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	unsubscribe()

	if err := b.Publish(ctx, "room:1", "ignored"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-received:
		t.Fatal("expected no delivery after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalBusIsolatesChannels(t *testing.T) {
	b := NewLocalBus()
	ctx := context.Background()

	roomA := make(chan Message, 1)
	roomB := make(chan Message, 1)
	unsubA, _ := b.Subscribe(ctx, "room:a", func(m Message) { roomA <- m })
	unsubB, _ := b.Subscribe(ctx, "room:b", func(m Message) { roomB <- m })
	defer unsubA()
	defer unsubB()

	_ = b.Publish(ctx, "room:a", "payload")

	select {
	case <-roomA:
	case <-time.After(time.Second):
		t.Fatal("expected room:a subscriber to receive its message")
	}
	select {
	case <-roomB:
		t.Fatal("room:b subscriber should not receive room:a's message")
	case <-time.After(50 * time.Millisecond):
	}
}
