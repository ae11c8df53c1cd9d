package cache

import (
	"context"
	"testing"
	"time"
)

type widget struct {
	Name string `json:"name"`
}

func TestSetAndGetL1Only(t *testing.T) {
	c := New(nil, nil)
	ctx := context.Background()

	c.Set(ctx, "widget:1", widget{Name: "sprocket"}, time.Minute, "room:abc")

	var out widget
	if !c.Get(ctx, "widget:1", &out) {
		t.Fatal("expected cache hit")
	}
	if out.Name != "sprocket" {
		t.Fatalf("unexpected value: %+v", out)
	}
}

func TestGetMissWithoutRedis(t *testing.T) {
	c := New(nil, nil)
	ctx := context.Background()

	var out widget
	if c.Get(ctx, "nonexistent", &out) {
		t.Fatal("expected cache miss")
	}
}

func TestInvalidateTagEvictsDependentKeys(t *testing.T) {
	c := New(nil, nil)
	ctx := context.Background()

	c.Set(ctx, "widget:1", widget{Name: "a"}, time.Minute, "room:abc")
	c.Set(ctx, "widget:2", widget{Name: "b"}, time.Minute, "room:abc")
	c.Set(ctx, "widget:3", widget{Name: "c"}, time.Minute, "room:xyz")

	c.InvalidateTag(ctx, "room:abc")

	var out widget
	if c.Get(ctx, "widget:1", &out) {
		t.Error("expected widget:1 to be evicted")
	}
	if c.Get(ctx, "widget:2", &out) {
		t.Error("expected widget:2 to be evicted")
	}
	if !c.Get(ctx, "widget:3", &out) {
		t.Error("expected widget:3 (different tag) to survive")
	}
}

func TestPresenceWithoutRedisIsANoop(t *testing.T) {
	c := New(nil, nil)
	ctx := context.Background()

	if err := c.SetPresence(ctx, "user-1", time.Minute); err != nil {
		t.Fatalf("expected no error without a redis client, got %v", err)
	}
	if err := c.ClearPresence(ctx, "user-1"); err != nil {
		t.Fatalf("expected no error without a redis client, got %v", err)
	}
}

func TestL1EntryExpires(t *testing.T) {
	c := New(nil, nil)
	c.l1TTL = time.Millisecond
	ctx := context.Background()

	c.Set(ctx, "widget:1", widget{Name: "a"}, time.Minute, "room:abc")
	time.Sleep(5 * time.Millisecond)

	var out widget
	if c.Get(ctx, "widget:1", &out) {
		t.Fatal("expected expired L1 entry to miss without a redis L2")
	}
}
