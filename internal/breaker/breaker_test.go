package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Cooldown: 50 * time.Millisecond, HalfOpenMax: 1})
	failing := func(context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		if err := b.Execute(context.Background(), failing, nil); err == nil {
			t.Fatalf("expected failure on attempt %d", i)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("expected breaker open after threshold, got %v", b.State())
	}

	if err := b.Execute(context.Background(), failing, nil); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen while cooling down, got %v", err)
	}
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1})
	failing := func(context.Context) error { return errors.New("boom") }
	succeeding := func(context.Context) error { return nil }

	_ = b.Execute(context.Background(), failing, nil)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(15 * time.Millisecond)

	if err := b.Execute(context.Background(), succeeding, nil); err != nil {
		t.Fatalf("expected trial success, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful trial, got %v", b.State())
	}
}

func TestBreakerFallback(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Cooldown: time.Hour, HalfOpenMax: 1})
	failing := func(context.Context) error { return errors.New("boom") }
	_ = b.Execute(context.Background(), failing, nil)

	called := false
	fallback := func(context.Context) error { called = true; return nil }
	if err := b.Execute(context.Background(), failing, fallback); err != nil {
		t.Fatalf("fallback should have been used without error: %v", err)
	}
	if !called {
		t.Fatal("expected fallback to be invoked while breaker is open")
	}
}
