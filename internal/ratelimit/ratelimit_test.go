package ratelimit

import "testing"

func TestAllowWithinLimit(t *testing.T) {
	l := New()
	defer l.Close()

	for i := 0; i < 10; i++ {
		if allowed, _ := l.Allow(ClassMessage, "user-1"); !allowed {
			t.Fatalf("expected message %d to be allowed within burst", i)
		}
	}
}

func TestAllowBlocksAfterBurstExceeded(t *testing.T) {
	l := New()
	defer l.Close()

	for i := 0; i < 10; i++ {
		l.Allow(ClassMessage, "user-2")
	}
	allowed, retryAfter := l.Allow(ClassMessage, "user-2")
	if allowed {
		t.Fatal("expected 11th message in the same instant to be blocked")
	}
	if retryAfter <= 0 {
		t.Fatal("expected a positive retry-after hint")
	}
}

func TestAllowIsolatedPerIdentifier(t *testing.T) {
	l := New()
	defer l.Close()

	for i := 0; i < 10; i++ {
		l.Allow(ClassMessage, "user-a")
	}
	if allowed, _ := l.Allow(ClassMessage, "user-b"); !allowed {
		t.Fatal("a different identifier should not share user-a's bucket")
	}
}

func TestResetClearsBlock(t *testing.T) {
	l := New()
	defer l.Close()

	for i := 0; i < 10; i++ {
		l.Allow(ClassMessage, "user-3")
	}
	if allowed, _ := l.Allow(ClassMessage, "user-3"); allowed {
		t.Fatal("expected block before reset")
	}
	l.Reset("user-3")
	if allowed, _ := l.Allow(ClassMessage, "user-3"); !allowed {
		t.Fatal("expected reset to clear the block")
	}
}
