package wire

import "testing"

func TestNewFrameStampsTypeAndTimestamp(t *testing.T) {
	f := NewFrame(ServerSystem, Frame{"message": "hello"})
	if f["type"] != ServerSystem {
		t.Fatalf("expected type %v, got %v", ServerSystem, f["type"])
	}
	if _, ok := f["timestamp"].(string); !ok {
		t.Fatal("expected a string timestamp")
	}
	if f["message"] != "hello" {
		t.Fatalf("expected message field to survive merge, got %v", f["message"])
	}
}

func TestErrorFrameIncludesRetryAfterOnlyWhenPositive(t *testing.T) {
	withRetry := ErrorFrame(ErrRateLimit, "slow down", "corr-1", 30)
	errObj, ok := withRetry["error"].(Frame)
	if !ok {
		t.Fatalf("expected error field to be a Frame, got %T", withRetry["error"])
	}
	if errObj["retryAfter"] != 30 {
		t.Fatalf("expected retryAfter 30, got %v", errObj["retryAfter"])
	}

	withoutRetry := ErrorFrame(ErrInvalidMessage, "bad request", "corr-2", 0)
	errObj2 := withoutRetry["error"].(Frame)
	if _, present := errObj2["retryAfter"]; present {
		t.Fatal("expected no retryAfter field when retryAfterSeconds is zero")
	}
}
