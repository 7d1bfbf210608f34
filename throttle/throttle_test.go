package throttle

import (
	"context"
	"testing"
	"time"
)

func TestDisabledThrottleNeverBlocks(t *testing.T) {
	th := New(0, 0)
	if th.Enabled() {
		t.Fatal("expected disabled throttle")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := th.Wait(ctx); err != nil {
		t.Fatalf("disabled throttle should never error: %v", err)
	}
}

func TestEnabledThrottleGrantsFirstToken(t *testing.T) {
	th := New(1000, 1)
	if !th.Enabled() {
		t.Fatal("expected enabled throttle")
	}
	ctx := context.Background()
	if err := th.Wait(ctx); err != nil {
		t.Fatalf("first token should be immediately available: %v", err)
	}
}

func TestSetLimitChangesRate(t *testing.T) {
	th := New(10, 10)
	th.SetLimit(50)
	if th.Limit() != 50 {
		t.Fatalf("expected limit 50, got %v", th.Limit())
	}
}
