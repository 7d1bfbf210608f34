package loadshape

import (
	"context"
	"testing"
	"time"
)

func TestEngineReachesFinalTarget(t *testing.T) {
	plan := &TestPlan{Steps: []Step{{Users: 5, Duration: 0}, {Users: 5, Duration: 0}}}
	e := NewEngine(plan)
	var last int
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.Run(ctx, func(users int) bool {
		last = users
		return true
	})
	if last != 5 {
		t.Fatalf("expected final target 5, got %d", last)
	}
}

func TestEngineStopsWhenCallbackReturnsFalse(t *testing.T) {
	plan := &TestPlan{Steps: []Step{{Users: 10, Duration: 0}, {Users: 20, Duration: 0}}}
	e := NewEngine(plan)
	calls := 0
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.Run(ctx, func(users int) bool {
		calls++
		return false
	})
	if calls != 1 {
		t.Fatalf("expected exactly 1 call before stopping, got %d", calls)
	}
}

func TestEngineRespectsContextCancellation(t *testing.T) {
	plan := &TestPlan{Steps: []Step{{Users: 100, Duration: 10 * time.Second}}}
	e := NewEngine(plan)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, func(users int) bool { return true })
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop promptly after context cancellation")
	}
}
