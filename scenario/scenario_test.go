package scenario

import (
	"context"
	"errors"
	"testing"

	"github.com/fortio-goat/goatling/weights"
)

func noop(ctx context.Context, h TransactionContext) error { return nil }

func TestCompileSeparatesLifecycleHooks(t *testing.T) {
	s := &Scenario{
		Name: "demo",
		Tasks: []Transaction{
			{Name: "setup", OnStart: true, Handler: noop},
			{Name: "work1", Weight: 3, Handler: noop},
			{Name: "work2", Weight: 1, Handler: noop},
			{Name: "teardown", OnStop: true, Handler: noop},
		},
	}
	p, err := Compile(s, weights.RoundRobin, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.OnStart) != 1 || p.OnStart[0].Name != "setup" {
		t.Fatalf("expected 1 on_start task, got %v", p.OnStart)
	}
	if len(p.OnStop) != 1 || p.OnStop[0].Name != "teardown" {
		t.Fatalf("expected 1 on_stop task, got %v", p.OnStop)
	}
	if len(p.Sequences) != 1 || len(p.Sequences[0].order) != 4 {
		t.Fatalf("expected one sequence group with 4 run-list entries, got %+v", p.Sequences)
	}
}

func TestWalkRunsOnStopEvenOnMainError(t *testing.T) {
	s := &Scenario{
		Name: "demo",
		Tasks: []Transaction{
			{Name: "work", Weight: 1, Handler: noop},
			{Name: "teardown", OnStop: true, Handler: noop},
		},
	}
	p, err := Compile(s, weights.RoundRobin, 0)
	if err != nil {
		t.Fatal(err)
	}
	teardownRan := false
	boom := errors.New("boom")
	err = p.Walk(
		func(tr Transaction) error { return boom },
		func(tr Transaction) error { teardownRan = true; return nil },
	)
	if !errors.Is(err, boom) {
		t.Fatalf("expected main error to propagate, got %v", err)
	}
	if !teardownRan {
		t.Fatal("expected on_stop task to run despite main error")
	}
}

func TestHostOrDefault(t *testing.T) {
	s := &Scenario{}
	if got := s.HostOrDefault("http://fallback"); got != "http://fallback" {
		t.Fatalf("expected fallback host, got %s", got)
	}
	s.BaseURL = "http://override"
	if got := s.HostOrDefault("http://fallback"); got != "http://override" {
		t.Fatalf("expected override host, got %s", got)
	}
}
