package attack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fortio-goat/goatling/loadshape"
	"github.com/fortio-goat/goatling/scenario"
)

func mustUUID() uuid.UUID { return uuid.New() }

func pingScenario() *scenario.Scenario {
	return &scenario.Scenario{
		Name:   "ping",
		Weight: 1,
		Tasks: []scenario.Transaction{
			{Name: "ping", Weight: 1, Handler: func(ctx context.Context, h scenario.TransactionContext) error {
				return nil
			}},
		},
	}
}

func TestAttackRunsThroughTestPlan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	plan, err := loadshape.ParseTestPlan("3,0s;0,0s")
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		Scenarios: []*scenario.Scenario{pingScenario()},
		TestPlan:  plan,
		Host:      srv.URL,
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if a.State() != Finished {
		t.Fatalf("expected Finished state, got %s", a.State())
	}
	if a.UserCount() != 0 {
		t.Fatalf("expected 0 users after ramp-down to 0, got %d", a.UserCount())
	}
}

func TestAttackRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestStateTransitionTable(t *testing.T) {
	if !canTransition(Idle, Starting) {
		t.Fatal("Idle -> Starting should be allowed")
	}
	if canTransition(Idle, Finished) {
		t.Fatal("Idle -> Finished should not be allowed")
	}
}

func TestGenRunIDSanitizesLabels(t *testing.T) {
	id := GenRunID(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), mustUUID(), "hello world!!")
	if !containsAll(id, []string{"2026-01-02-030405", "hello_world"}) {
		t.Fatalf("unexpected run id: %s", id)
	}
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		found := false
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
