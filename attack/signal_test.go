package attack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/fortio-goat/goatling/loadshape"
	"github.com/fortio-goat/goatling/scenario"
)

// TestRunWithSignalsDoubleInterruptStopsImmediately grounds the escalation
// window in signal.go: a second SIGINT arriving within doubleInterruptWindow
// of the first must abort the run instead of waiting out its ramp-down.
func TestRunWithSignalsDoubleInterruptStopsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// A plan that jumps to 2 users at once and holds them for much longer
	// than the test's own timeout. The slow on_stop hook keeps the graceful
	// stop begun by the first SIGINT running past the second one, so only
	// signal escalation (not a natural ramp-down) can end it in time.
	plan, err := loadshape.ParseTestPlan("2,0s;2,10s")
	if err != nil {
		t.Fatal(err)
	}
	s := pingScenario()
	s.Tasks = append(s.Tasks, scenario.Transaction{Name: "slow-teardown", Weight: 1, OnStop: true,
		Handler: func(ctx context.Context, h scenario.TransactionContext) error {
			time.Sleep(time.Second)
			return nil
		}})
	a, err := New(Config{
		Scenarios: []*scenario.Scenario{s},
		TestPlan:  plan,
		Host:      srv.URL,
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- a.RunWithSignals(context.Background()) }()

	// Give the attack a moment to actually start spawning users.
	time.Sleep(50 * time.Millisecond)

	pid := os.Getpid()
	if err := syscall.Kill(pid, syscall.SIGINT); err != nil {
		t.Fatalf("sending first SIGINT: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := syscall.Kill(pid, syscall.SIGINT); err != nil {
		t.Fatalf("sending second SIGINT: %v", err)
	}

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled from hard stop, got %v", err)
		}
	case <-time.After(doubleInterruptWindow):
		t.Fatal("RunWithSignals did not stop promptly after a double interrupt")
	}
}
