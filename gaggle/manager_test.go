package gaggle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fortio-goat/goatling/fnet"
)

func TestManagerWorkerHandshakeAndMetrics(t *testing.T) {
	mgr := NewManager(AssignConfig{Host: "http://example.invalid", TestPlan: "10,5s"}, 1)
	var received MetricsBatch
	var mu sync.Mutex
	gotBatch := make(chan struct{}, 1)
	mgr.OnBatch = func(w WorkerConn, b MetricsBatch) {
		mu.Lock()
		received = b
		mu.Unlock()
		select {
		case gotBatch <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	realListener, realAddr := fnet.Listen("test-manager", "0")
	if realListener == nil {
		t.Fatal("failed to listen")
	}
	go func() {
		for {
			conn, err := realListener.Accept()
			if err != nil {
				return
			}
			go mgr.handleWorker(ctx, conn)
		}
	}()

	w, err := Dial(realAddr.String(), "test-worker", 4)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer w.Close()

	if w.TotalPeers != 1 {
		t.Fatalf("expected 1 total worker, got %d", w.TotalPeers)
	}
	if w.Config.Host != "http://example.invalid" {
		t.Fatalf("unexpected assigned config: %+v", w.Config)
	}

	batch := MetricsBatch{
		ActiveUsers: 3,
		Requests:    map[string]RequestCount{"GET /": {Method: "GET", Name: "/", Success: 9}},
	}
	if err := w.SendBatch(batch); err != nil {
		t.Fatalf("send batch: %v", err)
	}

	select {
	case <-gotBatch:
	case <-time.After(2 * time.Second):
		t.Fatal("manager never received metrics batch")
	}
	mu.Lock()
	defer mu.Unlock()
	if received.ActiveUsers != 3 || received.Requests["GET /"].Success != 9 {
		t.Fatalf("unexpected batch contents: %+v", received)
	}
}
