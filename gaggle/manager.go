package gaggle

import (
	"context"
	"net"
	"sync"
	"time"

	"fortio.org/log"
	"github.com/google/uuid"

	"github.com/fortio-goat/goatling/fnet"
)

// WorkerConn is the manager's view of one connected worker.
type WorkerConn struct {
	Index    int
	Hello    Hello
	conn     net.Conn
	sequence uint32

	mu     sync.Mutex
	latest MetricsBatch
}

// LatestMetrics returns the worker's most recently received batch.
func (w *WorkerConn) LatestMetrics() MetricsBatch {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest
}

func (w *WorkerConn) nextSequence() uint32 {
	w.sequence++
	return w.sequence
}

// Manager accepts worker connections, hands out run config, and collects
// periodic metrics batches, partitioning the global throttle evenly across
// exactly ExpectWorkers workers: every handleWorker goroutine blocks at the
// barrier (closed once the last expected worker joins) before computing its
// ThrottleShare, so an early joiner gets the same share as the last one.
type Manager struct {
	RunID         uuid.UUID
	Config        AssignConfig
	ExpectWorkers int

	mu          sync.Mutex
	workers     []*WorkerConn
	workersLost int
	stopping    bool

	barrierCh   chan struct{}
	barrierOnce sync.Once

	// OnBatch is called every time a worker reports a MetricsBatch, for the
	// caller to fold into a merged Aggregate.
	OnBatch func(WorkerConn, MetricsBatch)

	// OnAllWorkersLost is called once, the moment the count of connected
	// workers still alive drops below 1 (spec 4.7: "if remaining workers <
	// 1, the manager transitions to Stopping").
	OnAllWorkersLost func()
}

// NewManager creates a Manager for one distributed run, waiting for
// expectWorkers connections before releasing any of them past the
// handshake barrier. expectWorkers < 1 is treated as 1 (no fleet to wait
// for, a lone worker gets the whole throttle).
func NewManager(cfg AssignConfig, expectWorkers int) *Manager {
	if expectWorkers < 1 {
		expectWorkers = 1
	}
	return &Manager{RunID: uuid.New(), Config: cfg, ExpectWorkers: expectWorkers, barrierCh: make(chan struct{})}
}

// Serve binds port and accepts worker connections until ctx is canceled.
func (m *Manager) Serve(ctx context.Context, port string) error {
	listener, addr := fnet.Listen("goatling gaggle manager", port)
	if listener == nil {
		return context.DeadlineExceeded
	}
	log.Infof("gaggle: manager listening on %s, run %s", addr, m.RunID)
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go m.handleWorker(ctx, conn)
	}
}

func (m *Manager) handleWorker(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	frame, err := ReadFrame(conn)
	if err != nil || frame.Type != MsgHello {
		log.Warnf("gaggle: worker handshake failed: %v", err)
		return
	}
	var hello Hello
	if err := decodeJSON(frame.Payload, &hello); err != nil {
		log.Warnf("gaggle: bad hello payload: %v", err)
		return
	}

	m.mu.Lock()
	idx := len(m.workers)
	wc := &WorkerConn{Index: idx, Hello: hello, conn: conn}
	m.workers = append(m.workers, wc)
	reached := len(m.workers) >= m.ExpectWorkers
	m.mu.Unlock()
	if reached {
		m.barrierOnce.Do(func() { close(m.barrierCh) })
	}

	// Block until expect_workers workers have all joined, so every worker
	// computes the same ThrottleShare regardless of connect order.
	select {
	case <-m.barrierCh:
	case <-ctx.Done():
		return
	}

	total := m.ExpectWorkers
	ack := HelloAck{RunID: m.RunID, WorkerIndex: idx, TotalWorkers: total, ThrottleShare: 1.0 / float64(total)}
	if err := WriteJSON(conn, MsgHelloAck, wc.nextSequence(), ack); err != nil {
		log.Warnf("gaggle: hello-ack to worker %d failed: %v", idx, err)
		return
	}
	if err := WriteJSON(conn, MsgAssignConfig, wc.nextSequence(), m.Config); err != nil {
		log.Warnf("gaggle: config assignment to worker %d failed: %v", idx, err)
		return
	}

	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			log.Infof("gaggle: worker %d (%s) disconnected: %v", idx, hello.Hostname, err)
			m.workerLost(idx, hello.Hostname)
			return
		}
		switch frame.Type {
		case MsgMetricsBatch:
			var batch MetricsBatch
			if err := decodeJSON(frame.Payload, &batch); err != nil {
				continue
			}
			wc.mu.Lock()
			wc.latest = batch
			wc.mu.Unlock()
			if m.OnBatch != nil {
				m.OnBatch(*wc, batch)
			}
		case MsgWorkerShutdown:
			log.Infof("gaggle: worker %d (%s) reported shutdown", idx, hello.Hostname)
			m.workerLost(idx, hello.Hostname)
			return
		case MsgPing:
			_ = WriteFrame(conn, MsgPong, frame.Sequence, nil)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// workerLost records a worker's departure and, once every connected worker
// has gone, fires OnAllWorkersLost exactly once (spec 4.7 failure
// semantics).
func (m *Manager) workerLost(idx int, hostname string) {
	m.mu.Lock()
	m.workersLost++
	remaining := len(m.workers) - m.workersLost
	lost := m.workersLost
	alreadyStopping := m.stopping
	if remaining < 1 {
		m.stopping = true
	}
	m.mu.Unlock()
	log.Warnf("gaggle: worker %d (%s) lost, workers_lost=%d", idx, hostname, lost)
	if remaining < 1 && !alreadyStopping && m.OnAllWorkersLost != nil {
		m.OnAllWorkersLost()
	}
}

// WorkersLost returns how many workers have disconnected since the run
// started.
func (m *Manager) WorkersLost() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workersLost
}

// Broadcast forwards a ControlCommand to every connected worker, returning
// once every worker has either replied or the per-worker timeout elapses.
func (m *Manager) Broadcast(cmd ControlCommand, timeout time.Duration) []ControlReply {
	m.mu.Lock()
	workers := make([]*WorkerConn, len(m.workers))
	copy(workers, m.workers)
	m.mu.Unlock()

	replies := make([]ControlReply, 0, len(workers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *WorkerConn) {
			defer wg.Done()
			_ = w.conn.SetDeadline(time.Now().Add(timeout))
			if err := WriteJSON(w.conn, MsgControlCommand, w.nextSequence(), cmd); err != nil {
				return
			}
			frame, err := ReadFrame(w.conn)
			_ = w.conn.SetDeadline(time.Time{})
			if err != nil || frame.Type != MsgControlReply {
				return
			}
			var reply ControlReply
			if err := decodeJSON(frame.Payload, &reply); err != nil {
				return
			}
			mu.Lock()
			replies = append(replies, reply)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return replies
}

// WorkerCount returns the number of workers connected so far.
func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}
