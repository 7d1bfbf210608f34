package metrics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fortio.org/log"

	"github.com/fortio-goat/goatling/histogram"
)

// DefaultChannelSize is the aggregator's inbound message buffer, sized so a
// fleet of a few thousand users can burst without blocking on the metrics
// channel under normal scrape intervals.
const DefaultChannelSize = 8192

// DefaultPercentiles mirrors fortio's default percentile set.
var DefaultPercentiles = []float64{50, 75, 90, 95, 99, 99.9}

type msgKind int

const (
	msgRequest msgKind = iota
	msgTransaction
	msgUserCountDelta
	msgReset
	msgSnapshot
)

type message struct {
	kind    msgKind
	request RequestMetric
	txn     TransactionMetric
	delta   int
	reply   chan *Snapshot
}

// Snapshot is the immutable, point-in-time export of everything the
// aggregator has accumulated since the last Reset.
type Snapshot struct {
	Taken        time.Time
	ActiveUsers  int64
	Requests     map[string]*RequestBucket
	Transactions map[string]*TransactionBucket
	Errors       map[string]*ErrorMetric
	Graph        GraphSeries
	Dropped      int64
}

// RequestsSummary returns the (method,name) bucket's timing summary, or nil.
func (s *Snapshot) RequestsSummary(method Method, name string, percentiles []float64) *histogram.Summary {
	b, ok := s.Requests[BucketKey(method, name)]
	if !ok {
		return nil
	}
	return b.Timing(percentiles)
}

// Aggregator is the single writer over every metrics bucket: user task
// runtimes only ever send messages into it, never touch bucket state
// directly, so no bucket needs its own lock (grounded on fortio's
// single-goroutine stats accumulation in periodic.Run, generalized from one
// RunnerResults struct to a keyed-bucket map).
type Aggregator struct {
	ch          chan message
	percentiles []float64
	coMode      CoordinatedOmissionMode

	mu           sync.Mutex
	activeUsers  int64
	requests     map[string]*RequestBucket
	transactions map[string]*TransactionBucket
	errors       map[string]*ErrorMetric
	graph        GraphSeries
	startedAt    time.Time

	dropped atomic.Int64

	wg   sync.WaitGroup
	done chan struct{}
}

// NewAggregator starts the aggregator's single consumer goroutine. Callers
// must call Close when the attack finishes to stop the goroutine.
func NewAggregator(coMode CoordinatedOmissionMode, percentiles []float64) *Aggregator {
	if len(percentiles) == 0 {
		percentiles = DefaultPercentiles
	}
	a := &Aggregator{
		ch:           make(chan message, DefaultChannelSize),
		percentiles:  percentiles,
		coMode:       coMode,
		requests:     make(map[string]*RequestBucket),
		transactions: make(map[string]*TransactionBucket),
		errors:       make(map[string]*ErrorMetric),
		startedAt:    time.Now(),
		done:         make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Aggregator) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case m, ok := <-a.ch:
			if !ok {
				return
			}
			a.handle(m)
		case <-ticker.C:
			a.sampleGraph()
		case <-a.done:
			// Drain whatever's queued before exiting, so a final snapshot
			// taken right after Close sees all in-flight records.
			for {
				select {
				case m := <-a.ch:
					a.handle(m)
				default:
					return
				}
			}
		}
	}
}

func (a *Aggregator) handle(m message) {
	switch m.kind {
	case msgRequest:
		a.recordRequest(m.request)
	case msgTransaction:
		a.recordTransaction(m.txn)
	case msgUserCountDelta:
		a.mu.Lock()
		a.activeUsers += int64(m.delta)
		a.mu.Unlock()
	case msgReset:
		a.mu.Lock()
		for _, b := range a.requests {
			b.reset()
		}
		for _, b := range a.transactions {
			b.reset()
		}
		a.errors = make(map[string]*ErrorMetric)
		a.startedAt = time.Now()
		a.mu.Unlock()
	case msgSnapshot:
		m.reply <- a.snapshotLocked()
	}
}

func (a *Aggregator) recordRequest(m RequestMetric) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := BucketKey(m.Method, m.Name)
	b, ok := a.requests[key]
	if !ok {
		b = newRequestBucket(m.Method, m.Name)
		a.requests[key] = b
	}
	b.record(m)
	if !m.Success {
		ek := ErrorKey(m.StatusCode, m.Method, m.Name, m.Error)
		e, ok := a.errors[ek]
		if !ok {
			e = &ErrorMetric{Key: ek, Method: m.Method, Name: m.Name, ErrorText: firstLine(m.Error)}
			a.errors[ek] = e
		}
		e.Occurrences++
	}
	if a.coMode != CODisabled && m.UserCadenceMsec > 0 {
		a.synthesizeCO(b, m)
	}
}

// synthesizeCO adds a virtual sample representing the "missed" requests a
// slow response caused the generator to skip, per the selected cadence
// strategy. This is an estimate, not a replay of actual traffic (spec C4
// coordinated-omission mitigation note).
func (a *Aggregator) synthesizeCO(b *RequestBucket, m RequestMetric) {
	cadence := m.UserCadenceMsec
	if m.ResponseTimeMsec <= cadence {
		return
	}
	missed := int(m.ResponseTimeMsec/cadence) - 1
	for i := 0; i < missed; i++ {
		b.histogram.Record(m.ResponseTimeMsec - float64(i+1)*cadence)
	}
}

func (a *Aggregator) recordTransaction(m TransactionMetric) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := txnKey(m.ScenarioIndex, m.TransactionIndex)
	b, ok := a.transactions[key]
	if !ok {
		b = newTransactionBucket(m.ScenarioIndex, m.TransactionIndex)
		a.transactions[key] = b
	}
	b.record(m)
}

func txnKey(scenarioIdx, txnIdx int) string {
	return fmt.Sprintf("%d/%d", scenarioIdx, txnIdx)
}

func (a *Aggregator) sampleGraph() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	var reqCount, errCount int64
	var sumResp float64
	for _, b := range a.requests {
		reqCount += b.Success + b.Fail
		errCount += b.Fail
		sumResp += b.histogram.Sum
	}
	var txnCount int64
	for _, b := range a.transactions {
		txnCount += b.Success + b.Fail
	}
	avg := 0.0
	if reqCount > 0 {
		avg = sumResp / float64(reqCount)
	}
	a.graph.UserCount = append(a.graph.UserCount, Sample{now, float64(a.activeUsers)})
	a.graph.RequestsPerSec = append(a.graph.RequestsPerSec, Sample{now, float64(reqCount)})
	a.graph.ErrorsPerSec = append(a.graph.ErrorsPerSec, Sample{now, float64(errCount)})
	a.graph.TasksPerSec = append(a.graph.TasksPerSec, Sample{now, float64(txnCount)})
	a.graph.AvgResponseTimeSec = append(a.graph.AvgResponseTimeSec, Sample{now, avg})
}

func (a *Aggregator) snapshotLocked() *Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := &Snapshot{
		Taken:        time.Now(),
		ActiveUsers:  a.activeUsers,
		Requests:     make(map[string]*RequestBucket, len(a.requests)),
		Transactions: make(map[string]*TransactionBucket, len(a.transactions)),
		Errors:       make(map[string]*ErrorMetric, len(a.errors)),
		Graph:        a.graph,
		Dropped:      a.dropped.Load(),
	}
	for k, b := range a.requests {
		cp := *b
		cp.histogram = b.histogram.Clone()
		s.Requests[k] = &cp
	}
	for k, b := range a.transactions {
		cp := *b
		cp.histogram = b.histogram.Clone()
		s.Transactions[k] = &cp
	}
	for k, e := range a.errors {
		cp := *e
		s.Errors[k] = &cp
	}
	return s
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// send pushes a message, blocking up to 10ms before dropping it (back-
// pressure contract: a slow scrape must not stall user tasks indefinitely).
func (a *Aggregator) send(m message) {
	select {
	case a.ch <- m:
	default:
		t := time.NewTimer(10 * time.Millisecond)
		defer t.Stop()
		select {
		case a.ch <- m:
		case <-t.C:
			a.dropped.Add(1)
			log.Warnf("metrics channel full for 10ms, dropping message kind %d", m.kind)
		}
	}
}

// RecordRequest enqueues a RequestMetric; called from user task goroutines.
func (a *Aggregator) RecordRequest(m RequestMetric) {
	a.send(message{kind: msgRequest, request: m})
}

// RecordTransaction enqueues a TransactionMetric.
func (a *Aggregator) RecordTransaction(m TransactionMetric) {
	a.send(message{kind: msgTransaction, txn: m})
}

// AdjustUserCount applies delta (positive on spawn, negative on despawn) to
// the active-user gauge.
func (a *Aggregator) AdjustUserCount(delta int) {
	a.send(message{kind: msgUserCountDelta, delta: delta})
}

// Reset clears every bucket's counters, preserving GraphSeries.UserCount
// history (issue #650: a metrics reset must not erase the user-count graph).
func (a *Aggregator) Reset() {
	a.send(message{kind: msgReset})
}

// Snapshot blocks until the aggregator goroutine produces a consistent,
// point-in-time copy of all buckets.
func (a *Aggregator) Snapshot(ctx context.Context) (*Snapshot, error) {
	reply := make(chan *Snapshot, 1)
	select {
	case a.ch <- message{kind: msgSnapshot, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the consumer goroutine after draining pending messages.
func (a *Aggregator) Close() {
	close(a.done)
	a.wg.Wait()
}

// Dropped returns the count of messages dropped due to sustained back-pressure.
func (a *Aggregator) Dropped() int64 {
	return a.dropped.Load()
}
