package gaggle

import "sync"

// Summary is the manager's merged view across every worker's latest
// MetricsBatch: spec 4.7's "single global aggregator (C4) fed by merging
// each worker's batches", scaled down to the counters a MetricsBatch
// actually carries rather than a full histogram merge.
type Summary struct {
	ActiveUsers  int64
	Requests     map[string]RequestCount
	Transactions map[string]TransactionCount
	Errors       map[string]int64
	Dropped      int64
}

// Aggregate holds the most recent batch from every worker and folds them
// into a Summary on demand. It replaces, rather than accumulates, each
// worker's contribution so a worker's numbers are never double-counted
// across batches (every MetricsBatch is already a running total from that
// worker's own attack.Metrics().Snapshot).
type Aggregate struct {
	mu        sync.Mutex
	perWorker map[int]MetricsBatch
}

// NewAggregate returns an empty Aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{perWorker: make(map[int]MetricsBatch)}
}

// Merge records batch as worker batch.WorkerIndex's latest contribution.
func (a *Aggregate) Merge(batch MetricsBatch) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.perWorker[batch.WorkerIndex] = batch
}

// Snapshot folds every worker's latest batch into one merged Summary.
func (a *Aggregate) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Summary{
		Requests:     make(map[string]RequestCount),
		Transactions: make(map[string]TransactionCount),
		Errors:       make(map[string]int64),
	}
	for _, b := range a.perWorker {
		s.ActiveUsers += b.ActiveUsers
		s.Dropped += b.Dropped
		for key, rc := range b.Requests {
			cur := s.Requests[key]
			cur.Method, cur.Name = rc.Method, rc.Name
			cur.Success += rc.Success
			cur.Fail += rc.Fail
			cur.SumMsec += rc.SumMsec
			s.Requests[key] = cur
		}
		for key, tc := range b.Transactions {
			cur := s.Transactions[key]
			cur.ScenarioIndex, cur.TransactionIndex = tc.ScenarioIndex, tc.TransactionIndex
			cur.Success += tc.Success
			cur.Fail += tc.Fail
			s.Transactions[key] = cur
		}
		for key, c := range b.Errors {
			s.Errors[key] += c
		}
	}
	return s
}
