package metrics

import (
	"context"
	"testing"
	"time"
)

func waitSnapshot(t *testing.T, a *Aggregator) *Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return s
}

func TestAggregatorRecordsRequestsAndErrors(t *testing.T) {
	a := NewAggregator(CODisabled, nil)
	defer a.Close()
	a.RecordRequest(RequestMetric{Method: GET, Name: "/", StatusCode: 200, Success: true, ResponseTimeMsec: 12})
	a.RecordRequest(RequestMetric{Method: GET, Name: "/", StatusCode: 500, Success: false, ResponseTimeMsec: 9, Error: "boom\nstack trace"})
	s := waitSnapshot(t, a)
	b := s.Requests[BucketKey(GET, "/")]
	if b == nil || b.Success != 1 || b.Fail != 1 {
		t.Fatalf("unexpected bucket: %+v", b)
	}
	if len(s.Errors) != 1 {
		t.Fatalf("expected 1 collapsed error, got %d", len(s.Errors))
	}
	for _, e := range s.Errors {
		if e.ErrorText != "boom" {
			t.Fatalf("expected first-line-only error text, got %q", e.ErrorText)
		}
	}
}

func TestAggregatorStatusBreakdownRequiresTwoCodes(t *testing.T) {
	a := NewAggregator(CODisabled, nil)
	defer a.Close()
	a.RecordRequest(RequestMetric{Method: GET, Name: "/x", StatusCode: 200, Success: true, ResponseTimeMsec: 1})
	s := waitSnapshot(t, a)
	if bd := s.Requests[BucketKey(GET, "/x")].StatusBreakdowns(DefaultPercentiles); bd != nil {
		t.Fatalf("expected no breakdown for single status code, got %v", bd)
	}
	a.RecordRequest(RequestMetric{Method: GET, Name: "/x", StatusCode: 500, Success: false, ResponseTimeMsec: 1})
	s = waitSnapshot(t, a)
	if bd := s.Requests[BucketKey(GET, "/x")].StatusBreakdowns(DefaultPercentiles); len(bd) != 2 {
		t.Fatalf("expected 2-row breakdown, got %v", bd)
	}
}

func TestAggregatorUserCountDelta(t *testing.T) {
	a := NewAggregator(CODisabled, nil)
	defer a.Close()
	a.AdjustUserCount(5)
	a.AdjustUserCount(-2)
	s := waitSnapshot(t, a)
	if s.ActiveUsers != 3 {
		t.Fatalf("expected 3 active users, got %d", s.ActiveUsers)
	}
}

func TestAggregatorResetPreservesDoesNotPanic(t *testing.T) {
	a := NewAggregator(CODisabled, nil)
	defer a.Close()
	a.RecordRequest(RequestMetric{Method: GET, Name: "/", StatusCode: 200, Success: true, ResponseTimeMsec: 5})
	a.Reset()
	s := waitSnapshot(t, a)
	if b, ok := s.Requests[BucketKey(GET, "/")]; ok && (b.Success != 0 || b.Fail != 0) {
		t.Fatalf("expected bucket counts cleared after reset, got %+v", b)
	}
	if len(s.Errors) != 0 {
		t.Fatalf("expected errors cleared after reset")
	}
}

func TestAggregatorCoordinatedOmissionSynthesizesSamples(t *testing.T) {
	a := NewAggregator(COAverage, nil)
	defer a.Close()
	// cadence 10ms, response took 55ms -> ~4 missed virtual samples.
	a.RecordRequest(RequestMetric{Method: GET, Name: "/slow", StatusCode: 200, Success: true, ResponseTimeMsec: 55, UserCadenceMsec: 10})
	s := waitSnapshot(t, a)
	b := s.Requests[BucketKey(GET, "/slow")]
	if b.histogram.Count <= 1 {
		t.Fatalf("expected coordinated-omission synthesis to add samples, got count=%d", b.histogram.Count)
	}
}

func TestAggregatorTransactionBuckets(t *testing.T) {
	a := NewAggregator(CODisabled, nil)
	defer a.Close()
	a.RecordTransaction(TransactionMetric{ScenarioIndex: 0, TransactionIndex: 1, Success: true, RunTimeMsec: 3})
	a.RecordTransaction(TransactionMetric{ScenarioIndex: 0, TransactionIndex: 1, Success: false, RunTimeMsec: 7})
	s := waitSnapshot(t, a)
	b := s.Transactions[txnKey(0, 1)]
	if b == nil || b.Success != 1 || b.Fail != 1 {
		t.Fatalf("unexpected transaction bucket: %+v", b)
	}
}
