// Package metrics holds the message types produced by user tasks (C5) and
// consumed by the single-writer Aggregator (C4): per-request/per-transaction
// records, the error rollup, windowed graph series, and the aggregated
// buckets exported in a test's final snapshot.
package metrics // import "github.com/fortio-goat/goatling/metrics"

import (
	"fmt"
	"strings"
	"time"

	"github.com/fortio-goat/goatling/histogram"
)

// Method is one of the HTTP verbs a transaction's handler can issue.
type Method string

const (
	GET    Method = "GET"
	POST   Method = "POST"
	PUT    Method = "PUT"
	DELETE Method = "DELETE"
	HEAD   Method = "HEAD"
	PATCH  Method = "PATCH"
)

// RequestMetric is emitted once per HTTP request a user task issues.
type RequestMetric struct {
	Method                       Method
	Name                         string // defaults to URL path, overridable per-call
	Path                         string
	URL                          string
	StatusCode                   int // 0 if no response was received
	Success                      bool
	ResponseTimeMsec             float64
	Redirected                   bool
	ElapsedMsecSinceAttackStart  int64
	CoordinatedOmissionElapsed   float64 // 0 if not synthesized
	UserIndex                    int
	Error                        string // empty if none
	UserCadenceMsec              float64 // 0 if not applicable (no CO)
}

// TransactionMetric is emitted once per transaction a user task completes.
type TransactionMetric struct {
	ScenarioIndex               int
	TransactionIndex            int
	ElapsedMsecSinceAttackStart int64
	RunTimeMsec                 float64
	Success                     bool
	UserIndex                   int
}

// ErrorKey builds the collapsing key for an errored request:
// "{status_code}.{method} {name}: {error_text_first_line}".
func ErrorKey(statusCode int, method Method, name, errText string) string {
	firstLine := errText
	if i := strings.IndexByte(errText, '\n'); i >= 0 {
		firstLine = errText[:i]
	}
	return fmt.Sprintf("%d.%s %s: %s", statusCode, method, name, firstLine)
}

// ErrorMetric is the collapsed-duplicate rollup for one error key.
type ErrorMetric struct {
	Key         string
	Method      Method
	Name        string
	ErrorText   string // first line only
	Occurrences int64
}

// BucketKey is how request/transaction buckets are keyed: "{method} {name}".
func BucketKey(method Method, name string) string {
	return string(method) + " " + name
}

// StatusBreakdown is one row of a status-code breakdown, only produced when
// a bucket holds >= 2 distinct status codes (see StatusBreakdowns).
type StatusBreakdown struct {
	StatusCode int
	Count      int64
	Percentage float64
	Timing     *histogram.Summary
}

// RequestBucket aggregates every RequestMetric sharing a bucket key.
type RequestBucket struct {
	Method     Method
	Name       string
	Success    int64
	Fail       int64
	histogram  *histogram.Histogram
	perStatus  map[int]int64
	perStatusH map[int]*histogram.Histogram
}

func newRequestBucket(method Method, name string) *RequestBucket {
	return &RequestBucket{
		Method:     method,
		Name:       name,
		histogram:  histogram.New(),
		perStatus:  make(map[int]int64),
		perStatusH: make(map[int]*histogram.Histogram),
	}
}

func (b *RequestBucket) record(m RequestMetric) {
	if m.Success {
		b.Success++
	} else {
		b.Fail++
	}
	b.histogram.Record(m.ResponseTimeMsec)
	b.perStatus[m.StatusCode]++
	h, ok := b.perStatusH[m.StatusCode]
	if !ok {
		h = histogram.New()
		b.perStatusH[m.StatusCode] = h
	}
	h.Record(m.ResponseTimeMsec)
}

func (b *RequestBucket) reset() {
	b.Success, b.Fail = 0, 0
	b.histogram = histogram.New()
	b.perStatus = make(map[int]int64)
	b.perStatusH = make(map[int]*histogram.Histogram)
}

// Timing returns a percentile summary of this bucket's response times.
func (b *RequestBucket) Timing(percentiles []float64) *histogram.Summary {
	return b.histogram.Export(percentiles)
}

// StatusBreakdowns returns per-status-code rows, only when the bucket holds
// 2 or more distinct status codes; returns nil for single-status buckets.
func (b *RequestBucket) StatusBreakdowns(percentiles []float64) []StatusBreakdown {
	if len(b.perStatus) < 2 {
		return nil
	}
	total := b.Success + b.Fail
	rows := make([]StatusBreakdown, 0, len(b.perStatus))
	for code, count := range b.perStatus {
		pct := 0.0
		if total > 0 {
			pct = 100. * float64(count) / float64(total)
		}
		rows = append(rows, StatusBreakdown{
			StatusCode: code,
			Count:      count,
			Percentage: pct,
			Timing:     b.perStatusH[code].Export(percentiles),
		})
	}
	return rows
}

// TransactionBucket aggregates every TransactionMetric for one
// (scenario, transaction) pair.
type TransactionBucket struct {
	ScenarioIndex    int
	TransactionIndex int
	Success          int64
	Fail             int64
	histogram        *histogram.Histogram
}

func newTransactionBucket(scenarioIdx, txnIdx int) *TransactionBucket {
	return &TransactionBucket{ScenarioIndex: scenarioIdx, TransactionIndex: txnIdx, histogram: histogram.New()}
}

func (b *TransactionBucket) record(m TransactionMetric) {
	if m.Success {
		b.Success++
	} else {
		b.Fail++
	}
	b.histogram.Record(m.RunTimeMsec)
}

func (b *TransactionBucket) reset() {
	b.Success, b.Fail = 0, 0
	b.histogram = histogram.New()
}

// Timing returns a percentile summary of this bucket's transaction run times.
func (b *TransactionBucket) Timing(percentiles []float64) *histogram.Summary {
	return b.histogram.Export(percentiles)
}

// Sample is one point in a GraphSeries: a wall-clock timestamp and a value.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// GraphSeries holds the windowed, per-second time series used for live
// progress graphs. Samples are append-only; a metrics Reset must never
// delete UserCount samples already recorded (issue #650 contract).
type GraphSeries struct {
	UserCount          []Sample
	RequestsPerSec     []Sample
	ResponsesPerSec    []Sample
	ErrorsPerSec       []Sample
	TasksPerSec        []Sample
	AvgResponseTimeSec []Sample
}

// CoordinatedOmissionMode selects how the aggregator synthesizes virtual
// request records for responses slower than a user's expected cadence.
type CoordinatedOmissionMode int

const (
	// CODisabled never synthesizes virtual requests.
	CODisabled CoordinatedOmissionMode = iota
	// COAverage uses each user's observed running average response time as cadence.
	COAverage
	// COMinimum uses each user's minimum observed cadence.
	COMinimum
	// COMaximum uses each user's maximum observed cadence.
	COMaximum
)

func (m CoordinatedOmissionMode) String() string {
	switch m {
	case CODisabled:
		return "disabled"
	case COAverage:
		return "average"
	case COMinimum:
		return "minimum"
	case COMaximum:
		return "maximum"
	default:
		return "unknown"
	}
}

// ParseCOMode parses the --co-mitigation flag value.
func ParseCOMode(s string) (CoordinatedOmissionMode, error) {
	switch s {
	case "", "disabled":
		return CODisabled, nil
	case "average":
		return COAverage, nil
	case "minimum":
		return COMinimum, nil
	case "maximum":
		return COMaximum, nil
	default:
		return CODisabled, fmt.Errorf("unknown coordinated-omission mode %q", s)
	}
}

// Delta pairs a current value with its delta to a previous snapshot. No
// caller in this module uses it: the controller's `metrics` command reports
// plain totals from an aggregator snapshot. Grounded on
// original_source/src/metrics/delta.rs's Plain/Delta union, simplified to
// numeric types via generics.
type Delta[T int64 | float64] struct {
	Value T
	Delta T
	// hasDelta distinguishes "no baseline yet" (plain) from "delta is 0".
	hasDelta bool
}

// NewDelta wraps a plain value with no baseline yet.
func NewDelta[T int64 | float64](v T) Delta[T] {
	return Delta[T]{Value: v}
}

// Diff computes the delta against a previous value, keeping Value as-is.
func (d *Delta[T]) Diff(previous T) {
	d.Delta = d.Value - previous
	d.hasDelta = true
}

// String renders "value" or "value (+delta)"/"value (delta)".
func (d Delta[T]) String() string {
	if !d.hasDelta {
		return fmt.Sprintf("%v", d.Value)
	}
	if d.Delta > 0 {
		return fmt.Sprintf("%v (+%v)", d.Value, d.Delta)
	}
	return fmt.Sprintf("%v (%v)", d.Value, d.Delta)
}
