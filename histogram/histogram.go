// Package histogram is a bounded-memory, HDR-style response-time histogram,
// generalized from fortio's stats.Histogram (istio/fortio pedigree) for this
// project's millisecond response-time domain. Same exponential/logarithmic
// bucket table and percentile interpolation; the API is retargeted at
// RequestMetric/TransactionMetric timing summaries instead of raw Counter
// export, and Merge/Clone are built around concurrent per-user histograms
// being folded into the aggregator.
package histogram // import "github.com/fortio-goat/goatling/histogram"

import (
	"fmt"
	"math"
)

// bucket boundaries, in milliseconds, reused verbatim from fortio's stats
// package: initial +1 increments, then +2, +5, +10 etc, covering 1ms-100s.
var bucketBounds = []int64{
	1, 2, 3, 4, 5, 6,
	7, 8, 9, 10, 11,
	12, 14, 16, 18, 20,
	25, 30, 35, 40, 45, 50,
	60, 70, 80, 90, 100,
	120, 140, 160, 180, 200,
	250, 300, 350, 400, 450, 500,
	600, 700, 800, 900, 1000,
	2000, 3000, 4000, 5000, 7500, 10000,
	20000, 30000, 40000, 50000, 75000, 100000,
}

var (
	numBuckets = len(bucketBounds)
	firstValue = float64(bucketBounds[0])
	lastValue  = float64(bucketBounds[numBuckets-1])
	val2Bucket []int
)

func init() {
	lastV := int(lastValue)
	val2Bucket = make([]int, lastV)
	idx := 0
	for i := 0; i < lastV; i++ {
		if int64(i) >= bucketBounds[idx] {
			idx++
		}
		val2Bucket[i] = idx
	}
}

// Counter tracks count/min/max/sum/sum-of-squares without retaining samples.
type Counter struct {
	Count        int64
	Min          float64
	Max          float64
	Sum          float64
	sumOfSquares float64
}

// Record records a single observation (response time in ms).
func (c *Counter) Record(v float64) {
	first := c.Count == 0
	c.Count++
	if first {
		c.Min = v
		c.Max = v
	} else if v < c.Min {
		c.Min = v
	} else if v > c.Max {
		c.Max = v
	}
	c.Sum += v
	c.sumOfSquares += v * v
}

// Avg returns the mean, or 0 if no samples were recorded.
func (c *Counter) Avg() float64 {
	if c.Count == 0 {
		return 0
	}
	return c.Sum / float64(c.Count)
}

// StdDev returns the standard deviation of recorded samples.
func (c *Counter) StdDev() float64 {
	if c.Count == 0 {
		return 0
	}
	fC := float64(c.Count)
	sigma := (c.sumOfSquares - c.Sum*c.Sum/fC) / fC
	if sigma < 0 {
		sigma = 0
	}
	return math.Sqrt(sigma)
}

// Reset zeros the counter.
func (c *Counter) Reset() {
	*c = Counter{}
}

// Merge folds src into c (src is left unmodified, unlike fortio's Transfer).
func (c *Counter) Merge(src *Counter) {
	if src.Count == 0 {
		return
	}
	if c.Count == 0 {
		c.Min, c.Max = src.Min, src.Max
	} else {
		if src.Min < c.Min {
			c.Min = src.Min
		}
		if src.Max > c.Max {
			c.Max = src.Max
		}
	}
	c.Count += src.Count
	c.Sum += src.Sum
	c.sumOfSquares += src.sumOfSquares
}

// Histogram is a Counter plus exponentially bucketed frequency data.
// Must be created with New.
type Histogram struct {
	Counter
	data []int64 // numBuckets+1 entries, last one is the overflow bucket.
}

// New creates a histogram over the standard 1ms-100s bucket table.
func New() *Histogram {
	return &Histogram{data: make([]int64, numBuckets+1)}
}

// Record records one response time, in milliseconds.
func (h *Histogram) Record(msec float64) {
	h.Counter.Record(msec)
	idx := 0
	switch {
	case msec >= lastValue:
		idx = numBuckets
	case msec >= firstValue:
		idx = val2Bucket[int(msec)]
	}
	h.data[idx]++
}

// Reset clears all data, keeping the allocated buckets.
func (h *Histogram) Reset() {
	h.Counter.Reset()
	for i := range h.data {
		h.data[i] = 0
	}
}

// Clone returns an independent copy.
func (h *Histogram) Clone() *Histogram {
	c := New()
	c.Counter = h.Counter
	copy(c.data, h.data)
	return c
}

// Merge folds src's data into h, leaving src unmodified.
func (h *Histogram) Merge(src *Histogram) {
	if src.Counter.Count == 0 {
		return
	}
	h.Counter.Merge(&src.Counter)
	for i := range h.data {
		h.data[i] += src.data[i]
	}
}

// Percentile is one requested percentile and its estimated value.
type Percentile struct {
	Percentile float64
	ValueMsec  float64
}

// Bucket is one non-empty histogram interval, for export/rendering.
type Bucket struct {
	StartMsec float64
	EndMsec   float64
	Percent   float64 // cumulative percentile at the end of this bucket
	Count     int64
}

// Summary is the exported, immutable view of a Histogram: percentile
// queries over bounded-memory bucket data, never raw samples (Design Note:
// "Histogram choice").
type Summary struct {
	Count       int64
	MinMsec     float64
	MaxMsec     float64
	SumMsec     float64
	AvgMsec     float64
	StdDevMsec  float64
	Buckets     []Bucket
	Percentiles []Percentile
}

// CalcPercentile estimates, via linear interpolation within the bucket
// straddling the target percentile, the value below which percentile% of
// recorded samples fall. Target precision: within 1% of the true value for
// msec in [1, 60000].
func (h *Histogram) CalcPercentile(percentile float64) float64 {
	if h.Count == 0 {
		return 0
	}
	if percentile >= 100 {
		return h.Max
	}
	if percentile <= 0 {
		return h.Min
	}
	prev := 0.0
	var total int64
	ctrTotal := float64(h.Count)
	var prevPerc, perc float64
	found := false
	cur := 0.0
	for i := 0; i < numBuckets; i++ {
		cur = float64(bucketBounds[i])
		total += h.data[i]
		perc = 100. * float64(total) / ctrTotal
		if cur > h.Max {
			break
		}
		if perc >= percentile {
			found = true
			break
		}
		prevPerc = perc
		prev = cur
	}
	if !found {
		cur = h.Max
		perc = 100.
	}
	if prev < h.Min {
		prev = h.Min
	}
	if perc == prevPerc {
		return cur
	}
	return prev + (percentile-prevPerc)*(cur-prev)/(perc-prevPerc)
}

// Export computes a Summary with the requested percentiles.
func (h *Histogram) Export(percentiles []float64) *Summary {
	s := &Summary{
		Count:      h.Count,
		MinMsec:    h.Min,
		MaxMsec:    h.Max,
		SumMsec:    h.Sum,
		AvgMsec:    h.Avg(),
		StdDevMsec: h.StdDev(),
	}
	if h.Count == 0 {
		return s
	}
	lastIdx := -1
	for i := numBuckets; i >= 0; i-- {
		if h.data[i] > 0 {
			lastIdx = i
			break
		}
	}
	if lastIdx == -1 {
		return s
	}
	prev := bucketBounds[0]
	var total int64
	ctrTotal := float64(h.Count)
	for i := 0; i <= lastIdx; i++ {
		if h.data[i] == 0 {
			if i < numBuckets {
				prev = bucketBounds[i]
			}
			continue
		}
		var b Bucket
		total += h.data[i]
		if len(s.Buckets) == 0 {
			b.StartMsec = h.Min
		} else {
			b.StartMsec = float64(prev)
		}
		b.Percent = 100. * float64(total) / ctrTotal
		if i < numBuckets {
			cur := bucketBounds[i]
			b.EndMsec = float64(cur)
			prev = cur
		} else {
			b.StartMsec = float64(prev)
			b.EndMsec = h.Max
		}
		b.Count = h.data[i]
		s.Buckets = append(s.Buckets, b)
	}
	s.Buckets[len(s.Buckets)-1].EndMsec = h.Max
	for _, p := range percentiles {
		s.Percentiles = append(s.Percentiles, Percentile{Percentile: p, ValueMsec: h.CalcPercentile(p)})
	}
	return s
}

// String renders a compact one-line summary, handy for log lines.
func (s *Summary) String() string {
	if s.Count == 0 {
		return "no data"
	}
	return fmt.Sprintf("count %d avg %.3f min %.3f max %.3f sum %.3f", s.Count, s.AvgMsec, s.MinMsec, s.MaxMsec, s.SumMsec)
}
