package histogram

import "testing"

func TestRecordAndPercentiles(t *testing.T) {
	h := New()
	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}
	if h.Count != 100 {
		t.Fatalf("expected 100 samples, got %d", h.Count)
	}
	p50 := h.CalcPercentile(50)
	if p50 < 45 || p50 > 55 {
		t.Fatalf("p50 out of expected range: %v", p50)
	}
	p100 := h.CalcPercentile(100)
	if p100 != h.Max {
		t.Fatalf("p100 should equal max, got %v vs %v", p100, h.Max)
	}
	p0 := h.CalcPercentile(0)
	if p0 != h.Min {
		t.Fatalf("p0 should equal min, got %v vs %v", p0, h.Min)
	}
}

func TestMergePreservesTotals(t *testing.T) {
	a := New()
	b := New()
	for i := 0; i < 10; i++ {
		a.Record(5)
	}
	for i := 0; i < 5; i++ {
		b.Record(500)
	}
	a.Merge(b)
	if a.Count != 15 {
		t.Fatalf("expected 15 after merge, got %d", a.Count)
	}
	if a.Max != 500 {
		t.Fatalf("expected max 500, got %v", a.Max)
	}
	if b.Count != 5 {
		t.Fatalf("merge must not mutate src, got %d", b.Count)
	}
}

func TestMinMeanMaxOrdering(t *testing.T) {
	h := New()
	for _, v := range []float64{3, 1, 900, 40, 2} {
		h.Record(v)
	}
	if !(h.Min <= h.Avg() && h.Avg() <= h.Max) {
		t.Fatalf("min <= mean <= max violated: %v %v %v", h.Min, h.Avg(), h.Max)
	}
}

func TestResetClearsData(t *testing.T) {
	h := New()
	h.Record(10)
	h.Reset()
	if h.Count != 0 {
		t.Fatalf("expected empty histogram after reset")
	}
	s := h.Export([]float64{50})
	if len(s.Buckets) != 0 {
		t.Fatalf("expected no buckets after reset, got %v", s.Buckets)
	}
}

func TestCloneIndependent(t *testing.T) {
	h := New()
	h.Record(5)
	c := h.Clone()
	c.Record(10)
	if h.Count == c.Count {
		t.Fatalf("clone should be independent of original")
	}
}
