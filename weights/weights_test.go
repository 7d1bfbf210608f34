package weights

import (
	"testing"

	"fortio.org/assert"
)

func count(list []int, idx int) int {
	n := 0
	for _, v := range list {
		if v == idx {
			n++
		}
	}
	return n
}

func TestBuildRunListWeighting(t *testing.T) {
	items := []Weighted{{Index: 0, Weight: 9}, {Index: 1, Weight: 3}}
	list, err := BuildRunList(items, RoundRobin, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// gcd(9,3) = 3, so reduced weights are 3 and 1, total length 4.
	if len(list) != 4 {
		t.Fatalf("expected length 4, got %d (%v)", len(list), list)
	}
	if count(list, 0) != 3 || count(list, 1) != 1 {
		t.Fatalf("unexpected distribution: %v", list)
	}
}

func TestBuildRunListSerialOrder(t *testing.T) {
	items := []Weighted{{Index: 0, Weight: 2}, {Index: 1, Weight: 1}}
	list, err := BuildRunList(items, Serial, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{0, 0, 1}
	if len(list) != len(want) {
		t.Fatalf("got %v want %v", list, want)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Fatalf("got %v want %v", list, want)
		}
	}
}

func TestBuildRunListRoundRobinOrder(t *testing.T) {
	items := []Weighted{{Index: 0, Weight: 2}, {Index: 1, Weight: 2}}
	list, err := BuildRunList(items, RoundRobin, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// gcd(2, 2) = 2 reduces both weights to 1 before interleaving.
	want := []int{0, 1}
	for i := range want {
		if list[i] != want[i] {
			t.Fatalf("got %v want %v", list, want)
		}
	}
}

func TestBuildRunListRandomDeterministic(t *testing.T) {
	items := []Weighted{{Index: 0, Weight: 5}, {Index: 1, Weight: 5}}
	a, err := BuildRunList(items, Random, 42)
	if err != nil {
		t.Fatal(err)
	}
	b, err := BuildRunList(items, Random, 42)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different lists: %v vs %v", a, b)
		}
	}
}

func TestBuildRunListInvalidWeight(t *testing.T) {
	items := []Weighted{{Index: 0, Weight: 0}}
	if _, err := BuildRunList(items, RoundRobin, 0); err == nil {
		t.Fatal("expected error for weight < 1")
	}
}

func TestTotalWeightMatchesPlanInvariant(t *testing.T) {
	items := []Weighted{{Index: 0, Weight: 9}, {Index: 1, Weight: 3}}
	total, err := TotalWeight(items)
	if err != nil {
		t.Fatal(err)
	}
	list, _ := BuildRunList(items, RoundRobin, 0)
	assert.Equal(t, total, len(list), "TotalWeight must match BuildRunList length")
}

func TestParseScheduler(t *testing.T) {
	cases := map[string]Scheduler{
		"":            RoundRobin,
		"round-robin": RoundRobin,
		"serial":      Serial,
		"random":      Random,
	}
	for in, want := range cases {
		got, err := ParseScheduler(in)
		if err != nil {
			t.Fatalf("ParseScheduler(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseScheduler(%q) = %v want %v", in, got, want)
		}
	}
	if _, err := ParseScheduler("bogus"); err == nil {
		t.Fatal("expected error for unknown scheduler")
	}
}
