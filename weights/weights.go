// Package weights expands (item, weight) lists into a flat run-list using a
// GCD-reduced multiset, the way a scenario's transactions (or the fleet's
// scenarios) are turned into the concrete cycle a user actually executes.
package weights // import "github.com/fortio-goat/goatling/weights"

import (
	"errors"
	"fmt"
	"math/rand"
)

// Scheduler picks how a weighted multiset is laid out into a run-list.
type Scheduler int

const (
	// RoundRobin interleaves one of each item at a time until every budget
	// is exhausted (the default; spreads items as evenly as possible).
	RoundRobin Scheduler = iota
	// Serial emits all of item 0, then all of item 1, etc.
	Serial
	// Random builds the Serial list then shuffles it with a supplied seed.
	Random
)

func (s Scheduler) String() string {
	switch s {
	case RoundRobin:
		return "round-robin"
	case Serial:
		return "serial"
	case Random:
		return "random"
	default:
		return "unknown"
	}
}

// ParseScheduler parses the --scheduler flag value.
func ParseScheduler(s string) (Scheduler, error) {
	switch s {
	case "", "round-robin", "roundrobin":
		return RoundRobin, nil
	case "serial":
		return Serial, nil
	case "random":
		return Random, nil
	default:
		return RoundRobin, fmt.Errorf("unknown scheduler %q", s)
	}
}

// ErrInvalidWeight is returned when an item has a weight below 1.
var ErrInvalidWeight = errors.New("weight must be >= 1")

// Weighted pairs an arbitrary item index with its configured weight.
type Weighted struct {
	Index  int
	Weight int
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func gcdAll(values []int) int {
	if len(values) == 0 {
		return 1
	}
	g := values[0]
	for _, v := range values[1:] {
		g = gcd(g, v)
	}
	if g <= 0 {
		return 1
	}
	return g
}

// BuildRunList expands items by weight into a flat slice of item indices,
// ordered per the selected scheduler. seed is only consulted for Random and
// must be supplied by the caller for reproducibility (e.g. attack start
// nanos XOR user index).
func BuildRunList(items []Weighted, scheduler Scheduler, seed int64) ([]int, error) {
	if len(items) == 0 {
		return nil, nil
	}
	weights := make([]int, len(items))
	for i, it := range items {
		if it.Weight < 1 {
			return nil, fmt.Errorf("%w: item %d has weight %d", ErrInvalidWeight, it.Index, it.Weight)
		}
		weights[i] = it.Weight
	}
	g := gcdAll(weights)
	reduced := make([]int, len(items))
	total := 0
	for i, w := range weights {
		reduced[i] = w / g
		total += reduced[i]
	}

	switch scheduler {
	case Serial, Random:
		list := make([]int, 0, total)
		for i, it := range items {
			for n := 0; n < reduced[i]; n++ {
				list = append(list, it.Index)
			}
		}
		if scheduler == Random {
			shuffle(list, seed)
		}
		return list, nil
	case RoundRobin:
		fallthrough
	default:
		list := make([]int, 0, total)
		remaining := make([]int, len(items))
		copy(remaining, reduced)
		for {
			emitted := false
			for i, it := range items {
				if remaining[i] > 0 {
					list = append(list, it.Index)
					remaining[i]--
					emitted = true
				}
			}
			if !emitted {
				break
			}
		}
		return list, nil
	}
}

// shuffle performs a deterministic Fisher-Yates shuffle seeded by seed, so
// that Random scheduling is reproducible given the same seed.
func shuffle(list []int, seed int64) {
	r := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducibility, not security.
	for i := len(list) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		list[i], list[j] = list[j], list[i]
	}
}

// TotalWeight returns sum(w_i)/gcd(w_i), the length BuildRunList would
// produce for the given items, without actually building the list.
func TotalWeight(items []Weighted) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	weights := make([]int, len(items))
	for i, it := range items {
		if it.Weight < 1 {
			return 0, fmt.Errorf("%w: item %d has weight %d", ErrInvalidWeight, it.Index, it.Weight)
		}
		weights[i] = it.Weight
	}
	g := gcdAll(weights)
	total := 0
	for _, w := range weights {
		total += w / g
	}
	return total, nil
}
