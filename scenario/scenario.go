// Package scenario is the scenario data model: Scenarios group weighted
// Transactions, each an arbitrary handler a vuser.Handle can invoke. Weights
// are expanded into concrete run-lists through the weights package.
package scenario // import "github.com/fortio-goat/goatling/scenario"

import (
	"context"
	"fmt"
	"sort"

	"github.com/fortio-goat/goatling/weights"
)

// Handler is the user code a Transaction runs. Errors are recorded as
// transaction failures but never abort the user's run loop.
type Handler func(ctx context.Context, h TransactionContext) error

// TransactionContext is the minimal surface a Handler needs; vuser.Handle
// satisfies it (kept as an interface here so scenario has no import-cycle
// dependency on vuser).
type TransactionContext interface {
	UserIndex() int
	SessionData() any
	SetSessionData(any)
}

// Transaction is one weighted, optionally sequenced unit of work within a
// Scenario.
type Transaction struct {
	Name     string
	Weight   int
	Sequence int // transactions sharing a sequence number form one weighted run-list, run one after another
	OnStart  bool
	OnStop   bool
	Handler  Handler
}

// Scenario groups transactions plus optional lifecycle hooks and a
// per-scenario base URL override (supplemented from original_source's
// per-scenario host support, dropped from the distilled spec).
type Scenario struct {
	Name    string
	Weight  int
	BaseURL string // overrides the attack-wide --host when non-empty
	Tasks   []Transaction
}

// sequenceGroup is every transaction sharing one Sequence value, already
// weight-expanded into a run-list over its own indices.
type sequenceGroup struct {
	seq   int
	tasks []Transaction
	order []int // indices into tasks, expanded by weight
}

// Plan is a Scenario compiled into the ordered groups a user actually runs:
// on_start tasks (in declared order), then each numbered sequence group's
// weighted run-list, then on_stop tasks.
type Plan struct {
	Scenario  *Scenario
	OnStart   []Transaction
	Sequences []sequenceGroup
	OnStop    []Transaction
}

// Compile builds a Plan for one user, using scheduler/seed to expand each
// sequence group's weighted transactions into a run-list.
func Compile(s *Scenario, scheduler weights.Scheduler, seed int64) (*Plan, error) {
	p := &Plan{Scenario: s}
	bySeq := make(map[int][]Transaction)
	var seqOrder []int
	seen := make(map[int]bool)
	for _, t := range s.Tasks {
		switch {
		case t.OnStart:
			p.OnStart = append(p.OnStart, t)
		case t.OnStop:
			p.OnStop = append(p.OnStop, t)
		default:
			bySeq[t.Sequence] = append(bySeq[t.Sequence], t)
			if !seen[t.Sequence] {
				seen[t.Sequence] = true
				seqOrder = append(seqOrder, t.Sequence)
			}
		}
	}
	sort.Ints(seqOrder)
	for _, seq := range seqOrder {
		tasks := bySeq[seq]
		items := make([]weights.Weighted, len(tasks))
		for i, t := range tasks {
			w := t.Weight
			if w < 1 {
				w = 1
			}
			items[i] = weights.Weighted{Index: i, Weight: w}
		}
		order, err := weights.BuildRunList(items, scheduler, seed+int64(seq))
		if err != nil {
			return nil, fmt.Errorf("scenario %s sequence %d: %w", s.Name, seq, err)
		}
		p.Sequences = append(p.Sequences, sequenceGroup{seq: seq, tasks: tasks, order: order})
	}
	return p, nil
}

// Walk calls fn once for every transaction in run order: on_start tasks,
// then each sequence group's run-list (in ascending sequence-number order),
// then on_stop tasks. Returning an error from fn stops the walk for on_start
// and sequence tasks but on_stop tasks always all run, matching Goose's
// teardown-always-runs contract. Most callers running a long-lived user
// loop want RunOnStart/RunSequences/RunOnStop instead, so the sequence
// portion can be repeated without re-running on_start.
func (p *Plan) Walk(runOne func(t Transaction) error, runOnStop func(t Transaction) error) error {
	mainErr := p.RunOnStart(runOne)
	if mainErr == nil {
		mainErr = p.RunSequences(runOne)
	}
	stopErr := p.RunOnStop(runOnStop)
	if mainErr != nil {
		return mainErr
	}
	return stopErr
}

// RunOnStart calls runOne once per on_start task, in declared order,
// stopping at the first error.
func (p *Plan) RunOnStart(runOne func(t Transaction) error) error {
	for _, t := range p.OnStart {
		if err := runOne(t); err != nil {
			return err
		}
	}
	return nil
}

// RunSequences calls runOne once per transaction in the weighted run-list of
// every sequence group, in ascending sequence-number order, stopping at the
// first error. Safe to call repeatedly to cycle a user through its scenario.
func (p *Plan) RunSequences(runOne func(t Transaction) error) error {
	for _, g := range p.Sequences {
		for _, idx := range g.order {
			if err := runOne(g.tasks[idx]); err != nil {
				return err
			}
		}
	}
	return nil
}

// HasSequences reports whether the plan has any non-lifecycle transactions
// to cycle through.
func (p *Plan) HasSequences() bool {
	return len(p.Sequences) > 0
}

// RunOnStop calls runOnStop for every on_stop task, always running all of
// them and returning the first error encountered (if any).
func (p *Plan) RunOnStop(runOnStop func(t Transaction) error) error {
	var firstErr error
	for _, t := range p.OnStop {
		if err := runOnStop(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HostOrDefault returns the scenario's BaseURL override, or fallback (the
// attack-wide --host) when unset.
func (s *Scenario) HostOrDefault(fallback string) string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return fallback
}
