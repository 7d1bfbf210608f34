// Package attack is the C10 top-level orchestrator: it owns the state
// machine driving an attack from Idle through Starting, Increasing,
// Maintaining, Decreasing, Stopping to Finished, spawning/despawning
// vuser.User goroutines as loadshape.Engine calls out target user counts,
// and wiring together the metrics aggregator, throttle, and scenario pool.
package attack // import "github.com/fortio-goat/goatling/attack"

import "fmt"

// State is one phase of an attack's lifecycle.
type State int

const (
	Idle State = iota
	Starting
	Increasing
	Maintaining
	Decreasing
	Stopping
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Increasing:
		return "increasing"
	case Maintaining:
		return "maintaining"
	case Decreasing:
		return "decreasing"
	case Stopping:
		return "stopping"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// transitions lists every state change this package allows; Attack.setState
// rejects anything not in this table, turning an invalid lifecycle jump
// into a loud error instead of silent corruption.
var transitions = map[State][]State{
	Idle:        {Starting},
	Starting:    {Increasing, Stopping},
	Increasing:  {Increasing, Maintaining, Decreasing, Stopping},
	Maintaining: {Increasing, Decreasing, Stopping},
	Decreasing:  {Decreasing, Maintaining, Stopping, Finished},
	Stopping:    {Finished},
	Finished:    {Starting},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is wrapped with the offending states when a
// transition isn't in the allowed table.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("attack: invalid state transition %s -> %s", e.From, e.To)
}
