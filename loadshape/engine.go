package loadshape

import (
	"context"
	"time"

	"fortio.org/log"
)

// tickInterval is how often the Engine recomputes and emits the target user
// count while ramping, matching the 1s cadence the aggregator samples its
// graph series at.
const tickInterval = time.Second

// Engine walks a TestPlan's steps, calling onTarget every tick with the
// number of users that should be active right now. Ramps are linear within
// a step; a step with Duration 0 jumps straight to its target (a "hold" is
// just a step whose Users equals the previous step's Users).
//
// Grounded on periodic.PeriodicRunner.Run's ticker-driven loop, generalized
// from "fire N requests until a deadline" to "walk toward a changing target
// user count".
type Engine struct {
	plan *TestPlan
}

// NewEngine wraps plan for execution. A flat --users/--hatch-rate attack is
// modeled by the caller as a ramp step, a hold step (when a run time is set)
// and a drain step before construction.
func NewEngine(plan *TestPlan) *Engine {
	return &Engine{plan: plan}
}

// Run blocks until every step completes, ctx is canceled, or onTarget
// returns false (the attack orchestrator uses this to stop early on
// shutdown). Every step that completes ends with an onTarget call carrying
// its exact target; if ctx is canceled first, Run returns without that call.
func (e *Engine) Run(ctx context.Context, onTarget func(users int) bool) {
	current := 0
	for stepIdx, step := range e.plan.Steps {
		start := current
		target := step.Users
		if step.Duration <= 0 {
			current = target
			if !onTarget(current) {
				return
			}
			continue
		}
		deadline := time.Now().Add(step.Duration)
		ticker := time.NewTicker(tickInterval)
		stepDone := false
	rampLoop:
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case now := <-ticker.C:
				remaining := deadline.Sub(now)
				if remaining <= 0 {
					current = target
					if !onTarget(current) {
						ticker.Stop()
						return
					}
					stepDone = true
					break rampLoop
				}
				elapsed := step.Duration - remaining
				frac := float64(elapsed) / float64(step.Duration)
				current = start + int(frac*float64(target-start))
				if !onTarget(current) {
					ticker.Stop()
					return
				}
			}
		}
		ticker.Stop()
		if stepDone {
			log.Debugf("loadshape: step %d complete, now at %d users", stepIdx, current)
		}
	}
}
