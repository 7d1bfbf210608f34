package attack

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fortio-goat/goatling/loadshape"
	"github.com/fortio-goat/goatling/metrics"
	"github.com/fortio-goat/goatling/scenario"
	"github.com/fortio-goat/goatling/vuser/httpclient"
	"github.com/fortio-goat/goatling/weights"
)

// Config fully describes one attack to run, whether standalone or as one
// gaggle worker's share of a distributed run.
type Config struct {
	Scenarios   []*scenario.Scenario
	TestPlan    *loadshape.TestPlan
	Host        string
	Scheduler   weights.Scheduler
	COMode      metrics.CoordinatedOmissionMode
	Percentiles []float64

	ThrottleRequestsPerSec float64
	ThrottleBurst          int

	Client    httpclient.Config
	DebugBody bool

	WaitMin, WaitMax time.Duration
	RandSeed         int64
	Labels           string

	// Iterations caps how many times a user cycles its full run-list
	// before stopping on its own (0 means unlimited), spec 4.4's
	// iterations_limit_reached.
	Iterations int
	// StickyFollow re-targets a user's effective base URL to wherever a
	// redirect lands, supplemented from original_source's sticky_follow.
	StickyFollow bool
	// NoResetMetrics skips the one-shot metrics reset spec 4.8 fires once
	// live users first reach the first test-plan step's target.
	NoResetMetrics bool
	// HatchRate is the configured user-spawn rate (users/sec), reported
	// and adjustable independently of the request throttle.
	HatchRate float64
}

// Validate checks the minimal invariants an attack needs to run at all.
func (c *Config) Validate() error {
	if len(c.Scenarios) == 0 {
		return fmt.Errorf("attack config: at least one scenario is required")
	}
	if c.TestPlan == nil || len(c.TestPlan.Steps) == 0 {
		return fmt.Errorf("attack config: a non-empty test plan is required")
	}
	if c.Host == "" {
		for _, s := range c.Scenarios {
			if s.BaseURL == "" {
				return fmt.Errorf("attack config: --host is required when scenario %q has no base URL override", s.Name)
			}
		}
	}
	return nil
}

// GenRunID formats a run identifier as "YYYY-MM-DD-HHmmSS_{uuid8}[_{labels}]",
// generalized from fortio's periodic.RunnerOptions.GenID (same date-prefixed
// scheme) swapping its integer RunID for a gaggle-wide uuid short form, since
// this project's RunID must be unique across a whole distributed fleet, not
// just one process.
func GenRunID(now time.Time, runUUID uuid.UUID, labels string) string {
	base := now.Format("2006-01-02-150405")
	base += "_" + runUUID.String()[:8]
	if labels == "" {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteByte('_')
	last := byte('_')
	for i := 0; i < len(labels); i++ {
		c := labels[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
			last = c
		default:
			if last == '_' {
				continue
			}
			b.WriteByte('_')
			last = '_'
		}
	}
	return b.String()
}
