// Package vuser is the C5 user task runtime: one goroutine per simulated
// user, each running its scenario's compiled Plan in a loop (on_start once,
// then the weighted run-list repeatedly, then on_stop once on shutdown),
// issuing HTTP requests through Handle and reporting every request and
// transaction to a shared metrics.Aggregator.
package vuser // import "github.com/fortio-goat/goatling/vuser"

import (
	"context"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"fortio.org/log"

	"github.com/fortio-goat/goatling/metrics"
	"github.com/fortio-goat/goatling/scenario"
	"github.com/fortio-goat/goatling/throttle"
)

// WaitTime samples how long a user pauses between transactions. Goose's
// default is a uniform random duration in [Min, Max]; scenarios can swap in
// their own sampler (e.g. a fixed pause, or none at all).
type WaitTime func(rng *rand.Rand) time.Duration

// UniformWait builds a WaitTime sampling uniformly from [min, max].
func UniformWait(minD, maxD time.Duration) WaitTime {
	if maxD < minD {
		maxD = minD
	}
	span := int64(maxD - minD)
	return func(rng *rand.Rand) time.Duration {
		if span <= 0 {
			return minD
		}
		return minD + time.Duration(rng.Int63n(span+1))
	}
}

// Config configures one User.
type Config struct {
	Index        int
	ScenarioIdx  int
	Plan         *scenario.Plan
	BaseURL      string
	Client       *http.Client
	Metrics      *metrics.Aggregator
	Throttle     *throttle.Throttle
	Wait         WaitTime
	DebugBody    bool // --debug-body: log request/response bodies on failure
	CO           metrics.CoordinatedOmissionMode
	AttackStart  time.Time
	RandSeed     int64

	// Iterations caps how many times this user cycles its full run-list
	// before stopping on its own; 0 means unlimited.
	Iterations int
	// StickyFollow re-targets BaseURL to a redirect's destination host,
	// persisting for subsequent requests (see Handle.record).
	StickyFollow bool
}

// User is one simulated virtual user: its own RNG, HTTP client, session
// blob, and a private cadence estimate feeding coordinated-omission
// synthesis.
type User struct {
	cfg     Config
	rng     *rand.Rand
	session SessionData
	stopped atomic.Bool

	cadenceMsec float64 // running average response time, for CO modes
}

// New constructs a User ready to Run.
func New(cfg Config) *User {
	if cfg.Wait == nil {
		cfg.Wait = UniformWait(0, 0)
	}
	return &User{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.RandSeed)), //nolint:gosec // reproducibility, not security
	}
}

// Index returns the user's stable index within its scenario's pool.
func (u *User) Index() int { return u.cfg.Index }

// Stop requests the run loop exit after its current transaction, running
// on_stop hooks before returning.
func (u *User) Stop() { u.stopped.Store(true) }

// Run executes on_start, then cycles the scenario's run-list until ctx is
// canceled or Stop is called, then runs on_stop. Every transaction and
// request is reported to cfg.Metrics.
func (u *User) Run(ctx context.Context) {
	h := &Handle{user: u, ctx: ctx}
	plan := u.cfg.Plan
	txnIdx := 0

	if err := plan.RunOnStart(func(t scenario.Transaction) error {
		return u.runTransaction(ctx, h, t, txnIdx)
	}); err != nil {
		log.Debugf("user %d: on_start failed: %v", u.cfg.Index, err)
	}
	txnIdx++

	iterations := 0
	for plan.HasSequences() && !u.stopped.Load() && ctx.Err() == nil {
		err := plan.RunSequences(func(t scenario.Transaction) error {
			if u.stopped.Load() || ctx.Err() != nil {
				return context.Canceled
			}
			if err := u.runTransaction(ctx, h, t, txnIdx); err != nil {
				return err
			}
			txnIdx++
			wait := u.cfg.Wait(u.rng)
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return context.Canceled
				}
			}
			return nil
		})
		if err != nil && err != context.Canceled {
			log.Debugf("user %d: transaction failed: %v", u.cfg.Index, err)
		}
		// The run-list cursor just wrapped back to its start: count one
		// iteration and stop once the cap (if any) is reached.
		iterations++
		if u.cfg.Iterations > 0 && iterations >= u.cfg.Iterations {
			break
		}
	}

	stopCtx := context.Background()
	h.ctx = stopCtx
	if err := plan.RunOnStop(func(t scenario.Transaction) error {
		return u.runTransaction(stopCtx, h, t, txnIdx)
	}); err != nil {
		log.Debugf("user %d: on_stop failed: %v", u.cfg.Index, err)
	}
}

func (u *User) runTransaction(ctx context.Context, h *Handle, t scenario.Transaction, txnIdx int) error {
	if u.cfg.Throttle != nil {
		if err := u.cfg.Throttle.Wait(ctx); err != nil {
			return err
		}
	}
	start := time.Now()
	err := t.Handler(ctx, h)
	elapsed := time.Since(start)
	u.updateCadence(elapsed)
	if u.cfg.Metrics != nil {
		u.cfg.Metrics.RecordTransaction(metrics.TransactionMetric{
			ScenarioIndex:               u.cfg.ScenarioIdx,
			TransactionIndex:            txnIdx,
			ElapsedMsecSinceAttackStart: int64(time.Since(u.cfg.AttackStart) / time.Millisecond),
			RunTimeMsec:                 float64(elapsed) / float64(time.Millisecond),
			Success:                     err == nil,
			UserIndex:                   u.cfg.Index,
		})
	}
	return err
}

// updateCadence maintains a running average response time, the basis for
// COAverage mitigation (COMinimum/COMaximum instead track extremes).
func (u *User) updateCadence(d time.Duration) {
	msec := float64(d) / float64(time.Millisecond)
	switch u.cfg.CO {
	case metrics.COMinimum:
		if u.cadenceMsec == 0 || msec < u.cadenceMsec {
			u.cadenceMsec = msec
		}
	case metrics.COMaximum:
		if msec > u.cadenceMsec {
			u.cadenceMsec = msec
		}
	case metrics.COAverage:
		if u.cadenceMsec == 0 {
			u.cadenceMsec = msec
		} else {
			u.cadenceMsec = 0.9*u.cadenceMsec + 0.1*msec
		}
	}
}
