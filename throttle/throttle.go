// Package throttle caps the aggregate request rate an attack is allowed to
// issue, shared across every vuser.User goroutine, via a single global
// token bucket (golang.org/x/time/rate) rather than fortio's
// per-goroutine-interval pacing in periodic.Run: Goose-style attacks scale
// user count dynamically over a TestPlan, so a per-user QPS target isn't
// stable the way fortio's fixed-thread QPS runner is — pacing has to be
// global and shared instead.
package throttle // import "github.com/fortio-goat/goatling/throttle"

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle gates request issuance. A zero-value Throttle (or one built with
// limit <= 0) never blocks, matching --throttle-rps=0 meaning disabled.
type Throttle struct {
	limiter *rate.Limiter
}

// New builds a Throttle allowing up to requestsPerSec sustained, with a
// burst of burst (0 or negative burst defaults to requestsPerSec, minimum 1).
// requestsPerSec <= 0 disables throttling entirely.
func New(requestsPerSec float64, burst int) *Throttle {
	if requestsPerSec <= 0 {
		return &Throttle{}
	}
	if burst <= 0 {
		burst = int(requestsPerSec)
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(requestsPerSec), burst)}
}

// Wait blocks until a token is available, ctx is canceled, or the Throttle
// is disabled (in which case it returns immediately).
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

// Enabled reports whether this Throttle actually limits anything.
func (t *Throttle) Enabled() bool {
	return t != nil && t.limiter != nil
}

// SetLimit changes the sustained rate at runtime, without rebuilding the
// Throttle. A disabled Throttle stays disabled.
func (t *Throttle) SetLimit(requestsPerSec float64) {
	if t == nil || t.limiter == nil {
		return
	}
	t.limiter.SetLimit(rate.Limit(requestsPerSec))
}

// Limit returns the currently configured sustained rate, or 0 if disabled.
func (t *Throttle) Limit() float64 {
	if t == nil || t.limiter == nil {
		return 0
	}
	return float64(t.limiter.Limit())
}
