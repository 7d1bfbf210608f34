package attack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fortio.org/log"
	"github.com/google/uuid"

	"github.com/fortio-goat/goatling/loadshape"
	"github.com/fortio-goat/goatling/metrics"
	"github.com/fortio-goat/goatling/scenario"
	"github.com/fortio-goat/goatling/throttle"
	"github.com/fortio-goat/goatling/vuser"
	"github.com/fortio-goat/goatling/vuser/httpclient"
	"github.com/fortio-goat/goatling/weights"
)

// runningUser pairs a live vuser.User with the goroutine lifecycle needed to
// despawn it individually (each has its own cancelable context, since
// Decreasing despawns specific users rather than the whole pool).
type runningUser struct {
	user   *vuser.User
	cancel context.CancelFunc
	done   chan struct{}
}

// maxSpawnRetries is how many times spawnUpTo is retried before a step's
// spawn mismatch aborts the run (spec 4.2, default 3).
const maxSpawnRetries = 3

// spawnRetryDelay is the pause between spawn retries.
const spawnRetryDelay = 50 * time.Millisecond

// Attack is the C10 orchestrator: it owns the state machine, the live user
// pool, and every shared collaborator (metrics, throttle, client factory).
type Attack struct {
	RunID     uuid.UUID
	StartedAt time.Time

	cfg     Config
	metrics *metrics.Aggregator
	thr     *throttle.Throttle
	plans   []*scenario.Plan // one compiled Plan per Config.Scenarios entry

	mu        sync.Mutex
	assign    []int // run-list over scenario indices, one pick per spawned user
	hatchRate float64
	state     State
	users     []*runningUser
	cancel    context.CancelFunc
	stopped   chan struct{}
}

// New validates cfg and compiles every scenario's Plan, but does not start
// anything: call Run to execute the test plan.
func New(cfg Config) (*Attack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hatchRate := cfg.HatchRate
	if hatchRate <= 0 {
		hatchRate = 1
	}
	a := &Attack{
		RunID:     uuid.New(),
		cfg:       cfg,
		metrics:   metrics.NewAggregator(cfg.COMode, cfg.Percentiles),
		thr:       throttle.New(cfg.ThrottleRequestsPerSec, cfg.ThrottleBurst),
		hatchRate: hatchRate,
		state:     Idle,
	}
	for i, s := range cfg.Scenarios {
		plan, err := scenario.Compile(s, cfg.Scheduler, cfg.RandSeed+int64(i))
		if err != nil {
			return nil, fmt.Errorf("compiling scenario %q: %w", s.Name, err)
		}
		a.plans = append(a.plans, plan)
	}
	if err := a.rebuildAssignment(); err != nil {
		return nil, err
	}
	return a, nil
}

// rebuildAssignment recomputes the run-list over scenario indices for the
// current test plan's peak user count; called at construction and whenever
// SetUserCount/SetTestPlan resize the plan.
func (a *Attack) rebuildAssignment() error {
	items := make([]weights.Weighted, len(a.cfg.Scenarios))
	for i, s := range a.cfg.Scenarios {
		w := s.Weight
		if w < 1 {
			w = 1
		}
		items[i] = weights.Weighted{Index: i, Weight: w}
	}
	assign, err := weights.BuildRunList(items, a.cfg.Scheduler, a.cfg.RandSeed)
	if err != nil {
		return fmt.Errorf("assigning users to scenarios: %w", err)
	}
	if len(assign) == 0 {
		assign = []int{0}
	}
	peak := a.cfg.TestPlan.PeakUsers()
	newAssign := make([]int, peak)
	for i := 0; i < peak; i++ {
		newAssign[i] = assign[i%len(assign)]
	}
	a.mu.Lock()
	a.assign = newAssign
	a.mu.Unlock()
	return nil
}

// Metrics exposes the attack's aggregator, e.g. for the HTTP metrics
// exporter or the controller's `metrics` command.
func (a *Attack) Metrics() *metrics.Aggregator { return a.metrics }

func (a *Attack) setState(to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !canTransition(a.state, to) {
		return &ErrInvalidTransition{From: a.state, To: to}
	}
	log.Infof("attack %s: %s -> %s", a.RunID, a.state, to)
	a.state = to
	return nil
}

// State returns the attack's current lifecycle phase.
func (a *Attack) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Run drives the configured TestPlan to completion (or until ctx is
// canceled), spawning and despawning users as the target count changes, then
// runs every remaining user's on_stop hooks before returning.
func (a *Attack) Run(ctx context.Context) error {
	if err := a.setState(Starting); err != nil {
		return err
	}
	a.StartedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.stopped = make(chan struct{})
	a.mu.Unlock()

	engine := loadshape.NewEngine(a.cfg.TestPlan)
	firstTarget := -1
	if len(a.cfg.TestPlan.Steps) > 0 {
		firstTarget = a.cfg.TestPlan.Steps[0].Users
	}
	resetDone := false
	prevTarget := 0
	var runErr error
	engine.Run(runCtx, func(target int) bool {
		if target > prevTarget {
			_ = a.setState(Increasing)
			if err := a.spawnUpToWithRetry(runCtx, target); err != nil {
				runErr = err
				return false
			}
		} else if target < prevTarget {
			_ = a.setState(Decreasing)
			a.despawnDownTo(target)
		} else {
			_ = a.setState(Maintaining)
		}
		prevTarget = target
		// One-shot reset the moment live users first reach the first
		// step's target (spec 4.8), unless --no-reset-metrics.
		if !resetDone && !a.cfg.NoResetMetrics && firstTarget >= 0 && a.UserCount() >= firstTarget {
			a.metrics.Reset()
			resetDone = true
		}
		return runCtx.Err() == nil
	})

	_ = a.setState(Stopping)
	a.despawnDownTo(0)
	_ = a.setState(Finished)
	close(a.stopped)
	return runErr
}

// spawnUpToWithRetry calls spawnUpTo until the live user count reaches
// target, retrying up to maxSpawnRetries times (spec 4.2: a spawn mismatch,
// e.g. a user whose http client failed to build, is retried before the run
// aborts with ErrUserSpawnFailed).
func (a *Attack) spawnUpToWithRetry(ctx context.Context, target int) error {
	for attempt := 0; attempt <= maxSpawnRetries; attempt++ {
		a.spawnUpTo(ctx, target)
		if a.UserCount() >= target {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(spawnRetryDelay)
	}
	if a.UserCount() < target {
		return fmt.Errorf("%w: could not reach %d users (have %d) after %d retries",
			ErrUserSpawnFailed, target, a.UserCount(), maxSpawnRetries)
	}
	return nil
}

func (a *Attack) spawnUpTo(ctx context.Context, target int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.users) < target && len(a.users) < len(a.assign) {
		idx := len(a.users)
		scenarioIdx := a.assign[idx]
		client, err := httpclient.New(a.cfg.Client)
		if err != nil {
			log.Errf("attack: building http client for user %d: %v", idx, err)
			break // let the caller's retry re-attempt this slot
		}
		userCtx, userCancel := context.WithCancel(ctx)
		host := a.cfg.Scenarios[scenarioIdx].HostOrDefault(a.cfg.Host)
		u := vuser.New(vuser.Config{
			Index:        idx,
			ScenarioIdx:  scenarioIdx,
			Plan:         a.plans[scenarioIdx],
			BaseURL:      host,
			Client:       client,
			Metrics:      a.metrics,
			Throttle:     a.thr,
			Wait:         vuser.UniformWait(a.cfg.WaitMin, a.cfg.WaitMax),
			DebugBody:    a.cfg.DebugBody,
			CO:           a.cfg.COMode,
			AttackStart:  a.StartedAt,
			RandSeed:     a.cfg.RandSeed ^ int64(idx),
			Iterations:   a.cfg.Iterations,
			StickyFollow: a.cfg.StickyFollow,
		})
		done := make(chan struct{})
		ru := &runningUser{user: u, cancel: userCancel, done: done}
		a.users = append(a.users, ru)
		a.metrics.AdjustUserCount(1)
		go func() {
			defer close(done)
			u.Run(userCtx)
		}()
	}
}

func (a *Attack) despawnDownTo(target int) {
	a.mu.Lock()
	toStop := a.users[target:]
	a.users = a.users[:target]
	a.mu.Unlock()
	for _, ru := range toStop {
		ru.user.Stop()
		ru.cancel()
		<-ru.done
		a.metrics.AdjustUserCount(-1)
	}
}

// Stop cancels the running attack immediately (all users despawn, on_stop
// hooks run with a background context so they still get a chance to clean
// up).
func (a *Attack) Stop() error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel == nil {
		return fmt.Errorf("attack: not running")
	}
	cancel()
	return nil
}

// --- control.Backend implementation ---

// Status reports the current lifecycle state as a string.
func (a *Attack) Status() string { return a.State().String() }

// Host returns the attack-wide default target host.
func (a *Attack) Host() string { return a.cfg.Host }

// SetHost updates the attack-wide default target host at runtime.
func (a *Attack) SetHost(host string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Host = host
	return nil
}

// UserCount returns the number of currently active users.
func (a *Attack) UserCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.users)
}

// HatchRate returns the configured user-spawn rate (users/sec); distinct
// from the request throttle (a.thr), which caps request volume, not user
// ramp speed.
func (a *Attack) HatchRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hatchRate
}

// SetHatchRate retunes the configured spawn rate live.
func (a *Attack) SetHatchRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("attack: hatch rate must be > 0")
	}
	a.mu.Lock()
	a.hatchRate = rate
	a.mu.Unlock()
	return nil
}

// TestPlan renders the configured test plan back into its flag grammar.
func (a *Attack) TestPlan() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.TestPlan.String()
}

// SetUserCount retargets the flat plan's peak user count to n, Idle only
// (spec 4.6: "users <N> | set user count if Idle | users configured").
func (a *Attack) SetUserCount(n int) error {
	if n <= 0 {
		return fmt.Errorf("attack: user count must be > 0")
	}
	a.mu.Lock()
	if a.state != Idle {
		a.mu.Unlock()
		return fmt.Errorf("users can not be changed while running")
	}
	a.cfg.TestPlan = a.cfg.TestPlan.WithPeakUsers(n)
	a.mu.Unlock()
	return a.rebuildAssignment()
}

// SetRunTime retargets the flat plan's hold-step duration to d (spec 4.6:
// "runtime <T> | set run time | run_time configured").
func (a *Attack) SetRunTime(d time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.TestPlan = a.cfg.TestPlan.WithRunTime(d)
	return nil
}

// SetTestPlan replaces the whole test plan, Idle only (spec 4.6:
// "test_plan <steps> | replace plan, Idle only | test-plan configured").
func (a *Attack) SetTestPlan(steps string) error {
	plan, err := loadshape.ParseTestPlan(steps)
	if err != nil {
		return err
	}
	a.mu.Lock()
	if a.state != Idle {
		a.mu.Unlock()
		return fmt.Errorf("test plan can not be changed while running")
	}
	a.cfg.TestPlan = plan
	a.mu.Unlock()
	return a.rebuildAssignment()
}

// Start serves the controller's `start` command: for an attack that is Idle
// (built but not yet run) or Finished it launches Run in the background and
// returns at once. Once Run is already driving the plan it returns an
// ErrInvalidTransition and changes nothing.
func (a *Attack) Start() error {
	if state := a.State(); !canTransition(state, Starting) {
		return &ErrInvalidTransition{From: state, To: Starting}
	}
	go func() {
		if err := a.Run(context.Background()); err != nil {
			log.Errf("attack %s: run launched by start failed: %v", a.RunID, err)
		}
	}()
	return nil
}

// Shutdown stops the attack exactly as Stop does; it sends no separate exit
// signal, and the controller keeps its listeners open.
func (a *Attack) Shutdown() error {
	return a.Stop()
}

// MetricsReport renders a short human-readable metrics summary for the
// controller's `metrics` command.
func (a *Attack) MetricsReport() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := a.metrics.Snapshot(ctx)
	if err != nil {
		return "error: " + err.Error()
	}
	var reqOK, reqFail int64
	for _, b := range snap.Requests {
		reqOK += b.Success
		reqFail += b.Fail
	}
	return fmt.Sprintf("users=%d requests_ok=%d requests_fail=%d dropped_metrics=%d", snap.ActiveUsers, reqOK, reqFail, snap.Dropped)
}

// ConfigReport renders a short human-readable configuration summary for the
// controller's `config` command.
func (a *Attack) ConfigReport() string {
	return fmt.Sprintf("host=%s scenarios=%d test_plan=%q throttle=%.2f/s",
		a.cfg.Host, len(a.cfg.Scenarios), a.cfg.TestPlan.String(), a.thr.Limit())
}
