// Package config turns parsed CLI flags into an attack.Config (and the
// gaggle manager/worker mode selection), the way fortio's cli/fortio_main.go
// turns its flag.* vars into periodic.RunnerOptions/HTTPRunnerOptions before
// handing off to the runner — same shape, different destination struct.
package config // import "github.com/fortio-goat/goatling/config"

import (
	"fmt"
	"strings"
	"time"

	"github.com/fortio-goat/goatling/attack"
	"github.com/fortio-goat/goatling/loadshape"
	"github.com/fortio-goat/goatling/metrics"
	"github.com/fortio-goat/goatling/scenario"
	"github.com/fortio-goat/goatling/vuser/httpclient"
	"github.com/fortio-goat/goatling/weights"
)

// Mode selects which of the three ways this binary runs.
type Mode int

const (
	// ModeStandalone runs one attack entirely in this process.
	ModeStandalone Mode = iota
	// ModeManager runs a gaggle manager, coordinating remote workers.
	ModeManager
	// ModeWorker runs a gaggle worker, dialing a manager.
	ModeWorker
)

// ParseMode parses the --mode flag value.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "standalone":
		return ModeStandalone, nil
	case "manager":
		return ModeManager, nil
	case "worker":
		return ModeWorker, nil
	default:
		return ModeStandalone, fmt.Errorf("unknown --mode %q (want standalone, manager or worker)", s)
	}
}

// Flags mirrors the command-line surface described in spec.md section 6: a
// plain struct of string/numeric fields so main.go owns all flag.* wiring
// and this package only owns validation/translation into attack.Config.
type Flags struct {
	Mode string

	Host         string
	UsersFlag    int
	HatchRate    float64
	RunTime      string
	TestPlanFlag string
	Scheduler    string
	COMitigation string
	Percentiles  string

	ThrottleRequests float64
	ThrottleBurst    int

	NoHTTP2     bool
	InsecureTLS bool
	DebugBody   bool
	WaitMinFlag string
	WaitMaxFlag string
	RandSeed    int64
	Labels      string
	Iterations  int  // --iterations: per-user run-list cycle cap, 0 unlimited
	StickyFollow bool // --sticky-follow
	NoResetMetrics bool // --no-reset-metrics

	TelnetPort    string
	WebSocketPort string
	MetricsPort   string

	ManagerAddr   string // worker mode: "host:port" of the manager to dial
	ManagerPort   string // manager mode: port to bind
	ExpectWorkers int    // manager mode: --expect-workers
}

// ParsePercentiles parses a comma separated percentile list, e.g. "50,90,99".
func ParsePercentiles(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return metrics.DefaultPercentiles, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		var v float64
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%g", &v); err != nil {
			return nil, fmt.Errorf("invalid percentile %q: %w", p, err)
		}
		if v <= 0 || v > 100 {
			return nil, fmt.Errorf("percentile %v out of range (0,100]", v)
		}
		out = append(out, v)
	}
	return out, nil
}

// BuildTestPlan resolves either --test-plan or the flat --users/--hatch-rate/
// --run-time trio into a loadshape.TestPlan, matching the spec's rule that
// --test-plan wins when both are set.
func (f *Flags) BuildTestPlan() (*loadshape.TestPlan, error) {
	if strings.TrimSpace(f.TestPlanFlag) != "" {
		return loadshape.ParseTestPlan(f.TestPlanFlag)
	}
	if f.UsersFlag <= 0 {
		return nil, fmt.Errorf("config: --users must be > 0 when --test-plan is not set")
	}
	rampTime := time.Second
	if f.HatchRate > 0 {
		rampTime = time.Duration(float64(f.UsersFlag)/f.HatchRate*float64(time.Second)) + time.Second
	}
	runTime, err := loadshape.ParseDuration(orDefault(f.RunTime, "0s"))
	if err != nil {
		return nil, fmt.Errorf("config: --run-time: %w", err)
	}
	steps := []loadshape.Step{{Users: f.UsersFlag, Duration: rampTime}}
	if runTime > 0 {
		steps = append(steps, loadshape.Step{Users: f.UsersFlag, Duration: runTime})
	}
	steps = append(steps, loadshape.Step{Users: 0, Duration: time.Second})
	return &loadshape.TestPlan{Steps: steps}, nil
}

// BuildAttackConfig assembles an attack.Config from parsed flags and a
// caller-supplied scenario pool (scenario definitions are Go code the
// caller registers, not something the CLI parses).
func (f *Flags) BuildAttackConfig(scenarios []*scenario.Scenario) (attack.Config, error) {
	plan, err := f.BuildTestPlan()
	if err != nil {
		return attack.Config{}, err
	}
	scheduler, err := weights.ParseScheduler(f.Scheduler)
	if err != nil {
		return attack.Config{}, err
	}
	coMode, err := metrics.ParseCOMode(f.COMitigation)
	if err != nil {
		return attack.Config{}, err
	}
	percentiles, err := ParsePercentiles(f.Percentiles)
	if err != nil {
		return attack.Config{}, err
	}
	waitMin, err := loadshape.ParseDuration(orDefault(f.WaitMinFlag, "0s"))
	if err != nil {
		return attack.Config{}, fmt.Errorf("config: --wait-min: %w", err)
	}
	waitMax, err := loadshape.ParseDuration(orDefault(f.WaitMaxFlag, "0s"))
	if err != nil {
		return attack.Config{}, fmt.Errorf("config: --wait-max: %w", err)
	}
	seed := f.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	cfg := attack.Config{
		Scenarios:              scenarios,
		TestPlan:               plan,
		Host:                   f.Host,
		Scheduler:              scheduler,
		COMode:                 coMode,
		Percentiles:            percentiles,
		ThrottleRequestsPerSec: f.ThrottleRequests,
		ThrottleBurst:          f.ThrottleBurst,
		HatchRate:              f.HatchRate,
		Client: httpclient.Config{
			InsecureSkipVerify: f.InsecureTLS,
			DisableHTTP2:       f.NoHTTP2,
			Shared:             true,
		},
		DebugBody:      f.DebugBody,
		WaitMin:        waitMin,
		WaitMax:        waitMax,
		RandSeed:       seed,
		Labels:         f.Labels,
		Iterations:     f.Iterations,
		StickyFollow:   f.StickyFollow,
		NoResetMetrics: f.NoResetMetrics,
	}
	return cfg, cfg.Validate()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
