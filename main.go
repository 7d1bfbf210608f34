// Command goatling is a distributed HTTP load generator: an operator
// describes scenarios in Go (this binary's built-in scenario issues a
// single GET against --host, the way `fortio load <url>` does; linking
// goatling as a library and registering real scenarios is the intended
// integration point — see scenario.Scenario), then goatling spawns users
// per --test-plan (or --users/--hatch-rate/--run-time) and reports
// aggregated metrics, optionally coordinating a fleet of worker processes
// in gaggle mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"fortio.org/cli"
	"fortio.org/log"
	"fortio.org/scli"

	"github.com/fortio-goat/goatling/attack"
	"github.com/fortio-goat/goatling/config"
	"github.com/fortio-goat/goatling/control"
	"github.com/fortio-goat/goatling/gaggle"
	"github.com/fortio-goat/goatling/loadshape"
	"github.com/fortio-goat/goatling/metrics"
	"github.com/fortio-goat/goatling/scenario"
	"github.com/fortio-goat/goatling/version"
)

var (
	modeFlag         = flag.String("mode", "standalone", "Run mode: standalone, manager or worker")
	hostFlag         = flag.String("host", "", "Target base `URL`, e.g. http://example.com")
	usersFlag        = flag.Int("users", 0, "Target concurrent users (flat mode, ignored if --test-plan is set)")
	hatchRateFlag    = flag.Float64("hatch-rate", 1, "Users to spawn per second while ramping up (flat mode)")
	runTimeFlag      = flag.String("run-time", "0s", "How long to hold at target users before ramping down (flat mode)")
	testPlanFlag     = flag.String("test-plan", "", "Step list `users,duration;...` overriding --users/--hatch-rate/--run-time")
	schedulerFlag    = flag.String("scheduler", "round-robin", "Run-list scheduler: round-robin, serial or random")
	coModeFlag       = flag.String("co-mitigation", "disabled", "Coordinated-omission mitigation: disabled, average, minimum or maximum")
	percentilesFlag  = flag.String("p", "50,75,90,95,99,99.9", "List of pXX to report")
	throttleRPSFlag  = flag.Float64("throttle-rps", 0, "Global requests/sec cap across all users, 0 disables")
	throttleBurst    = flag.Int("throttle-burst", 1, "Token bucket burst size for --throttle-rps")
	noHTTP2Flag      = flag.Bool("no-http2", false, "Disable HTTP/2 on the user HTTP client")
	insecureFlag     = flag.Bool("k", false, "Skip TLS certificate verification")
	debugBodyFlag    = flag.Bool("debug-body", false, "Log response bodies for failed requests")
	waitMinFlag      = flag.String("wait-min", "0s", "Minimum per-transaction think time")
	waitMaxFlag      = flag.String("wait-max", "0s", "Maximum per-transaction think time")
	seedFlag         = flag.Int64("seed", 0, "Random seed (0 picks one from the current time)")
	labelsFlag       = flag.String("labels", "", "Free-form labels folded into the run id")
	iterationsFlag   = flag.Int("iterations", 0, "Per-user run-list cycle cap, 0 means unlimited")
	stickyFollowFlag = flag.Bool("sticky-follow", false, "Re-target a user's base URL to wherever a redirect lands")
	noResetMetrics   = flag.Bool("no-reset-metrics", false, "Skip the one-shot metrics reset once the first step's target is reached")
	telnetPortFlag   = flag.String("telnet-port", control.DefaultTelnetPort, "Telnet controller port, \"disabled\" to turn off")
	wsPortFlag       = flag.String("ws-port", control.DefaultWebSocketPort, "WebSocket controller port, \"disabled\" to turn off")
	metricsPortFlag  = flag.String("metrics-port", "8079", "Prometheus /metrics port, \"disabled\" to turn off")
	managerAddrFlag  = flag.String("manager-addr", "", "worker mode: manager's `host:port` to dial")
	managerPortFlag  = flag.String("manager-port", gaggle.DefaultManagerPort, "manager mode: port to bind")
	workerSlotsFlag  = flag.Int("worker-slots", 1, "worker mode: goroutine slots this worker advertises to the manager")
	expectWorkersFlag = flag.Int("expect-workers", 1, "manager mode: number of workers to wait for before releasing any of them")
)

func helpArgsString() string {
	return "\nRuns a distributed HTTP load test. --mode selects standalone, manager or worker operation;\n" +
		"standalone and worker both need --host (or a per-scenario override); manager needs no target,\n" +
		"it only coordinates workers dialing in on --manager-port."
}

func buildFlags() *config.Flags {
	return &config.Flags{
		Mode:             *modeFlag,
		Host:             *hostFlag,
		UsersFlag:        *usersFlag,
		HatchRate:        *hatchRateFlag,
		RunTime:          *runTimeFlag,
		TestPlanFlag:     *testPlanFlag,
		Scheduler:        *schedulerFlag,
		COMitigation:     *coModeFlag,
		Percentiles:      *percentilesFlag,
		ThrottleRequests: *throttleRPSFlag,
		ThrottleBurst:    *throttleBurst,
		NoHTTP2:          *noHTTP2Flag,
		InsecureTLS:      *insecureFlag,
		DebugBody:        *debugBodyFlag,
		WaitMinFlag:      *waitMinFlag,
		WaitMaxFlag:      *waitMaxFlag,
		RandSeed:         *seedFlag,
		Labels:           *labelsFlag,
		Iterations:       *iterationsFlag,
		StickyFollow:     *stickyFollowFlag,
		NoResetMetrics:   *noResetMetrics,
		TelnetPort:       *telnetPortFlag,
		WebSocketPort:    *wsPortFlag,
		MetricsPort:      *metricsPortFlag,
		ManagerAddr:      *managerAddrFlag,
		ManagerPort:      *managerPortFlag,
		ExpectWorkers:    *expectWorkersFlag,
	}
}

// defaultScenario is the built-in demo scenario used when goatling is run
// as a standalone binary rather than linked as a library: one transaction
// issuing GET against the configured host, mirroring fortio's own
// single-URL `load` command as the zero-config smoke test.
func defaultScenario() *scenario.Scenario {
	return &scenario.Scenario{
		Name:   "default",
		Weight: 1,
		Tasks: []scenario.Transaction{
			{
				Name:   "get",
				Weight: 1,
				Handler: func(_ context.Context, h scenario.TransactionContext) error {
					hh, ok := h.(interface {
						Get(path string) (*http.Response, []byte, error)
					})
					if !ok {
						return fmt.Errorf("default scenario: handle does not support Get")
					}
					_, _, err := hh.Get("/")
					return err
				},
			},
		},
	}
}

func runStandalone(f *config.Flags) {
	cfg, err := f.BuildAttackConfig([]*scenario.Scenario{defaultScenario()})
	if err != nil {
		cli.ErrUsage("invalid configuration: %v", err)
	}
	a, err := attack.New(cfg)
	if err != nil {
		log.Fatalf("building attack: %v", err)
	}
	serveControlAndMetrics(context.Background(), f, a)
	if err := a.RunWithSignals(context.Background()); err != nil {
		log.Fatalf("attack run failed: %v", err)
	}
	log.Infof("attack %s finished: %s", a.RunID, a.MetricsReport())
}

func runManager(f *config.Flags) {
	plan, err := f.BuildTestPlan()
	if err != nil {
		cli.ErrUsage("invalid test plan: %v", err)
	}
	coMode, err := metrics.ParseCOMode(f.COMitigation)
	if err != nil {
		cli.ErrUsage("invalid --co-mitigation: %v", err)
	}
	mgr := gaggle.NewManager(gaggle.AssignConfig{Host: f.Host, TestPlan: plan.String(), COMode: int(coMode)}, f.ExpectWorkers)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agg := gaggle.NewAggregate()
	mgr.OnBatch = func(_ gaggle.WorkerConn, batch gaggle.MetricsBatch) {
		agg.Merge(batch)
	}
	mgr.OnAllWorkersLost = func() {
		log.Errf("manager %s: all %d workers lost, stopping", mgr.RunID, mgr.WorkersLost())
		cancel()
	}

	go func() {
		if err := mgr.Serve(ctx, f.ManagerPort); err != nil {
			log.Fatalf("manager: %v", err)
		}
	}()
	log.Infof("manager %s waiting for %d worker(s) on port %s", mgr.RunID, f.ExpectWorkers, f.ManagerPort)

	ticker := time.NewTicker(gaggle.BatchInterval * 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := agg.Snapshot()
			var ok, fail int64
			for _, r := range snap.Requests {
				ok += r.Success
				fail += r.Fail
			}
			log.Infof("manager %s: workers=%d users=%d requests_ok=%d requests_fail=%d workers_lost=%d",
				mgr.RunID, mgr.WorkerCount(), snap.ActiveUsers, ok, fail, mgr.WorkersLost())
		case <-ctx.Done():
			return
		}
	}
}

func runWorker(f *config.Flags) {
	if f.ManagerAddr == "" {
		cli.ErrUsage("worker mode requires --manager-addr")
	}
	hostname, _ := os.Hostname()
	w, err := gaggle.Dial(f.ManagerAddr, hostname, *workerSlotsFlag)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	defer w.Close()

	assignedPlan, err := loadshape.ParseTestPlan(w.Config.TestPlan)
	if err != nil {
		log.Fatalf("worker: manager sent an invalid test plan: %v", err)
	}
	// Each worker owns its ceil/floor share of every step's user count
	// (spec 4.7), so a fleet of N workers collectively runs the assigned
	// plan instead of each running it in full.
	for i, step := range assignedPlan.Steps {
		assignedPlan.Steps[i].Users = gaggle.DivideUsers(step.Users, w.Index, w.TotalPeers)
	}
	f.Host = w.Config.Host
	f.TestPlanFlag = assignedPlan.String()
	f.ThrottleRequests *= w.ThrottleCut
	cfg, err := f.BuildAttackConfig([]*scenario.Scenario{defaultScenario()})
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	a, err := attack.New(cfg)
	if err != nil {
		log.Fatalf("worker: building attack: %v", err)
	}

	stop := make(chan struct{})
	w.OnControl = func(cmd gaggle.ControlCommand) (string, error) {
		ctl := control.New(a)
		reply, _ := ctl.Dispatch(control.Command{Name: cmd.Name, Args: cmd.Args})
		return reply, nil
	}
	go w.ServeControl(stop)
	go func() {
		ticker := time.NewTicker(gaggle.BatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				snap, err := a.Metrics().Snapshot(context.Background())
				if err != nil {
					continue
				}
				batch := gaggle.MetricsBatch{
					ActiveUsers:  snap.ActiveUsers,
					Dropped:      snap.Dropped,
					Requests:     make(map[string]gaggle.RequestCount, len(snap.Requests)),
					Transactions: make(map[string]gaggle.TransactionCount, len(snap.Transactions)),
					Errors:       make(map[string]int64, len(snap.Errors)),
				}
				for key, b := range snap.Requests {
					batch.Requests[key] = gaggle.RequestCount{
						Method:  string(b.Method),
						Name:    b.Name,
						Success: b.Success,
						Fail:    b.Fail,
						SumMsec: b.Timing(nil).SumMsec,
					}
				}
				for key, b := range snap.Transactions {
					batch.Transactions[key] = gaggle.TransactionCount{
						ScenarioIndex:    b.ScenarioIndex,
						TransactionIndex: b.TransactionIndex,
						Success:          b.Success,
						Fail:             b.Fail,
					}
				}
				for key, e := range snap.Errors {
					batch.Errors[key] = e.Occurrences
				}
				_ = w.SendBatch(batch)
			case <-stop:
				return
			}
		}
	}()
	if err := a.RunWithSignals(context.Background()); err != nil {
		log.Fatalf("worker: attack run failed: %v", err)
	}
	close(stop)
}

// serveControlAndMetrics starts the telnet/WebSocket controller and
// Prometheus exporter in background goroutines, each independently
// disabled by passing "disabled" as its port flag.
func serveControlAndMetrics(ctx context.Context, f *config.Flags, a *attack.Attack) {
	ctl := control.New(a)
	if f.TelnetPort != "disabled" {
		go func() {
			if err := ctl.ServeTelnet(ctx, f.TelnetPort); err != nil {
				log.Warnf("telnet controller: %v", err)
			}
		}()
	}
	if f.WebSocketPort != "disabled" {
		go func() {
			if err := ctl.ServeWebSocket(ctx, f.WebSocketPort); err != nil {
				log.Warnf("websocket controller: %v", err)
			}
		}()
	}
	if f.MetricsPort != "disabled" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", a.Metrics().Exporter())
		srv := &http.Server{Addr: ":" + f.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warnf("metrics server: %v", err)
			}
		}()
	}
}

func main() {
	cli.ProgramName = "goatling"
	cli.ArgsHelp = helpArgsString()
	cli.MinArgs = 0
	cli.MaxArgs = 0
	scli.ServerMain() // parses flags, handles -version/-help, exits on error
	log.Infof("goatling %s starting", version.Short())

	f := buildFlags()
	mode, err := config.ParseMode(f.Mode)
	if err != nil {
		cli.ErrUsage("%v", err)
	}
	switch mode {
	case config.ModeManager:
		runManager(f)
	case config.ModeWorker:
		runWorker(f)
	default:
		runStandalone(f)
	}
}
