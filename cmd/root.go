package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/carenet-sim/carenet/sim"
	"github.com/carenet-sim/carenet/sim/history"
	"github.com/carenet-sim/carenet/sim/telemetry"
	"github.com/carenet-sim/carenet/sim/trace"
)

var (
	configPath     string        // Network YAML; empty uses the embedded default
	seed           int64         // Master seed for every random stream
	ticks          int           // Number of network ticks (hours) to simulate
	startHour      int           // Hour of day of the first tick
	logLevel       string        // Log verbosity level
	parallelism    int           // Goroutines for the flux phase
	metricsAddr    string        // Listen address of the Prometheus endpoint
	historyDB      string        // SQLite file receiving per-tick unit loads
	traceLevel     string        // Movement trace level
	summarizeTrace bool          // Print the trace summary after the run
	tickInterval   time.Duration // Wall-clock pause between ticks
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "carenet",
	Short: "Discrete-time patient-flow simulator for hospital networks",
}

// runOptions is everything a run needs once flags and files are resolved.
type runOptions struct {
	Network     *sim.NetworkConfig
	Seed        int64
	Ticks       int
	StartHour   int
	Parallelism int
	TraceLevel  string
	Interval    time.Duration
	Collector   *telemetry.Collector
	History     *history.Store
}

// runResult is what a run leaves behind for reporting.
type runResult struct {
	Metrics *sim.Metrics
	Trace   *trace.SimulationTrace
	Views   []sim.FacilityView
}

// runSimulation builds the network and drives it tick by tick, feeding every
// report to the metrics, the Prometheus collector and the history store.
func runSimulation(ctx context.Context, opts runOptions) (*runResult, error) {
	if !trace.IsValidTraceLevel(opts.TraceLevel) {
		return nil, fmt.Errorf("unknown trace level %q", opts.TraceLevel)
	}
	if opts.Ticks < 0 {
		return nil, fmt.Errorf("ticks must be non-negative, got %d", opts.Ticks)
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(opts.Seed))
	reg, scenario, err := opts.Network.Build(rng)
	if err != nil {
		return nil, err
	}
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevel(opts.TraceLevel)})
	reg.SetTrace(st)
	reg.SetParallelism(opts.Parallelism)
	scenario.SetTrace(st)

	simCtx := sim.NewSimContext(opts.StartHour)
	metrics := sim.NewMetrics()
	logrus.Infof("Starting simulation: %d facilities, %d ticks, seed=%d, %s",
		reg.Len(), opts.Ticks, opts.Seed, simCtx)

	for i := 0; i < opts.Ticks; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report := reg.Tick(simCtx, scenario)
		views := reg.Snapshot()
		metrics.Observe(report, views)
		opts.Collector.Observe(report, views)
		if opts.History != nil {
			if err := opts.History.RecordTick(ctx, report, views); err != nil {
				return nil, fmt.Errorf("recording tick %d: %w", report.Tick, err)
			}
		}
		if opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.Interval):
			}
		}
	}
	return &runResult{Metrics: metrics, Trace: st, Views: reg.Snapshot()}, nil
}

// resolveSeed picks the CLI seed when the flag was set, else the network
// file's seed, else the flag default.
func resolveSeed(flagChanged bool, flagSeed int64, cfg *sim.NetworkConfig) int64 {
	if !flagChanged && cfg.Seed != nil {
		return *cfg.Seed
	}
	return flagSeed
}

// resolveStartHour picks the CLI start hour when the flag was set, else the
// network file's.
func resolveStartHour(flagChanged bool, flagHour int, cfg *sim.NetworkConfig) int {
	if flagChanged {
		return flagHour
	}
	return cfg.StartHour
}

// serveMetrics starts the /metrics endpoint in the background.
func serveMetrics(addr string, c *telemetry.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics server: %v", err)
		}
	}()
	logrus.Infof("Serving Prometheus metrics on %s/metrics", addr)
	return srv
}

// printTraceSummary writes the movement summary in a stable order.
func printTraceSummary(w io.Writer, st *trace.SimulationTrace) {
	s := trace.Summarize(st)
	_, _ = fmt.Fprintln(w, "=== Trace Summary ===")
	_, _ = fmt.Fprintf(w, "Transfers            : %d records, %d patients moved, %d blocked\n", s.TransferCount, s.PatientsMoved, s.PatientsBlocked)
	_, _ = fmt.Fprintf(w, "Inter-facility moves : %d\n", s.OverflowMoved)
	_, _ = fmt.Fprintf(w, "Lost arrivals        : %d\n", s.PatientsLost)
	_, _ = fmt.Fprintf(w, "Events started       : %d\n", s.EventsStarted)
	routes := make([]string, 0, len(s.RouteDistribution))
	for r := range s.RouteDistribution {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	for _, r := range routes {
		_, _ = fmt.Fprintf(w, "  %-28s %d\n", r, s.RouteDistribution[r])
	}
}

// runFromFlags resolves flags and the network file, checks them, opens the
// optional metrics endpoint and history store, and runs the simulation.
// Every bad input is reported before any resource is opened.
func runFromFlags(cmd *cobra.Command) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
	if !trace.IsValidTraceLevel(traceLevel) {
		return fmt.Errorf("unknown trace level %q", traceLevel)
	}
	if ticks < 0 {
		return fmt.Errorf("ticks must be non-negative, got %d", ticks)
	}

	network, err := loadNetwork(configPath)
	if err != nil {
		return err
	}
	opts := runOptions{
		Network:     network,
		Seed:        resolveSeed(cmd.Flags().Changed("seed"), seed, network),
		Ticks:       ticks,
		StartHour:   resolveStartHour(cmd.Flags().Changed("start-hour"), startHour, network),
		Parallelism: parallelism,
		TraceLevel:  traceLevel,
		Interval:    tickInterval,
	}
	network.StartHour = opts.StartHour
	if err := network.Validate(); err != nil {
		return err
	}

	if metricsAddr != "" {
		collector, err := telemetry.NewCollector(prometheus.NewRegistry())
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		opts.Collector = collector
		srv := serveMetrics(metricsAddr, collector)
		defer func() { _ = srv.Close() }()
	}
	if historyDB != "" {
		store, err := history.Open(historyDB)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		opts.History = store
		defer func() { _ = store.Close() }()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	startTime := time.Now()
	res, err := runSimulation(ctx, opts)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	res.Metrics.Print()
	if summarizeTrace {
		printTraceSummary(os.Stdout, res.Trace)
	}
	logrus.Infof("Simulation complete in %s.", time.Since(startTime))
	return nil
}

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the patient-flow simulation",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runFromFlags(cmd); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// validateCmd checks a network file without running it
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a network configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := loadNetwork(configPath)
		if err != nil {
			return err
		}
		if err := network.Validate(); err != nil {
			return err
		}
		units := 0
		for _, f := range network.Facilities {
			units += len(f.Units)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "network OK: %d facilities, %d units\n", len(network.Facilities), units)
		return nil
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Network YAML file (default: embedded two-hospital network)")

	runCmd.Flags().Int64Var(&seed, "seed", 42, "Master seed for arrivals, treatment times, mortality and absorption")
	runCmd.Flags().IntVar(&ticks, "ticks", 48, "Number of ticks (hours) to simulate")
	runCmd.Flags().IntVar(&startHour, "start-hour", 8, "Hour of day of the first tick (0-23)")
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().IntVar(&parallelism, "parallelism", 1, "Goroutines computing flux per facility (<=1 is serial)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	runCmd.Flags().StringVar(&historyDB, "history-db", "", "Record per-tick unit loads to this SQLite file")
	runCmd.Flags().StringVar(&traceLevel, "trace", string(trace.TraceLevelNone), "Movement trace level (none, movements)")
	runCmd.Flags().BoolVar(&summarizeTrace, "summarize-trace", false, "Print the movement trace summary after the run")
	runCmd.Flags().DurationVar(&tickInterval, "tick-interval", 0, "Wall-clock pause between ticks, for live metrics scraping")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
