package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/interleave-sct/interleave/sct"
	"github.com/interleave-sct/interleave/sct/bench"
	"github.com/interleave-sct/interleave/sct/driver"
)

var (
	// CLI flags for `run`; each overrides the config file when set
	iterations      int    // Number of scheduling windows to run
	driverFlag      string // Driver spec
	prunerFlag      string // Search tree pruner
	seed            int64  // Base seed, run i uses seed+i
	dataFile        string // Binary trace store
	traceFile       string // Text trace target
	preemptionBound uint64 // Maximum preemptions per run
	stopOnBug       bool   // Stop at the first assertion violation
	metricsAddr     string // Listen address for Prometheus metrics
)

// runSummary counts the outcomes of a benchmark loop.
type runSummary struct {
	Runs      int
	Passed    int
	Violated  int
	Exhausted bool
}

// runCmd runs a bundled benchmark repeatedly under the configured driver
var runCmd = &cobra.Command{
	Use:   "run <benchmark>",
	Short: "Run a bundled benchmark under the scheduler",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, ok := bench.Lookup(args[0])
		if !ok {
			return fmt.Errorf("unknown benchmark %q (see `interleave bench`)", args[0])
		}
		cfg, err := loadConfig(resolveConfigPath())
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg)
		closeLog, err := configureLogging(cfg, cmd.Flags().Changed("log"))
		if err != nil {
			return err
		}
		defer closeLog()

		if metricsAddr != "" {
			stop := serveMetrics(metricsAddr)
			defer stop()
		}

		start := time.Now()
		summary, err := runBenchmark(cmd.OutOrStdout(), b, cfg, iterations)
		if err != nil {
			return err
		}
		printf(cmd.OutOrStdout(), "\n%d runs in %v: %d passed, %d assertion violations\n",
			summary.Runs, time.Since(start).Round(time.Millisecond), summary.Passed, summary.Violated)
		if summary.Exhausted {
			printf(cmd.OutOrStdout(), "Search space exhausted.\n")
		}
		return nil
	},
}

// applyRunFlags copies explicitly set flags over the config file values.
func applyRunFlags(cmd *cobra.Command, cfg *sct.Config) {
	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Driver = driverFlag
	}
	if flags.Changed("pruner") {
		cfg.Pruner = prunerFlag
	}
	if flags.Changed("seed") {
		cfg.Seed = &seed
	}
	if flags.Changed("data-file") {
		cfg.DataFile = dataFile
	}
	if flags.Changed("trace-file") {
		cfg.TraceFile = traceFile
	}
	if flags.Changed("preemption-bound") {
		cfg.PreemptionBound = &preemptionBound
	}
}

// runBenchmark opens one session per iteration and runs b in it. It stops early when the
// systematic search is exhausted or, with --stop-on-bug, at the first violation.
// Stop points and the entry point default to the benchmark's own.
func runBenchmark(out io.Writer, b bench.Benchmark, cfg *sct.Config, n int) (runSummary, error) {
	var summary runSummary
	base := *cfg
	if base.EntryPoint == "" {
		base.EntryPoint = b.EntryPoint
	}
	if len(base.WeakPoints) == 0 && len(base.StrongPoints) == 0 {
		base.WeakPoints = b.WeakPoints
	}

	for i := 0; i < n; i++ {
		runCfg := base
		if base.Seed != nil {
			s := *base.Seed + int64(i)
			runCfg.Seed = &s
		}
		s, err := sct.NewSession(&runCfg)
		if errors.Is(err, driver.ErrExhausted) {
			logrus.Infof("search space exhausted after %d runs", i)
			summary.Exhausted = true
			break
		}
		if err != nil {
			return summary, fmt.Errorf("run %d: %w", i+1, err)
		}

		runErr := b.Run(s)
		if err := s.Close(); err != nil {
			logrus.Warnf("run %d: closing session: %v", i+1, err)
		}
		summary.Runs++
		switch {
		case errors.Is(runErr, bench.ErrAssertion):
			summary.Violated++
			printf(out, "Run %d: Assertion violation. (%v)\n", i+1, runErr)
		case runErr != nil:
			return summary, fmt.Errorf("run %d: %w", i+1, runErr)
		default:
			summary.Passed++
			printf(out, "Run %d: Passed.\n", i+1)
		}
		if runErr != nil && stopOnBug {
			break
		}
	}
	return summary, nil
}

// serveMetrics exposes the default Prometheus registry until the returned function is called.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics server: %v", err)
		}
	}()
	logrus.Infof("serving metrics on %s/metrics", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func init() {
	runCmd.Flags().IntVar(&iterations, "iterations", 1, "Number of runs")
	runCmd.Flags().StringVar(&driverFlag, "driver", "", "Driver: console | fuzzing | pursuing | systematic[,first|last|random[,extra-log]]")
	runCmd.Flags().StringVar(&prunerFlag, "pruner", "", "Search tree pruner: identity | randomthset")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Base seed; run i uses seed+i (default time-based)")
	runCmd.Flags().StringVar(&dataFile, "data-file", "", "Binary trace file shared across runs")
	runCmd.Flags().StringVar(&traceFile, "trace-file", "", "Text trace target: - stdout, -- stderr, or a path")
	runCmd.Flags().Uint64Var(&preemptionBound, "preemption-bound", 0, "Maximum preemptions per run")
	runCmd.Flags().BoolVar(&stopOnBug, "stop-on-bug", false, "Stop at the first assertion violation")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")

	rootCmd.AddCommand(runCmd)
}
