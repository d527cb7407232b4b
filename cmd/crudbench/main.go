// Package main provides the CLI entry point for crudbench, a cross-store
// CRUD benchmarking tool.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/crudbench/bench"
	"github.com/weiihann/crudbench/config"
	"github.com/weiihann/crudbench/harness"
	"github.com/weiihann/crudbench/report"
	"github.com/weiihann/crudbench/telemetry"
	"github.com/weiihann/crudbench/workload"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// app carries state shared by every subcommand. It is filled in by the
// root command before any subcommand runs.
type app struct {
	configFile string
	logLevel   string

	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
	cfg    *config.Config
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "crudbench",
		Short: "Cross-store CRUD benchmarking tool",
		Long: `Crudbench measures read, scan, insert and update latency and
throughput against CouchDB, MongoDB and Redis, sequentially and under
increasing worker counts, and reports one row per measured metric.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "",
		"Path to a YAML config file")
	pf.StringVar(&a.logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(a), newLoadCmd(a), newPlanCmd(a))

	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.Load(a.configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg

	return nil
}

// addBenchFlags registers the flags that shape a plan. Their values are
// read back through config.Load, which gives them top precedence.
func addBenchFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int("runs", bench.DefaultRuns,
		"Sequential samples per latency metric")
	flags.Duration("duration", bench.DefaultDuration,
		"Window of every throughput metric")
	flags.Int("add-to-cart-runs", bench.DefaultRuns,
		"Samples of the add-to-cart latency metric")
	flags.StringSlice("datasets", nil,
		"Datasets to benchmark (default: all known)")
}

func newRunCmd(a *app) *cobra.Command {
	var (
		stores []string
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Benchmark one or more stores",
		Long: `Open each store in turn, measure every dataset and the
add-to-cart workload, and write a report of all collected rows.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBenchmark(cmd.Context(), stores, report.Format(format), output)
		},
	}

	addBenchFlags(cmd)

	flags := cmd.Flags()
	flags.StringSliceVar(&stores, "stores", nil,
		fmt.Sprintf("Stores to benchmark %v", harness.KnownStores()))
	flags.Int("scan-limit", 300,
		"Records fetched by one scan")
	flags.String("on-error", string(harness.FailFast),
		"Step failure handling: fail-fast or skip")
	flags.String("failure-policy", bench.Isolate.String(),
		"Worker failure handling: isolate or abort")
	flags.String("metrics-addr", "",
		"Serve Prometheus metrics on this address while running")
	flags.StringVar(&format, "format", string(report.Markdown),
		fmt.Sprintf("Report format %v", report.Formats()))
	flags.StringVarP(&output, "output", "o", "",
		"Write the report to a file instead of stdout")

	return cmd
}

func (a *app) runBenchmark(
	ctx context.Context,
	stores []string,
	format report.Format,
	output string,
) error {
	if len(stores) == 0 {
		return fmt.Errorf(
			"at least one store must be specified via --stores",
		)
	}

	cfg := a.cfg

	mode, err := harness.ParseErrorMode(cfg.OnError)
	if err != nil {
		return err
	}

	policy, err := bench.ParseFailurePolicy(cfg.FailurePolicy)
	if err != nil {
		return err
	}

	recorder := telemetry.NewRecorder()

	if cfg.MetricsAddr != "" {
		srv, err := telemetry.Listen(cfg.MetricsAddr, recorder.Handler(), a.logger)
		if err != nil {
			return err
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
			}
		}()
	}

	a.logger.InfoContext(ctx, "starting benchmark",
		slog.Any("stores", stores),
		slog.Any("datasets", cfg.Datasets),
		slog.Int("runs", cfg.Runs),
		slog.Duration("duration", cfg.Duration),
		slog.String("on_error", string(mode)),
		slog.String("failure_policy", policy.String()),
	)

	meter := bench.NewMeter(
		bench.WithFailurePolicy(policy),
		bench.WithLogger(a.logger),
	)

	results := make([]harness.Result, 0, len(stores))

	for _, name := range stores {
		result, err := a.benchStore(ctx, name, meter, harness.Options{
			OnError:  mode,
			Recorder: recorder,
		})
		if err != nil {
			return fmt.Errorf("benchmark %s: %w", name, err)
		}

		results = append(results, *result)
	}

	if err := a.writeReport(format, output, results); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "benchmark complete")

	return nil
}

func (a *app) benchStore(
	ctx context.Context,
	name string,
	meter *bench.Meter,
	opts harness.Options,
) (*harness.Result, error) {
	steps, err := workload.NewGenerator(a.cfg.Plan(name)).Steps()
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}

	backend, err := harness.Open(ctx, name, a.cfg.Connection())
	if err != nil {
		return nil, err
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := backend.Close(closeCtx); err != nil {
			a.logger.Warn("close store",
				slog.String("store", name),
				slog.String("error", err.Error()),
			)
		}
	}()

	runner := harness.NewRunner(backend, meter, a.logger, opts)

	return runner.Run(ctx, steps)
}

func (a *app) writeReport(
	format report.Format,
	output string,
	results []harness.Result,
) error {
	w := a.stdout

	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer f.Close()

		w = f
	}

	if err := report.Write(w, format, results); err != nil {
		return fmt.Errorf("generate %s report: %w", format, err)
	}

	if output != "" {
		a.logger.Info("report written", slog.String("path", output))
	}

	return nil
}

func newLoadCmd(a *app) *cobra.Command {
	var stores []string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Seed stores from the dataset CSV files",
		Long: `Read each catalogue CSV from the data directory and bulk-load it
into every given store. Missing files are skipped with a warning.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadStores(cmd.Context(), stores)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&stores, "stores", nil,
		fmt.Sprintf("Stores to load %v", harness.KnownStores()))
	flags.StringSlice("datasets", nil,
		"Datasets to load (default: all known)")
	flags.String("data-dir", ".",
		"Directory holding the dataset CSV files")
	flags.Int("batch-size", 5000,
		"Records per bulk request")
	flags.Float64("batches-per-second", 0,
		"Throttle bulk requests (0 = unlimited)")

	return cmd
}

func (a *app) loadStores(ctx context.Context, stores []string) error {
	if len(stores) == 0 {
		return fmt.Errorf(
			"at least one store must be specified via --stores",
		)
	}

	settings := a.cfg.LoadSettings()

	for _, name := range stores {
		backend, err := harness.Open(ctx, name, a.cfg.Connection())
		if err != nil {
			return err
		}

		logger := a.logger.With(slog.String("store", name))

		reports, err := harness.Load(ctx, backend, logger, settings)

		if closeErr := backend.Close(ctx); closeErr != nil {
			logger.Warn("close store", slog.String("error", closeErr.Error()))
		}

		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}

		total := 0
		for _, r := range reports {
			total += r.Loaded
		}

		logger.InfoContext(ctx, "store loaded",
			slog.Int("datasets", len(reports)),
			slog.Int("records", total),
		)
	}

	return nil
}

func newPlanCmd(a *app) *cobra.Command {
	var storeName string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the benchmark plan as JSONL",
		Long: `Expand the configuration into the ordered list of measurement
steps a run would execute for one store, without contacting it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := workload.NewGenerator(a.cfg.Plan(storeName)).Generate(a.stdout)
			if err != nil {
				return fmt.Errorf("generate plan: %w", err)
			}

			a.logger.InfoContext(cmd.Context(), "plan generated",
				slog.String("store", storeName),
				slog.Int("steps", summary.TotalSteps),
				slog.Int("latency", summary.LatencySteps),
				slog.Int("throughput", summary.ThroughputSteps),
				slog.Int("threaded", summary.ThreadedSteps),
			)

			return nil
		},
	}

	addBenchFlags(cmd)

	cmd.Flags().StringVar(&storeName, "store", "redis",
		"Store whose concurrency levels shape the plan")

	return cmd
}
