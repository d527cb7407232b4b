package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weiihann/crudbench/bench"
	"github.com/weiihann/crudbench/store"
	"github.com/weiihann/crudbench/workload"
)

// Recorder observes a run as it progresses.
type Recorder interface {
	RecordRow(row Row)
	RecordWorkerFailures(store, dataset, metric string, n int64)
}

// MemoryProbe reports the resident memory of the benchmarking process
// in bytes.
type MemoryProbe func(ctx context.Context) (uint64, error)

// Options tune a Runner. The zero value fails fast, records nothing and
// probes the current process.
type Options struct {
	OnError  ErrorMode
	Recorder Recorder
	Memory   MemoryProbe
}

// Runner walks a plan against one open store session.
type Runner struct {
	store  store.Store
	meter  *bench.Meter
	logger *slog.Logger
	opts   Options
}

// NewRunner creates a Runner. The store stays owned by the caller.
func NewRunner(
	s store.Store,
	meter *bench.Meter,
	logger *slog.Logger,
	opts Options,
) *Runner {
	if opts.OnError == "" {
		opts.OnError = FailFast
	}

	if opts.Memory == nil {
		opts.Memory = ProcessRSS
	}

	return &Runner{
		store:  s,
		meter:  meter,
		logger: logger.With(slog.String("store", s.Name())),
		opts:   opts,
	}
}

// run holds per-run binding state.
type run struct {
	res      *Result
	bound    map[string]store.Operations
	cart     bench.Operation
	cartDone bool
	// dead marks datasets whose steps are all skipped.
	dead map[string]bool
}

// Run executes plan in order and returns the collected rows. Under
// FailFast the partial result is returned alongside the first
// *StepError. Cancellation of ctx always ends the run.
func (r *Runner) Run(ctx context.Context, plan []workload.Step) (*Result, error) {
	started := time.Now()

	st := &run{
		res: &Result{
			RunID:     uuid.NewString(),
			Store:     r.store.Name(),
			StartedAt: started.UTC(),
		},
		bound: make(map[string]store.Operations),
		dead:  make(map[string]bool),
	}

	r.logger.InfoContext(ctx, "run started",
		slog.String("run_id", st.res.RunID),
		slog.Int("steps", len(plan)),
	)

	defer func() {
		st.res.ElapsedMs = time.Since(started).Milliseconds()
	}()

	for _, step := range plan {
		if err := ctx.Err(); err != nil {
			return st.res, fmt.Errorf("run %s: %w", st.res.RunID, err)
		}

		row, ok, err := r.step(ctx, st, step)
		if err != nil {
			if ctx.Err() != nil || r.opts.OnError == FailFast {
				return st.res, err
			}

			r.logger.WarnContext(ctx, "step failed",
				slog.String("dataset", step.Dataset),
				slog.String("metric", step.Metric),
				slog.String("error", err.Error()),
			)
			st.res.Failures = append(st.res.Failures, err.Error())
		}

		if ok {
			st.res.Rows = append(st.res.Rows, row)
			if r.opts.Recorder != nil {
				r.opts.Recorder.RecordRow(row)
			}
		}
	}

	r.logger.InfoContext(ctx, "run finished",
		slog.String("run_id", st.res.RunID),
		slog.Int("rows", len(st.res.Rows)),
		slog.Int("failures", len(st.res.Failures)),
	)

	return st.res, nil
}

// step measures one plan entry. ok reports whether row should be kept;
// a skip-mode step may return both a partial row and an error.
func (r *Runner) step(
	ctx context.Context,
	st *run,
	s workload.Step,
) (row Row, ok bool, err error) {
	if s.Kind == workload.KindMemory {
		return r.memory(ctx, st, s)
	}

	if st.dead[s.Dataset] && s.Op != workload.OpAddToCart {
		return Row{}, false, nil
	}

	op, err := r.resolve(ctx, st, s)
	if err != nil {
		if errors.Is(err, store.ErrEmptyDataset) {
			return Row{}, false, nil
		}

		return Row{}, false, r.stepErr(s, err)
	}

	if op == nil {
		return Row{}, false, nil
	}

	if s.Threaded {
		return r.threaded(ctx, s, op)
	}

	switch s.Kind {
	case workload.KindLatency:
		d, err := r.meter.Latency(ctx, op, s.Runs)
		if err != nil {
			return Row{}, false, r.stepErr(s, err)
		}

		return LatencyRow(r.store.Name(), s.Dataset, s.Metric, millis(d)), true, nil

	case workload.KindThroughput:
		ops, err := r.meter.Throughput(ctx, op, s.Duration)
		if err != nil {
			return Row{}, false, r.stepErr(s, err)
		}

		return ThroughputRow(r.store.Name(), s.Dataset, s.Metric, ops), true, nil

	default:
		return Row{}, false, r.stepErr(s, fmt.Errorf(
			"%w: unknown step kind %q", bench.ErrInvalidConfig, s.Kind,
		))
	}
}

func (r *Runner) threaded(
	ctx context.Context,
	s workload.Step,
	op bench.Operation,
) (Row, bool, error) {
	var (
		scale bench.Scale
		err   error
		row   Row
	)

	switch s.Kind {
	case workload.KindLatency:
		scale, err = r.meter.ThreadedLatency(ctx, op, s.Concurrency)
		row = LatencyRow(r.store.Name(), s.Dataset, s.Metric, millis(scale.Latency))
	case workload.KindThroughput:
		scale, err = r.meter.ThreadedThroughput(ctx, op, s.Concurrency, s.Duration)
		row = ThroughputRow(r.store.Name(), s.Dataset, s.Metric, scale.Throughput)
	default:
		err = fmt.Errorf("%w: unknown step kind %q", bench.ErrInvalidConfig, s.Kind)
	}

	if err != nil {
		return Row{}, false, r.stepErr(s, err)
	}

	row.Concurrency = s.Concurrency

	if scale.Failed == 0 {
		return row, true, nil
	}

	if r.opts.Recorder != nil {
		r.opts.Recorder.RecordWorkerFailures(
			r.store.Name(), s.Dataset, s.Metric, scale.Failed,
		)
	}

	stepErr := r.stepErr(s, fmt.Errorf(
		"%d of %d workers failed: %w", scale.Failed, s.Concurrency, scale.Err,
	))

	// A partial count is only reported when the caller opted into skip.
	if r.opts.OnError == FailFast {
		return Row{}, false, stepErr
	}

	return row, true, stepErr
}

// resolve returns the operation for s, binding its dataset on first use.
// A nil operation with a nil error means the step is skipped.
func (r *Runner) resolve(
	ctx context.Context,
	st *run,
	s workload.Step,
) (bench.Operation, error) {
	if s.Op == workload.OpAddToCart {
		if !st.cartDone {
			st.cartDone = true

			op, err := r.store.AddToCart(ctx)
			if errors.Is(err, store.ErrEmptyDataset) {
				r.logger.WarnContext(ctx, "skipping add-to-cart",
					slog.String("error", err.Error()),
				)
			}
			if err != nil {
				return nil, fmt.Errorf("prepare add-to-cart: %w", err)
			}

			st.cart = op
		}

		return st.cart, nil
	}

	ops, ok := st.bound[s.Dataset]
	if !ok {
		var err error

		ops, err = r.store.Bind(ctx, s.Dataset)
		if err != nil {
			st.dead[s.Dataset] = true

			if errors.Is(err, store.ErrEmptyDataset) {
				r.logger.WarnContext(ctx, "skipping dataset",
					slog.String("dataset", s.Dataset),
					slog.String("reason", err.Error()),
				)
				st.res.Skipped = append(st.res.Skipped, s.Dataset)
			}

			return nil, fmt.Errorf("bind %s: %w", s.Dataset, err)
		}

		st.bound[s.Dataset] = ops
	}

	return ops.Get(store.OpKind(s.Op))
}

func (r *Runner) memory(
	ctx context.Context,
	st *run,
	s workload.Step,
) (Row, bool, error) {
	rss, err := r.opts.Memory(ctx)
	if err != nil {
		return Row{}, false, r.stepErr(s, fmt.Errorf("probe memory: %w", err))
	}

	st.res.MemoryBytes = rss

	mb := float64(rss) / (1 << 20)

	return LatencyRow(r.store.Name(), s.Dataset, s.Metric, mb), true, nil
}

func (r *Runner) stepErr(s workload.Step, err error) *StepError {
	return &StepError{
		Store:       r.store.Name(),
		Dataset:     s.Dataset,
		Metric:      s.Metric,
		Concurrency: s.Concurrency,
		Err:         err,
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
