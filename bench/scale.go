package bench

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scale is the outcome of one concurrency level.
type Scale struct {
	Concurrency int
	// Elapsed is the wall-clock time from submission of the first task
	// to completion of the last.
	Elapsed time.Duration
	// Completed counts successful invocations across all workers.
	Completed int64
	// PerWorker holds each worker's own completion count. Its sum always
	// equals Completed.
	PerWorker []int64
	// Failed counts workers stopped by an isolated failure.
	Failed int64
	// Err is the first isolated failure, if any.
	Err error

	// Latency is Elapsed amortized over Concurrency. Set by
	// ThreadedLatency only.
	Latency time.Duration
	// Throughput is Completed per second of the requested window. Set by
	// ThreadedThroughput only.
	Throughput float64
}

// ThreadedLatency runs op once on each of concurrency workers at the same
// time and returns the total elapsed time divided by concurrency.
//
// The figure is an amortized estimate under contention, useful to compare
// concurrency levels with each other. It is not a single-call latency.
func (m *Meter) ThreadedLatency(
	ctx context.Context,
	op Operation,
	concurrency int,
) (Scale, error) {
	if concurrency < 1 {
		return Scale{}, invalid(
			"concurrency must be at least 1, got %d", concurrency,
		)
	}

	res := Scale{
		Concurrency: concurrency,
		PerWorker:   make([]int64, concurrency),
	}

	var completed atomic.Int64

	start := m.clock.Now()
	err := m.fanOut(ctx, &res, func(ctx context.Context, worker int) error {
		if err := op(ctx); err != nil {
			return &OperationError{Worker: worker, Call: 1, Err: err}
		}

		completed.Add(1)
		res.PerWorker[worker]++

		return nil
	})
	res.Elapsed = m.since(start)
	res.Completed = completed.Load()

	if err != nil {
		return res, err
	}

	res.Latency = res.Elapsed / time.Duration(concurrency)

	return res, nil
}

// ThreadedThroughput runs concurrency workers that each invoke op in a
// loop until duration has passed since a single shared start time, and
// returns the shared completion count per second of duration.
func (m *Meter) ThreadedThroughput(
	ctx context.Context,
	op Operation,
	concurrency int,
	duration time.Duration,
) (Scale, error) {
	if concurrency < 1 {
		return Scale{}, invalid(
			"concurrency must be at least 1, got %d", concurrency,
		)
	}

	if duration <= 0 {
		return Scale{}, invalid("duration must be positive, got %s", duration)
	}

	res := Scale{
		Concurrency: concurrency,
		PerWorker:   make([]int64, concurrency),
	}

	var completed atomic.Int64

	start := m.clock.Now()
	err := m.fanOut(ctx, &res, func(ctx context.Context, worker int) error {
		for m.since(start) < duration {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := op(ctx); err != nil {
				return &OperationError{
					Worker: worker,
					Call:   int(res.PerWorker[worker]) + 1,
					Err:    err,
				}
			}

			completed.Add(1)
			res.PerWorker[worker]++
		}

		return nil
	})
	res.Elapsed = m.since(start)
	res.Completed = completed.Load()

	if err != nil {
		return res, err
	}

	res.Throughput = float64(res.Completed) / duration.Seconds()

	return res, nil
}

// fanOut starts exactly res.Concurrency workers on a fresh pool of the
// same size and waits for all of them. Each worker only writes its own
// PerWorker slot.
func (m *Meter) fanOut(
	ctx context.Context,
	res *Scale,
	task func(ctx context.Context, worker int) error,
) error {
	g := new(errgroup.Group)
	gctx := ctx

	if m.policy == Abort {
		g, gctx = errgroup.WithContext(ctx)
	}

	g.SetLimit(res.Concurrency)

	var (
		failed atomic.Int64
		mu     sync.Mutex
		first  error
	)

	for w := 0; w < res.Concurrency; w++ {
		worker := w

		started := g.TryGo(func() error {
			err := task(gctx, worker)
			if err == nil || m.policy == Abort || ctx.Err() != nil {
				return err
			}

			failed.Add(1)
			m.logger.Warn("worker failed",
				slog.Int("worker", worker),
				slog.Int("concurrency", res.Concurrency),
				slog.String("error", err.Error()),
			)

			mu.Lock()
			if first == nil {
				first = err
			}
			mu.Unlock()

			return nil
		})
		if !started {
			_ = g.Wait()

			return invalidSchedule(worker, res.Concurrency)
		}
	}

	err := g.Wait()

	res.Failed = failed.Load()
	res.Err = first

	return err
}
