package bench

import (
	"context"
	"time"
)

// DefaultRuns is the number of samples averaged by Latency when the
// caller has no preference.
const DefaultRuns = 15

// DefaultDuration is the measurement window used by Throughput when the
// caller has no preference.
const DefaultDuration = 5 * time.Second

// Latency invokes op exactly runs times, one after another, and returns
// the mean wall-clock duration of a single invocation.
//
// The first failing invocation aborts the measurement; no partial mean is
// returned.
func (m *Meter) Latency(
	ctx context.Context,
	op Operation,
	runs int,
) (time.Duration, error) {
	if runs < 1 {
		return 0, invalid("runs must be at least 1, got %d", runs)
	}

	var total time.Duration

	for i := 0; i < runs; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		start := m.clock.Now()
		if err := op(ctx); err != nil {
			return 0, &OperationError{Worker: -1, Call: i + 1, Err: err}
		}

		total += m.since(start)
	}

	return total / time.Duration(runs), nil
}

// Throughput invokes op in a tight loop until duration has elapsed and
// returns completed invocations per second of duration.
//
// The invocation in flight when the window closes is allowed to finish
// and is counted, so the real elapsed time can exceed duration and the
// figure slightly underestimates the true rate.
func (m *Meter) Throughput(
	ctx context.Context,
	op Operation,
	duration time.Duration,
) (float64, error) {
	if duration <= 0 {
		return 0, invalid("duration must be positive, got %s", duration)
	}

	var completed int64

	start := m.clock.Now()
	for m.since(start) < duration {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		if err := op(ctx); err != nil {
			return 0, &OperationError{
				Worker: -1, Call: int(completed) + 1, Err: err,
			}
		}

		completed++
	}

	return float64(completed) / duration.Seconds(), nil
}
