// Package bench measures the latency and throughput of store operations,
// both sequentially and under a fixed number of concurrent workers.
package bench

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Operation performs one logical unit of work against a store. A nil
// return means the invocation completed; any returned value beyond that
// is not interpreted.
type Operation func(ctx context.Context) error

// Clock reports the current wall-clock time.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// FailurePolicy decides what a worker pool does when one of its workers
// fails.
type FailurePolicy int

const (
	// Isolate stops only the failing worker. The failure is logged and
	// counted, and the siblings keep running.
	Isolate FailurePolicy = iota
	// Abort cancels every sibling worker and returns the first failure.
	Abort
)

// String returns the configuration name of the policy.
func (p FailurePolicy) String() string {
	switch p {
	case Isolate:
		return "isolate"
	case Abort:
		return "abort"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy converts a configuration value into a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "isolate", "":
		return Isolate, nil
	case "abort":
		return Abort, nil
	default:
		return Isolate, fmt.Errorf(
			"%w: unknown failure policy %q", ErrInvalidConfig, s,
		)
	}
}

// Meter runs operations and times them against its Clock.
type Meter struct {
	clock  Clock
	policy FailurePolicy
	logger *slog.Logger
}

// Option configures a Meter.
type Option func(*Meter)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(m *Meter) { m.clock = c }
}

// WithFailurePolicy sets how worker pools react to a failing worker.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(m *Meter) { m.policy = p }
}

// WithLogger sets the logger used to report isolated worker failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Meter) { m.logger = l }
}

// NewMeter creates a Meter. Without options it uses the wall clock, the
// Isolate policy and a discarding logger.
func NewMeter(opts ...Option) *Meter {
	m := &Meter{
		clock:  wallClock{},
		policy: Isolate,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Policy returns the worker failure policy of the Meter.
func (m *Meter) Policy() FailurePolicy {
	return m.policy
}

func (m *Meter) since(start time.Time) time.Duration {
	return m.clock.Now().Sub(start)
}
