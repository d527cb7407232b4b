package harness

import (
	"fmt"

	"github.com/weiihann/crudbench/bench"
)

// ErrorMode decides whether a failing step ends the run.
type ErrorMode string

const (
	// FailFast aborts the run on the first failing step.
	FailFast ErrorMode = "fail-fast"
	// Skip logs the failing step and moves on to the next one.
	Skip ErrorMode = "skip"
)

// ParseErrorMode converts a configuration value into an ErrorMode.
func ParseErrorMode(s string) (ErrorMode, error) {
	switch ErrorMode(s) {
	case FailFast, "":
		return FailFast, nil
	case Skip:
		return Skip, nil
	default:
		return FailFast, fmt.Errorf(
			"%w: unknown error mode %q", bench.ErrInvalidConfig, s,
		)
	}
}

// StepError identifies the step that failed a run.
type StepError struct {
	Store       string
	Dataset     string
	Metric      string
	Concurrency int
	Err         error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s/%s %q (concurrency %d): %v",
		e.Store, e.Dataset, e.Metric, e.Concurrency, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
