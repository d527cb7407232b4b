package bench

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned before any timing starts when runs,
	// duration or concurrency is not positive.
	ErrInvalidConfig = errors.New("invalid benchmark configuration")

	// ErrScheduling is returned when the worker pool refuses a task. It
	// is never caused by the operation itself.
	ErrScheduling = errors.New("worker pool rejected task")
)

// OperationError wraps a failure returned by an Operation.
type OperationError struct {
	// Worker is the index of the pool worker, or -1 for a sequential
	// measurement.
	Worker int
	// Call is the 1-based invocation index within the worker.
	Call int
	Err  error
}

func (e *OperationError) Error() string {
	if e.Worker < 0 {
		return fmt.Sprintf("operation failed on call %d: %v", e.Call, e.Err)
	}

	return fmt.Sprintf(
		"operation failed on worker %d call %d: %v", e.Worker, e.Call, e.Err,
	)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

func invalidSchedule(worker, concurrency int) error {
	return fmt.Errorf(
		"%w: task %d of %d could not start", ErrScheduling, worker, concurrency,
	)
}
