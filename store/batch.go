package store

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/weiihann/crudbench/dataset"
)

// DefaultBatchSize is the number of records submitted per bulk request.
const DefaultBatchSize = 5000

// LoadOptions control how records are submitted.
type LoadOptions struct {
	BatchSize int
	// Limiter throttles batch submission. Nil means unlimited.
	Limiter *rate.Limiter
}

// NewLimiter returns a limiter admitting perSecond batches per second,
// or nil when perSecond is not positive.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}

	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Batches calls fn for consecutive slices of records of at most
// opts.BatchSize, waiting on opts.Limiter before each one. The offset of
// each batch within records is passed along for diagnostics.
func Batches(
	ctx context.Context,
	records []dataset.Record,
	opts LoadOptions,
	fn func(offset int, batch []dataset.Record) error,
) error {
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	for off := 0; off < len(records); off += size {
		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(ctx); err != nil {
				return fmt.Errorf("wait for batch %d: %w", off, err)
			}
		}

		end := min(off+size, len(records))
		if err := fn(off, records[off:end]); err != nil {
			return fmt.Errorf("batch %d-%d: %w", off, end, err)
		}
	}

	return nil
}
