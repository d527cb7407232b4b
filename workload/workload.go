// Package workload expands benchmark settings into a deterministic,
// ordered plan of measurement steps. Datasets form the outer loop,
// metrics the inner loop and concurrency levels the innermost one.
package workload

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/weiihann/crudbench/bench"
	"github.com/weiihann/crudbench/store"
)

// Kind says which primitive measures a step.
type Kind string

const (
	KindLatency    Kind = "latency"
	KindThroughput Kind = "throughput"
	// KindMemory reports process resident memory instead of timing an
	// operation.
	KindMemory Kind = "memory"
)

// Op names the operation a step drives. The per-dataset kinds mirror
// store.OpKind.
type Op string

const (
	OpRead      = Op(store.OpRead)
	OpScan      = Op(store.OpScan)
	OpInsert    = Op(store.OpInsert)
	OpUpdate    = Op(store.OpUpdate)
	OpAddToCart Op = "add_to_cart"
	OpMemory    Op = "memory"
)

// SystemDataset labels rows that are not tied to a dataset.
const SystemDataset = "System"

// MetricThroughput is the single-worker throughput metric of a dataset,
// the baseline its threaded throughput is compared with.
const MetricThroughput = "Throughput"

// Step is a single measurement in the plan.
type Step struct {
	Dataset string `json:"dataset"`
	Metric  string `json:"metric"`
	Op      Op     `json:"op"`
	Kind    Kind   `json:"kind"`
	// Concurrency is the worker count for threaded steps and 1 otherwise.
	Concurrency int  `json:"concurrency"`
	Threaded    bool `json:"threaded,omitempty"`
	// Runs is the sample count of unthreaded latency steps.
	Runs int `json:"runs,omitempty"`
	// Duration is the window of throughput steps.
	Duration time.Duration `json:"duration,omitempty"`
}

// Summary contains statistics about the generated plan.
type Summary struct {
	TotalSteps      int
	LatencySteps    int
	ThroughputSteps int
	ThreadedSteps   int
}

// Config controls plan generation.
type Config struct {
	Datasets          []string
	ConcurrencyLevels []int
	Runs              int
	Duration          time.Duration
	// AddToCartRuns is the sample count of the composite latency step.
	AddToCartRuns int
	// CartDataset labels the composite rows. Empty disables them.
	CartDataset string
	// Memory appends the resident-memory row.
	Memory bool
}

// Generator produces deterministic plans from a Config.
type Generator struct {
	cfg Config
}

// NewGenerator creates a Generator from the given Config.
func NewGenerator(cfg Config) *Generator {
	return &Generator{cfg: cfg}
}

// Validate rejects non-positive sample counts, windows and levels, and
// levels that are not strictly ascending.
func (g *Generator) Validate() error {
	if g.cfg.Runs < 1 {
		return fmt.Errorf("%w: runs must be at least 1, got %d",
			bench.ErrInvalidConfig, g.cfg.Runs)
	}

	if g.cfg.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %s",
			bench.ErrInvalidConfig, g.cfg.Duration)
	}

	if g.cfg.CartDataset != "" && g.cfg.AddToCartRuns < 1 {
		return fmt.Errorf("%w: add-to-cart runs must be at least 1, got %d",
			bench.ErrInvalidConfig, g.cfg.AddToCartRuns)
	}

	prev := 0
	for _, level := range g.cfg.ConcurrencyLevels {
		if level < 1 {
			return fmt.Errorf("%w: concurrency level must be at least 1, got %d",
				bench.ErrInvalidConfig, level)
		}

		if level <= prev {
			return fmt.Errorf("%w: concurrency levels must be ascending, got %v",
				bench.ErrInvalidConfig, g.cfg.ConcurrencyLevels)
		}

		prev = level
	}

	return nil
}

// Steps returns the plan in run order.
func (g *Generator) Steps() ([]Step, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	var steps []Step

	for _, ds := range g.cfg.Datasets {
		steps = append(steps,
			g.latency(ds, "Read latency", OpRead, g.cfg.Runs),
			g.latency(ds, "Scan latency", OpScan, g.cfg.Runs),
			g.latency(ds, "Insert latency", OpInsert, g.cfg.Runs),
			g.latency(ds, "Update latency", OpUpdate, g.cfg.Runs),
			g.throughput(ds, MetricThroughput, OpRead),
		)

		for _, level := range g.cfg.ConcurrencyLevels {
			steps = append(steps,
				Step{
					Dataset:     ds,
					Metric:      fmt.Sprintf("Read latency (%d threads)", level),
					Op:          OpRead,
					Kind:        KindLatency,
					Concurrency: level,
					Threaded:    true,
				},
				Step{
					Dataset:     ds,
					Metric:      fmt.Sprintf("Throughput (%d threads)", level),
					Op:          OpRead,
					Kind:        KindThroughput,
					Concurrency: level,
					Threaded:    true,
					Duration:    g.cfg.Duration,
				},
			)
		}
	}

	if cart := g.cfg.CartDataset; cart != "" {
		steps = append(steps,
			g.latency(cart, "Add-to-Cart latency", OpAddToCart, g.cfg.AddToCartRuns),
			g.throughput(cart, "Add-to-Cart throughput", OpAddToCart),
		)
	}

	if g.cfg.Memory {
		steps = append(steps, Step{
			Dataset:     SystemDataset,
			Metric:      "RAM usage (MB)",
			Op:          OpMemory,
			Kind:        KindMemory,
			Concurrency: 1,
		})
	}

	return steps, nil
}

// Generate writes the plan to w as JSONL and returns a Summary.
func (g *Generator) Generate(w io.Writer) (Summary, error) {
	var summary Summary

	steps, err := g.Steps()
	if err != nil {
		return summary, err
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for _, s := range steps {
		if err := enc.Encode(s); err != nil {
			return summary, fmt.Errorf("encode %s/%s: %w", s.Dataset, s.Metric, err)
		}

		summary.TotalSteps++

		switch s.Kind {
		case KindLatency:
			summary.LatencySteps++
		case KindThroughput:
			summary.ThroughputSteps++
		}

		if s.Threaded {
			summary.ThreadedSteps++
		}
	}

	return summary, nil
}

func (g *Generator) latency(ds, metric string, op Op, runs int) Step {
	return Step{
		Dataset:     ds,
		Metric:      metric,
		Op:          op,
		Kind:        KindLatency,
		Concurrency: 1,
		Runs:        runs,
	}
}

func (g *Generator) throughput(ds, metric string, op Op) Step {
	return Step{
		Dataset:     ds,
		Metric:      metric,
		Op:          op,
		Kind:        KindThroughput,
		Concurrency: 1,
		Duration:    g.cfg.Duration,
	}
}
