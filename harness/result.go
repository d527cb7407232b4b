// Package harness runs a benchmark plan against one store and collects
// the measured rows.
package harness

import "time"

// Row is one measured metric. Exactly one of LatencyMs and ThroughputOps
// is set, except for the memory row which reports megabytes in LatencyMs.
type Row struct {
	Store         string   `json:"store" yaml:"store"`
	Dataset       string   `json:"dataset" yaml:"dataset"`
	Metric        string   `json:"metric" yaml:"metric"`
	LatencyMs     *float64 `json:"latency_ms" yaml:"latency_ms"`
	ThroughputOps *float64 `json:"throughput_ops" yaml:"throughput_ops"`
	// Concurrency is the worker count of threaded rows, zero otherwise.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// LatencyRow builds a row carrying a latency in milliseconds.
func LatencyRow(store, dataset, metric string, ms float64) Row {
	return Row{Store: store, Dataset: dataset, Metric: metric, LatencyMs: &ms}
}

// ThroughputRow builds a row carrying operations per second.
func ThroughputRow(store, dataset, metric string, ops float64) Row {
	return Row{Store: store, Dataset: dataset, Metric: metric, ThroughputOps: &ops}
}

// Result holds everything measured in one run, rows in run order.
type Result struct {
	RunID       string    `json:"run_id" yaml:"run_id"`
	Store       string    `json:"store" yaml:"store"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	ElapsedMs   int64     `json:"elapsed_ms" yaml:"elapsed_ms"`
	MemoryBytes uint64    `json:"memory_bytes" yaml:"memory_bytes"`
	Rows        []Row     `json:"rows" yaml:"rows"`
	// Skipped lists datasets that held no data.
	Skipped []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	// Failures lists steps that failed under the skip error mode.
	Failures []string `json:"failures,omitempty" yaml:"failures,omitempty"`
}
