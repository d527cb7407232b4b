// Package report formats benchmark results as markdown, JSON, CSV or YAML.
package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/weiihann/crudbench/harness"
	"github.com/weiihann/crudbench/workload"
)

// Format names an output encoding.
type Format string

const (
	Markdown Format = "markdown"
	JSON     Format = "json"
	CSV      Format = "csv"
	YAML     Format = "yaml"
)

// Formats returns the supported output formats.
func Formats() []Format {
	return []Format{Markdown, JSON, CSV, YAML}
}

var errNoResults = errors.New("no results to report")

// Write encodes results to w in the given format.
func Write(w io.Writer, format Format, results []harness.Result) error {
	switch format {
	case Markdown, "":
		return Generate(w, results)
	case JSON:
		return GenerateJSON(w, results)
	case CSV:
		return GenerateCSV(w, results)
	case YAML:
		return GenerateYAML(w, results)
	default:
		return fmt.Errorf("unknown report format %q (known: %v)", format, Formats())
	}
}

// Generate writes one markdown table per result, followed by a scaling
// table comparing threaded throughput with the single-worker baseline.
func Generate(w io.Writer, results []harness.Result) error {
	if len(results) == 0 {
		return errNoResults
	}

	fmt.Fprintln(w, "## Benchmark Results")

	for _, r := range results {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "### %s\n", r.Store)
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Run `%s`, started %s, took %s, RSS %s.\n",
			r.RunID,
			r.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
			formatMs(r.ElapsedMs),
			formatBytes(r.MemoryBytes),
		)
		fmt.Fprintln(w)

		fmt.Fprintln(w, "| Dataset | Metric | Latency (ms) | Throughput (ops/sec) |")
		fmt.Fprintln(w, "|---------|--------|--------------|----------------------|")

		for _, row := range r.Rows {
			fmt.Fprintf(w, "| %s | %s | %s | %s |\n",
				row.Dataset,
				row.Metric,
				formatFloat(row.LatencyMs, 3),
				formatFloat(row.ThroughputOps, 2),
			)
		}

		if scaling := scalingRows(r.Rows); len(scaling) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "| Dataset | Threads | Throughput (ops/sec) | Speedup |")
			fmt.Fprintln(w, "|---------|---------|----------------------|---------|")

			for _, s := range scaling {
				fmt.Fprintf(w, "| %s | %d | %.2f | %s |\n",
					s.dataset, s.threads, s.ops, formatSpeedup(s.speedup))
			}
		}

		if len(r.Skipped) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Skipped empty datasets: %v\n", r.Skipped)
		}

		if len(r.Failures) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Failed steps:")

			for _, f := range r.Failures {
				fmt.Fprintf(w, "  - %s\n", f)
			}
		}
	}

	return nil
}

// GenerateJSON writes results as JSON to w.
func GenerateJSON(w io.Writer, results []harness.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(results)
}

// GenerateYAML writes results as a YAML sequence to w.
func GenerateYAML(w io.Writer, results []harness.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}

	return enc.Close()
}

// GenerateCSV writes every row of every result as one CSV line. Missing
// values are left empty.
func GenerateCSV(w io.Writer, results []harness.Result) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{
		"Database", "Dataset", "Metric", "Latency (ms)", "Throughput (ops/sec)",
	}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range results {
		for _, row := range r.Rows {
			if err := cw.Write([]string{
				row.Store,
				row.Dataset,
				row.Metric,
				csvFloat(row.LatencyMs),
				csvFloat(row.ThroughputOps),
			}); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}

	cw.Flush()

	return cw.Error()
}

type scaling struct {
	dataset string
	threads int
	ops     float64
	speedup float64
}

// scalingRows pairs each threaded throughput row with the single-worker
// throughput of the same dataset.
func scalingRows(rows []harness.Row) []scaling {
	baseline := make(map[string]float64)

	for _, row := range rows {
		if row.Metric == workload.MetricThroughput && row.ThroughputOps != nil {
			baseline[row.Dataset] = *row.ThroughputOps
		}
	}

	var out []scaling

	for _, row := range rows {
		if row.Concurrency == 0 || row.ThroughputOps == nil {
			continue
		}

		s := scaling{
			dataset: row.Dataset,
			threads: row.Concurrency,
			ops:     *row.ThroughputOps,
		}

		if base := baseline[row.Dataset]; base > 0 {
			s.speedup = s.ops / base
		}

		out = append(out, s)
	}

	return out
}

func formatFloat(v *float64, prec int) string {
	if v == nil {
		return "-"
	}

	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}

	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatSpeedup(x float64) string {
	if x == 0 {
		return "-"
	}

	return fmt.Sprintf("%.2fx", x)
}

func formatMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}

	return fmt.Sprintf("%.2fs", float64(ms)/1000)
}

func formatBytes(b uint64) string {
	if b == 0 {
		return "-"
	}

	return humanize.IBytes(b)
}
