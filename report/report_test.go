package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/weiihann/crudbench/harness"
)

func threaded(row harness.Row, n int) harness.Row {
	row.Concurrency = n
	return row
}

func sampleResults() []harness.Result {
	return []harness.Result{{
		RunID:       "00000000-0000-0000-0000-000000000001",
		Store:       "Redis",
		StartedAt:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		ElapsedMs:   1500,
		MemoryBytes: 64 << 20,
		Rows: []harness.Row{
			harness.LatencyRow("Redis", "orders", "Read latency", 0.25),
			harness.ThroughputRow("Redis", "orders", "Throughput", 4000),
			threaded(harness.LatencyRow(
				"Redis", "orders", "Read latency (10 threads)", 0.05), 10),
			threaded(harness.ThroughputRow(
				"Redis", "orders", "Throughput (10 threads)", 12000), 10),
			harness.LatencyRow("Redis", "System", "RAM usage (MB)", 64),
		},
		Skipped: []string{"sellers"},
	}}
}

func TestGenerateMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Generate(&buf, sampleResults()))

	goldie.New(t).Assert(t, "markdown", buf.Bytes())
}

func TestGenerateMarkdownFailures(t *testing.T) {
	results := []harness.Result{{
		RunID: "r1",
		Store: "CouchDB",
		Rows: []harness.Row{
			harness.LatencyRow("CouchDB", "orders", "Read latency", 1.5),
		},
		Failures: []string{`CouchDB/orders "Scan latency" (concurrency 1): boom`},
	}}

	var buf bytes.Buffer
	require.NoError(t, Generate(&buf, results))

	out := buf.String()
	assert.Contains(t, out, "RSS -")
	assert.Contains(t, out, "took 0ms")
	assert.Contains(t, out, "Failed steps:\n  - CouchDB/orders")
	assert.NotContains(t, out, "Speedup", "no threaded rows, no scaling table")
}

func TestGenerateCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, GenerateCSV(&buf, sampleResults()))

	goldie.New(t).Assert(t, "csv", buf.Bytes())
}

func TestGenerateJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, GenerateJSON(&buf, sampleResults()))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)

	rows, ok := decoded[0]["rows"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 5)

	first := rows[0].(map[string]any)
	assert.Equal(t, 0.25, first["latency_ms"])
	assert.Nil(t, first["throughput_ops"])
	assert.NotContains(t, first, "concurrency")
	assert.NotContains(t, decoded[0], "failures")
}

func TestGenerateYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, GenerateYAML(&buf, sampleResults()))

	assert.True(t, strings.HasPrefix(buf.String(), "- run_id: 00000000-0000-0000-0000-000000000001\n"))

	var decoded []harness.Result
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, sampleResults()[0].Rows, decoded[0].Rows)
}

func TestWriteDispatch(t *testing.T) {
	for _, f := range Formats() {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, f, sampleResults()), f)
		assert.NotZero(t, buf.Len(), f)
	}

	err := Write(&bytes.Buffer{}, "xml", sampleResults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown report format")
}

func TestGenerateEmpty(t *testing.T) {
	require.ErrorIs(t, Generate(&bytes.Buffer{}, nil), errNoResults)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "-", formatBytes(0))
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "64 MiB", formatBytes(64<<20))
}
