package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/weiihann/crudbench/harness"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRecordRow(t *testing.T) {
	r := NewRecorder()

	r.RecordRow(harness.LatencyRow("Redis", "orders", "Read latency", 0.5))
	r.RecordRow(harness.ThroughputRow("Redis", "orders", "Throughput", 1200))
	r.RecordRow(harness.LatencyRow("Redis", "orders", "Read latency", 0.75))

	assert.InDelta(t, 0.75,
		testutil.ToFloat64(r.latency.WithLabelValues("Redis", "orders", "Read latency")), 1e-9)
	assert.InDelta(t, 1200.0,
		testutil.ToFloat64(r.throughput.WithLabelValues("Redis", "orders", "Throughput")), 1e-9)
	assert.InDelta(t, 3.0, testutil.ToFloat64(r.rows.WithLabelValues("Redis")), 1e-9)

	// A latency row leaves the throughput gauge untouched.
	assert.Equal(t, 1, testutil.CollectAndCount(r.throughput))
}

func TestRecordWorkerFailures(t *testing.T) {
	r := NewRecorder()

	r.RecordWorkerFailures("MongoDB", "orders", "Throughput (10 threads)", 3)
	r.RecordWorkerFailures("MongoDB", "orders", "Throughput (10 threads)", 2)

	expected := `
# HELP crudbench_worker_failures_total Workers stopped by a failing operation.
# TYPE crudbench_worker_failures_total counter
crudbench_worker_failures_total{dataset="orders",metric="Throughput (10 threads)",store="MongoDB"} 5
`
	require.NoError(t, testutil.GatherAndCompare(
		r.Registry(), strings.NewReader(expected), "crudbench_worker_failures_total",
	))
}

func TestListenServesMetrics(t *testing.T) {
	r := NewRecorder()
	r.RecordRow(harness.ThroughputRow("CouchDB", "products", "Throughput", 42))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := Listen("127.0.0.1:0", r.Handler(), logger)
	require.NoError(t, err)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	resp, err := client.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body),
		`crudbench_throughput_ops_per_second{dataset="products",metric="Throughput",store="CouchDB"} 42`)

	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestListenBadAddr(t *testing.T) {
	_, err := Listen("not-an-addr", http.NotFoundHandler(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
