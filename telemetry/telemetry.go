// Package telemetry exposes benchmark results as Prometheus metrics.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weiihann/crudbench/harness"
)

const namespace = "crudbench"

var rowLabels = []string{"store", "dataset", "metric"}

// Recorder keeps the latest measured value of every row in its own
// registry. It implements harness.Recorder.
type Recorder struct {
	registry   *prometheus.Registry
	latency    *prometheus.GaugeVec
	throughput *prometheus.GaugeVec
	failures   *prometheus.CounterVec
	rows       *prometheus.CounterVec
}

var _ harness.Recorder = (*Recorder)(nil)

// NewRecorder creates a Recorder with a fresh registry that also carries
// the Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latency_milliseconds",
			Help:      "Latest measured latency of a benchmark row.",
		}, rowLabels),
		throughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_ops_per_second",
			Help:      "Latest measured throughput of a benchmark row.",
		}, rowLabels),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_failures_total",
			Help:      "Workers stopped by a failing operation.",
		}, rowLabels),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Result rows recorded.",
		}, []string{"store"}),
	}

	r.registry.MustRegister(
		r.latency,
		r.throughput,
		r.failures,
		r.rows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// RecordRow implements harness.Recorder.
func (r *Recorder) RecordRow(row harness.Row) {
	if row.LatencyMs != nil {
		r.latency.WithLabelValues(row.Store, row.Dataset, row.Metric).Set(*row.LatencyMs)
	}

	if row.ThroughputOps != nil {
		r.throughput.WithLabelValues(row.Store, row.Dataset, row.Metric).Set(*row.ThroughputOps)
	}

	r.rows.WithLabelValues(row.Store).Inc()
}

// RecordWorkerFailures implements harness.Recorder.
func (r *Recorder) RecordWorkerFailures(store, dataset, metric string, n int64) {
	r.failures.WithLabelValues(store, dataset, metric).Add(float64(n))
}

// Registry returns the registry the metrics live in.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics until shut down.
type Server struct {
	srv  *http.Server
	ln   net.Listener
	done chan error
}

// Listen binds addr and starts serving h on /metrics in the background.
// Bind errors are returned synchronously.
func Listen(addr string, h http.Handler, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h)

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:   ln,
		done: make(chan error, 1),
	}

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}

		if err != nil {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}

		s.done <- err
	}()

	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server and waits for it to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}

	return <-s.done
}
