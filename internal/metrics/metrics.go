// Package metrics exports live run metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"graphbench/internal/runner"
)

const MetricsPrefix = "graphbench_"

var latencyBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Sink is a runner.MetricsSink backed by Prometheus collectors.
type Sink struct {
	mu  sync.RWMutex
	run string

	runs           *prometheus.CounterVec
	targetDuration *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
	exceptions     *prometheus.CounterVec
	pending        prometheus.Gauge
	state          *prometheus.GaugeVec
}

var _ runner.MetricsSink = (*Sink)(nil)

// NewSink registers the collectors on reg.
func NewSink(reg prometheus.Registerer) *Sink {
	factory := promauto.With(reg)
	return &Sink{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricsPrefix + "runs_total",
				Help: "Number of runs configured",
			},
			[]string{"run", "kind", "warmup"},
		),
		targetDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricsPrefix + "run_target_duration_seconds",
				Help: "Target duration of the current run",
			},
			[]string{"run"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricsPrefix + "call_latency_seconds",
				Help:    "Latency of successful calls",
				Buckets: latencyBuckets,
			},
			[]string{"run"},
		),
		exceptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricsPrefix + "call_exceptions_total",
				Help: "Failed calls by error type",
			},
			[]string{"run", "type"},
		),
		pending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricsPrefix + "pending_calls",
				Help: "Calls submitted but not yet completed",
			},
		),
		state: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricsPrefix + "run_state",
				Help: "1 for the current lifecycle state of the runner",
			},
			[]string{"state"},
		),
	}
}

func (s *Sink) runLabel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run
}

func (s *Sink) Reset(info runner.RunInfo) {
	name := info.Name
	if name == "" {
		name = info.Kind
	}
	s.mu.Lock()
	s.run = name
	s.mu.Unlock()

	s.runs.WithLabelValues(name, info.Kind, strconv.FormatBool(info.Warmup)).Inc()
	s.targetDuration.WithLabelValues(name).Set(info.Duration.Seconds())
	s.pending.Set(0)
}

func (s *Sink) RecordLatency(d time.Duration) {
	s.latency.WithLabelValues(s.runLabel()).Observe(d.Seconds())
}

func (s *Sink) RecordException(errType, _ string) {
	s.exceptions.WithLabelValues(s.runLabel(), errType).Inc()
}

func (s *Sink) IncrementPending() { s.pending.Inc() }
func (s *Sink) DecrementPending() { s.pending.Dec() }

func (s *Sink) SetState(state string) {
	s.state.Reset()
	s.state.WithLabelValues(state).Set(1)
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("serving metrics on http://%s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "metrics server")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return errors.Wrap(server.Shutdown(shutdownCtx), "stopping metrics server")
	}
}
