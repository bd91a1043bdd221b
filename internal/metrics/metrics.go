// Package metrics exposes prometheus collectors for sync runs and phases.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schaermu/bootsyncd/internal/sync"
)

const namespace = "bootsyncd"

// Result label values
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics implements sync.Recorder on its own registry
type Metrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	phaseTotal    *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	lastSuccess   prometheus.Gauge
	failedPhase   *prometheus.CounterVec
}

var _ sync.Recorder = (*Metrics)(nil)

// New creates and registers the collectors, including Go and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "runs_total",
				Help:      "Total number of sync runs by result",
			},
			[]string{"result"},
		),

		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "run_duration_seconds",
				Help:      "Duration of sync runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
		),

		phaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "phase_total",
				Help:      "Total number of executed sync phases by phase and result",
			},
			[]string{"phase", "result"},
		),

		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "phase_duration_seconds",
				Help:      "Duration of sync phases in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"phase"},
		),

		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful sync run",
			},
		),

		failedPhase: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "aborted_total",
				Help:      "Total number of failed sync runs by the phase that aborted them",
			},
			[]string{"phase"},
		),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.phaseTotal,
		m.phaseDuration,
		m.lastSuccess,
		m.failedPhase,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObservePhase records one executed phase
func (m *Metrics) ObservePhase(phase string, d time.Duration, err error) {
	m.phaseTotal.WithLabelValues(phase, result(err)).Inc()
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveRun records a finished run. Failures outside any phase, such as
// a missing boot-service root, are counted under phase "precondition".
func (m *Metrics) ObserveRun(d time.Duration, err error) {
	m.runsTotal.WithLabelValues(result(err)).Inc()
	m.runDuration.Observe(d.Seconds())

	if err == nil {
		m.lastSuccess.SetToCurrentTime()
		return
	}
	phase := "precondition"
	var phaseErr *sync.PhaseError
	if errors.As(err, &phaseErr) {
		phase = phaseErr.Phase
	}
	m.failedPhase.WithLabelValues(phase).Inc()
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
