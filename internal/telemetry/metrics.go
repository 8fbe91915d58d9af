// Package telemetry exposes scan metrics in Prometheus format.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pumpprobe"

// Metrics collects scan and run counters on a private registry.
// All methods are safe on a nil receiver, which disables collection.
type Metrics struct {
	registry *prometheus.Registry

	scans           *prometheus.CounterVec
	runs            *prometheus.CounterVec
	events          *prometheus.CounterVec
	cleanupFailures prometheus.Counter
	runDuration     *prometheus.HistogramVec
	state           *prometheus.GaugeVec
	delay           prometheus.Gauge
}

// NewMetrics creates and registers the scan metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans finished, by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "DAQ runs finished, by kind and result.",
		}, []string{"kind", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requested_events_total",
			Help:      "Events requested from the DAQ, by run kind.",
		}, []string{"kind"}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Failed steps while returning hardware to a safe state.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one DAQ run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"kind"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_state",
			Help:      "1 for the current scan controller state.",
		}, []string{"state"}),
		delay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delay_ns",
			Help:      "Last delay applied to the trigger pair.",
		}),
	}
	m.registry.MustRegister(
		m.scans, m.runs, m.events, m.cleanupFailures, m.runDuration, m.state, m.delay,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ScanFinished counts a finished scan.
func (m *Metrics) ScanFinished(outcome string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
}

// RunFinished records one DAQ run.
func (m *Metrics) RunFinished(kind string, events int, seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.runs.WithLabelValues(kind, result).Inc()
	m.events.WithLabelValues(kind).Add(float64(events))
	if err == nil {
		m.runDuration.WithLabelValues(kind).Observe(seconds)
	}
}

// CleanupFailed counts a failed cleanup step.
func (m *Metrics) CleanupFailed() {
	if m == nil {
		return
	}
	m.cleanupFailures.Inc()
}

// SetState marks state as current and clears the others.
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

// SetDelay records the last applied delay.
func (m *Metrics) SetDelay(ns float64) {
	if m == nil {
		return
	}
	m.delay.Set(ns)
}
