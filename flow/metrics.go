package flow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine metrics under the "stepflow" namespace.
//
// Metrics:
//   - inflight_steps (gauge): steps currently executing across all runs
//   - queue_depth (gauge): events waiting in run queues
//   - parked_runs (gauge): runs waiting for Respond
//   - step_latency_ms (histogram, labels step_id, status): step duration
//   - runs_total (counter, label outcome): terminated, faulted, aborted, timeout
//   - events_total (counter, label kind): events accepted into runs
//
// Labels deliberately exclude run IDs to keep cardinality bounded.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewPrometheusMetrics(registry)
//	engine, _ := flow.New(reg, flow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are safe on a nil receiver, which is how the engine runs
// without metrics.
type PrometheusMetrics struct {
	inflightSteps prometheus.Gauge
	queueDepth    prometheus.Gauge
	parkedRuns    prometheus.Gauge

	stepLatency *prometheus.HistogramVec

	runs   *prometheus.CounterVec
	events *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers all engine metrics with registry. A nil
// registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		inflightSteps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stepflow",
			Name:      "inflight_steps",
			Help:      "Number of steps currently executing",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stepflow",
			Name:      "queue_depth",
			Help:      "Number of events waiting in run queues",
		}),
		parkedRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stepflow",
			Name:      "parked_runs",
			Help:      "Number of runs waiting for an external response",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stepflow",
			Name:      "step_latency_ms",
			Help:      "Step execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"step_id", "status"}), // status: success, error
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "runs_total",
			Help:      "Finished runs by outcome",
		}, []string{"outcome"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "events_total",
			Help:      "Events accepted into runs by kind",
		}, []string{"kind"}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// StepStarted increments inflight_steps.
func (pm *PrometheusMetrics) StepStarted() {
	if pm.on() {
		pm.inflightSteps.Inc()
	}
}

// StepFinished decrements inflight_steps and records latency.
func (pm *PrometheusMetrics) StepFinished(stepID string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.inflightSteps.Dec()
	pm.stepLatency.WithLabelValues(stepID, status).Observe(float64(latency.Milliseconds()))
}

// AddQueueDepth adjusts queue_depth by delta.
func (pm *PrometheusMetrics) AddQueueDepth(delta int) {
	if pm.on() && delta != 0 {
		pm.queueDepth.Add(float64(delta))
	}
}

// RunParked increments parked_runs.
func (pm *PrometheusMetrics) RunParked() {
	if pm.on() {
		pm.parkedRuns.Inc()
	}
}

// RunUnparked decrements parked_runs.
func (pm *PrometheusMetrics) RunUnparked() {
	if pm.on() {
		pm.parkedRuns.Dec()
	}
}

// RunFinished counts a finished run.
func (pm *PrometheusMetrics) RunFinished(outcome string) {
	if pm.on() {
		pm.runs.WithLabelValues(outcome).Inc()
	}
}

// EventAccepted counts an event entering a run.
func (pm *PrometheusMetrics) EventAccepted(kind Kind) {
	if pm.on() {
		pm.events.WithLabelValues(string(kind)).Inc()
	}
}

// Disable stops recording until Enable is called.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the gauges.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightSteps.Set(0)
	pm.queueDepth.Set(0)
	pm.parkedRuns.Set(0)
}
