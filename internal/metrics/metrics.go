package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps Prometheus collectors for phaseup runs.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry              *prometheus.Registry
	phaseDurationSeconds  *prometheus.HistogramVec
	commandsTotal         *prometheus.CounterVec
	buildsTotal           *prometheus.CounterVec
	healthTimeoutsTotal   *prometheus.CounterVec
	lastRunTimestampGauge *prometheus.GaugeVec
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		phaseDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phaseup_phase_duration_seconds",
			Help:    "Duration of startup phases in seconds.",
			Buckets: []float64{1, 5, 10, 30, 60, 90, 120, 300},
		}, []string{"phase", "outcome"}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phaseup_commands_total",
			Help: "Compose commands issued by operation and result.",
		}, []string{"op", "result"}),
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phaseup_builds_total",
			Help: "Image builds by result.",
		}, []string{"result"}),
		healthTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phaseup_health_timeouts_total",
			Help: "Health waits that timed out by container.",
		}, []string{"container"}),
		lastRunTimestampGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phaseup_last_run_timestamp",
			Help: "Unix timestamp of the last run by environment and result.",
		}, []string{"environment", "result"}),
	}

	registry.MustRegister(
		m.phaseDurationSeconds,
		m.commandsTotal,
		m.buildsTotal,
		m.healthTimeoutsTotal,
		m.lastRunTimestampGauge,
	)

	return m
}

// Gatherer exposes the registry for export and tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// ObservePhase records how long a phase took and how it ended.
func (m *Metrics) ObservePhase(phase, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.phaseDurationSeconds.WithLabelValues(phase, outcome).Observe(duration.Seconds())
}

// IncCommand counts a compose command by operation and result.
func (m *Metrics) IncCommand(op, result string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(op, result).Inc()
}

// IncBuild counts a finished image build.
func (m *Metrics) IncBuild(result string) {
	if m == nil {
		return
	}
	m.buildsTotal.WithLabelValues(result).Inc()
}

// IncHealthTimeout counts a health wait that gave up.
func (m *Metrics) IncHealthTimeout(container string) {
	if m == nil {
		return
	}
	m.healthTimeoutsTotal.WithLabelValues(container).Inc()
}

// SetLastRun records when a run for the environment finished.
func (m *Metrics) SetLastRun(environment, result string, t time.Time) {
	if m == nil {
		return
	}
	m.lastRunTimestampGauge.WithLabelValues(environment, result).Set(float64(t.Unix()))
}

// WriteTextfile writes the registry in text exposition format for the
// node-exporter textfile collector. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
