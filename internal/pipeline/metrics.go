package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report pipeline activity.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	stageRetries  *prometheus.CounterVec
	runs          *prometheus.CounterVec
	gateDecisions *prometheus.CounterVec
	runsActive    prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the instance registered with the global registry.
// Collectors are created once so several orchestrators can share them.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the pipeline collectors with reg and panics on
// any registration error other than a collector that is already present.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "oracle",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Duration spent in each pipeline stage.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage", "status"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oracle",
				Subsystem: "pipeline",
				Name:      "stage_failures_total",
				Help:      "Stage executions that failed the run.",
			},
			[]string{"stage"},
		),
		stageRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oracle",
				Subsystem: "pipeline",
				Name:      "stage_retries_total",
				Help:      "External lookups retried within a stage.",
			},
			[]string{"stage"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oracle",
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Pipeline runs by query type and final state.",
			},
			[]string{"query_type", "state"},
		),
		gateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oracle",
				Subsystem: "sovereignty",
				Name:      "decisions_total",
				Help:      "Sovereignty gate decisions by tradition and outcome.",
			},
			[]string{"tradition", "permitted"},
		),
		runsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "oracle",
				Subsystem: "pipeline",
				Name:      "runs_active",
				Help:      "Runs currently executing.",
			},
		),
	}

	m.stageDuration = register(reg, m.stageDuration)
	m.stageFailures = register(reg, m.stageFailures)
	m.stageRetries = register(reg, m.stageRetries)
	m.runs = register(reg, m.runs)
	m.gateDecisions = register(reg, m.gateDecisions)
	m.runsActive = register(reg, m.runsActive)
	return m
}

// register reuses an existing collector of the same description.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveStage records the time spent in a stage.
func (m *Metrics) ObserveStage(stage string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.stageFailures.WithLabelValues(stage).Inc()
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func (m *Metrics) IncRetry(stage string) {
	if m == nil {
		return
	}
	m.stageRetries.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncRun(q QueryType, s RunState) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(q), string(s)).Inc()
}

func (m *Metrics) IncGate(tradition string, permitted bool) {
	if m == nil {
		return
	}
	p := "false"
	if permitted {
		p = "true"
	}
	m.gateDecisions.WithLabelValues(tradition, p).Inc()
}

func (m *Metrics) runStarted() {
	if m != nil {
		m.runsActive.Inc()
	}
}

func (m *Metrics) runFinished() {
	if m != nil {
		m.runsActive.Dec()
	}
}
