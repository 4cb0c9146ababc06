package metrics

import (
	"SignalGate/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "signalgate"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	gateResults  *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
	queueEvents  *prometheus.CounterVec
	blocked      prometheus.Gauge
	stageHealth  *prometheus.GaugeVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gateResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_results_total",
				Help:      "Gate verdicts by stage, outcome and reason",
			},
			[]string{"stage", "outcome", "reason"},
		),
		stageLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent inside a gate",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"stage"},
		),
		queueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Entries currently waiting in the signal queue",
			},
		),
		queueEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_events_total",
				Help:      "Signal queue transitions",
			},
			[]string{"event"},
		),
		blocked: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blocked_symbols",
				Help:      "Symbols with an active block",
			},
		),
		stageHealth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_health",
				Help:      "Stage health: 0 OK, 1 DEGRADED, 2 CRITICAL",
			},
			[]string{"stage"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordGateResult(stage, outcome, reason string, seconds float64) {
	r.gateResults.WithLabelValues(stage, outcome, reason).Inc()
	r.stageLatency.WithLabelValues(stage).Observe(seconds)
}

func (r *Recorder) RecordQueueDepth(depth int) {
	r.queueDepth.Set(float64(depth))
}

func (r *Recorder) RecordQueueEvent(event string) {
	r.queueEvents.WithLabelValues(event).Inc()
}

func (r *Recorder) RecordBlockedSymbols(n int) {
	r.blocked.Set(float64(n))
}

func (r *Recorder) RecordStageHealth(stage string, health models.Health) {
	var v float64
	switch health {
	case models.HealthDegraded:
		v = 1
	case models.HealthCritical:
		v = 2
	}
	r.stageHealth.WithLabelValues(stage).Set(v)
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
