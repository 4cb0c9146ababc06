package monitor

import (
	"testing"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(stage models.Stage, outcome models.GateOutcome, reason models.ReasonCode, latency time.Duration) models.GateResult {
	return models.GateResult{Stage: stage, Outcome: outcome, Reason: reason, Latency: latency}
}

func TestMonitor_CountsAndQuantiles(t *testing.T) {
	m := New(Config{Window: 100, MinSample: 1}, WithMetrics(metrics.New(prometheus.NewRegistry())))

	for i := 1; i <= 10; i++ {
		m.Record(result(models.StageRSI, models.OutcomePass, models.ReasonOK, time.Duration(i)*time.Millisecond))
	}
	m.Record(result(models.StageRSI, models.OutcomeReject, models.ReasonRSIAnomaly, 0))
	m.Record(result(models.StageRSI, models.OutcomeDefer, models.ReasonQueueFull, 0))

	c := m.Counters(models.StageRSI)
	assert.Equal(t, 10, c.PassCount)
	assert.Equal(t, 1, c.RejectCount)
	assert.Equal(t, 1, c.DeferCount)
	assert.Equal(t, 0, c.ErrorCount)
	assert.Equal(t, 12, c.Total())
	assert.True(t, c.LatencyP50 > 0)
	assert.True(t, c.LatencyP95 >= c.LatencyP50)
	assert.Equal(t, 10*time.Millisecond, c.LatencyP95)
}

func TestMonitor_ErrorsCountedSeparately(t *testing.T) {
	m := New(Config{Window: 10, MinSample: 1})
	m.Record(result(models.StageConfidence, models.OutcomeReject, models.ReasonModelUnavailable, 0))
	m.Record(result(models.StageConfidence, models.OutcomeReject, models.ReasonLowConfidence, 0))

	c := m.Counters(models.StageConfidence)
	assert.Equal(t, 1, c.ErrorCount)
	assert.Equal(t, 1, c.RejectCount)
}

func TestMonitor_RollingWindow(t *testing.T) {
	m := New(Config{Window: 5, MinSample: 1})
	for i := 0; i < 5; i++ {
		m.Record(result(models.StageBlocker, models.OutcomeReject, models.ReasonSymbolBlocked, 0))
	}
	for i := 0; i < 5; i++ {
		m.Record(result(models.StageBlocker, models.OutcomePass, models.ReasonOK, 0))
	}
	c := m.Counters(models.StageBlocker)
	assert.Equal(t, 5, c.PassCount)
	assert.Equal(t, 0, c.RejectCount)
	assert.InDelta(t, 0.5, c.SuccessRate, 1e-9)
}

func TestMonitor_HealthTransitions(t *testing.T) {
	var transitions []models.Health
	m := New(Config{
		Window:    10,
		MinSample: 10,
		Default:   Thresholds{DegradedReject: 0.5, CriticalReject: 0.9, DegradedError: 0.2, CriticalError: 0.5},
	}, WithHealthHook(func(_ models.Stage, _, to models.Health) {
		transitions = append(transitions, to)
	}))

	for i := 0; i < 9; i++ {
		m.Record(result(models.StageValidator, models.OutcomeReject, models.ReasonStaleSignal, 0))
	}
	assert.Equal(t, models.HealthOK, m.Health(models.StageValidator), "below minimum sample")

	m.Record(result(models.StageValidator, models.OutcomeReject, models.ReasonStaleSignal, 0))
	assert.Equal(t, models.HealthCritical, m.Health(models.StageValidator))

	for i := 0; i < 4; i++ {
		m.Record(result(models.StageValidator, models.OutcomePass, models.ReasonOK, 0))
	}
	assert.Equal(t, models.HealthDegraded, m.Health(models.StageValidator))

	for i := 0; i < 6; i++ {
		m.Record(result(models.StageValidator, models.OutcomePass, models.ReasonOK, 0))
	}
	assert.Equal(t, models.HealthOK, m.Health(models.StageValidator))
	assert.Equal(t, []models.Health{models.HealthCritical, models.HealthDegraded, models.HealthOK}, transitions)
}

func TestMonitor_PerStageThresholds(t *testing.T) {
	m := New(Config{
		Window:    4,
		MinSample: 4,
		Default:   Thresholds{DegradedReject: 0.5, CriticalReject: 0.9},
		PerStage: map[models.Stage]Thresholds{
			models.StageBlocker: {DegradedReject: 0, CriticalReject: 0},
		},
	})
	for i := 0; i < 4; i++ {
		m.Record(result(models.StageBlocker, models.OutcomeReject, models.ReasonSymbolBlocked, 0))
		m.Record(result(models.StageRSI, models.OutcomeReject, models.ReasonRSIAnomaly, 0))
	}
	assert.Equal(t, models.HealthOK, m.Health(models.StageBlocker))
	assert.Equal(t, models.HealthCritical, m.Health(models.StageRSI))
}

func TestMonitor_SnapshotAndReset(t *testing.T) {
	m := New(Config{Window: 10, MinSample: 1, Default: Thresholds{CriticalError: 0.5}})
	m.Record(result(models.StageRSI, models.OutcomePass, models.ReasonOK, 0))
	m.Record(result(models.StageValidator, models.OutcomePass, models.ReasonOK, 0))
	m.Record(result(models.StageConfidence, models.OutcomeReject, models.ReasonModelUnavailable, 0))
	m.RecordAdmission(&models.Signal{SourcePatternID: "double_bottom"})
	m.RecordAdmission(&models.Signal{SourcePatternID: "double_bottom"})
	m.RecordAdmission(&models.Signal{})

	snap := m.Snapshot()
	require.Len(t, snap.Stages, 3)
	assert.Equal(t, models.StageValidator, snap.Stages[0].Stage)
	assert.Equal(t, models.StageConfidence, snap.Stages[1].Stage)
	assert.Equal(t, models.StageRSI, snap.Stages[2].Stage)
	assert.Equal(t, models.HealthCritical, snap.Overall)
	assert.Equal(t, 2, snap.PatternDistribution["double_bottom"])
	assert.Equal(t, 1, snap.PatternDistribution["unknown"])

	m.Reset()
	snap = m.Snapshot()
	assert.Equal(t, models.HealthOK, snap.Overall)
	assert.Empty(t, snap.PatternDistribution)
	for _, c := range snap.Stages {
		assert.Zero(t, c.Total())
	}
	assert.Equal(t, 1.0, m.Counters(models.StageRSI).SuccessRate)
}
