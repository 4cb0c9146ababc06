package metrics

import (
	"testing"

	"SignalGate/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_GateResults(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordGateResult("rsi", "REJECT", "rsi_anomaly", 0.001)
	r.RecordGateResult("rsi", "REJECT", "rsi_anomaly", 0.002)
	r.RecordGateResult("rsi", "PASS", "ok", 0.001)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.gateResults.WithLabelValues("rsi", "REJECT", "rsi_anomaly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.gateResults.WithLabelValues("rsi", "PASS", "ok")))
}

func TestRecorder_Gauges(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordQueueDepth(7)
	r.RecordBlockedSymbols(2)
	r.RecordStageHealth("blocker", models.HealthCritical)

	assert.Equal(t, 7.0, testutil.ToFloat64(r.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.blocked))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.stageHealth.WithLabelValues("blocker")))
}
