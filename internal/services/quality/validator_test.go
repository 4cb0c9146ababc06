package quality

import (
	"testing"
	"time"

	"SignalGate/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newValidator() *Validator {
	return New(Config{MaxAge: time.Minute, MaxFutureSkew: 2 * time.Second}, WithClock(func() time.Time { return now }))
}

func longSignal() *models.Signal {
	return &models.Signal{
		ID:          "sig-1",
		Symbol:      "BTCUSDT",
		Direction:   models.DirectionLong,
		EntryPrice:  50000,
		StopLoss:    49000,
		TakeProfits: []float64{52000},
		Timestamp:   now.Add(-5 * time.Second),
		Features:    map[string]float64{"rsi": 28},
	}
}

func TestValidate_Pass(t *testing.T) {
	res := newValidator().Validate(longSignal())
	assert.Equal(t, models.OutcomePass, res.Outcome)
	assert.Equal(t, models.StageValidator, res.Stage)
	assert.Equal(t, "sig-1", res.SignalID)
}

func TestValidate_Idempotent(t *testing.T) {
	v := newValidator()
	sig := longSignal()
	first := v.Validate(sig)
	second := v.Validate(sig)
	assert.Equal(t, first, second)

	sig.StopLoss = 0
	first = v.Validate(sig)
	second = v.Validate(sig)
	assert.Equal(t, first, second)
	assert.Equal(t, models.OutcomeReject, first.Outcome)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *models.Signal)
		reason models.ReasonCode
		detail string
	}{
		{"missing symbol", func(s *models.Signal) { s.Symbol = "" }, models.ReasonMissingField, "symbol is required"},
		{"missing stop", func(s *models.Signal) { s.StopLoss = 0 }, models.ReasonMissingField, "stop_loss is required"},
		{"no targets", func(s *models.Signal) { s.TakeProfits = nil }, models.ReasonMissingField, "take_profits is required"},
		{"empty features", func(s *models.Signal) { s.Features = map[string]float64{} }, models.ReasonMissingField, "features is required"},
		{"lowercase symbol", func(s *models.Signal) { s.Symbol = "btcusdt" }, models.ReasonInvalidSymbol, ""},
		{"short symbol", func(s *models.Signal) { s.Symbol = "BTC" }, models.ReasonInvalidSymbol, ""},
		{"bad direction", func(s *models.Signal) { s.Direction = "FLAT" }, models.ReasonInvalidDirection, ""},
		{"negative entry", func(s *models.Signal) { s.EntryPrice = -1 }, models.ReasonNonPositivePrice, ""},
		{"negative target", func(s *models.Signal) { s.TakeProfits = []float64{52000, -3} }, models.ReasonNonPositivePrice, ""},
		{"long stop above entry", func(s *models.Signal) { s.StopLoss = 50500 }, models.ReasonInconsistentLevels, ""},
		{"long target below entry", func(s *models.Signal) { s.TakeProfits = []float64{52000, 49900} }, models.ReasonInconsistentLevels, ""},
		{"stale", func(s *models.Signal) { s.Timestamp = now.Add(-2 * time.Minute) }, models.ReasonStaleSignal, ""},
		{"future", func(s *models.Signal) { s.Timestamp = now.Add(time.Minute) }, models.ReasonFutureTimestamp, ""},
	}

	v := newValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := longSignal()
			tt.mutate(sig)
			res := v.Validate(sig)
			require.Equal(t, models.OutcomeReject, res.Outcome)
			assert.Equal(t, tt.reason, res.Reason)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, res.Detail)
			}
		})
	}
}

func TestValidate_ShortLevels(t *testing.T) {
	v := newValidator()
	sig := longSignal()
	sig.Direction = models.DirectionShort
	sig.StopLoss = 51000
	sig.TakeProfits = []float64{48000, 47000}
	assert.True(t, v.Validate(sig).Passed())

	sig.TakeProfits = []float64{48000, 50001}
	res := v.Validate(sig)
	assert.Equal(t, models.ReasonInconsistentLevels, res.Reason)
}

func TestValidate_ShortCircuitsInOrder(t *testing.T) {
	sig := longSignal()
	sig.Symbol = "bad"
	sig.EntryPrice = -5
	sig.Timestamp = now.Add(-time.Hour)

	res := newValidator().Validate(sig)
	assert.Equal(t, models.ReasonInvalidSymbol, res.Reason)
}
