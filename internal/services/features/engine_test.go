package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_BarsCloseOnNextInterval(t *testing.T) {
	e := NewEngine(Config{Interval: time.Minute})
	t0 := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	_, ok := e.OnTrade("BTCUSDT", 100, 1, t0)
	assert.False(t, ok)
	_, ok = e.OnTrade("BTCUSDT", 101, 2, t0.Add(30*time.Second))
	assert.False(t, ok)

	snap, ok := e.OnTrade("BTCUSDT", 102, 1, t0.Add(time.Minute))
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, t0.Add(time.Minute), snap.Timestamp)
	assert.Equal(t, 101.0, snap.Indicators["close"])
	_, hasRSI := snap.Indicators["rsi"]
	assert.False(t, hasRSI)

	_, ok = e.OnTrade("BTCUSDT", -1, 1, t0.Add(2*time.Minute))
	assert.False(t, ok)
}

func TestEngine_IndicatorsAfterWarmup(t *testing.T) {
	e := NewEngine(Config{Interval: time.Minute})
	t0 := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	var last map[string]float64
	for i := 0; i < 60; i++ {
		// steady uptrend with small pullbacks
		price := 100 + float64(i) - 0.5*float64(i%3)
		last = e.OnClose("ETHUSDT", price, 10+float64(i%5), t0.Add(time.Duration(i)*time.Minute)).Indicators
	}

	rsi, ok := last["rsi"]
	require.True(t, ok)
	assert.Greater(t, rsi, 50.0)
	assert.LessOrEqual(t, rsi, 100.0)

	assert.Contains(t, last, "macd")
	assert.Greater(t, last["macd"], 0.0)
	assert.Contains(t, last, "realized_vol")
	assert.Contains(t, last, "volume_ratio")
	assert.False(t, math.IsNaN(last["ret_1"]))
}

func TestLogReturnsAndVolatility(t *testing.T) {
	assert.Nil(t, LogReturns([]float64{1}))
	r := LogReturns([]float64{100, 110, 0, 121})
	require.Len(t, r, 3)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-12)
	assert.Zero(t, r[1])

	assert.Zero(t, RealizedVolatility([]float64{0.1}, 5, 252))
	flat := []float64{0.01, 0.01, 0.01, 0.01}
	assert.InDelta(t, 0, RealizedVolatility(flat, 4, 252), 1e-9)
}
