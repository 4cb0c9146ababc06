package features

import (
	"math"
	"sync"
	"time"

	"SignalGate/internal/domain/models"

	"github.com/markcheno/go-talib"
)

type Config struct {
	Interval   time.Duration // bar length
	History    int           // closes kept per symbol
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	VolWindow  int // returns used for realized volatility
}

type bar struct {
	start  time.Time
	close  float64
	volume float64
}

type series struct {
	closes  []float64
	volumes []float64
	current *bar
}

// Engine aggregates trades into bars per symbol and derives indicators
// from closed bars with go-talib. Indicators appear once enough history
// exists for each of them.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	series map[string]*series
}

func NewEngine(cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.MACDFast <= 0 {
		cfg.MACDFast = 12
	}
	if cfg.MACDSlow <= 0 {
		cfg.MACDSlow = 26
	}
	if cfg.MACDSignal <= 0 {
		cfg.MACDSignal = 9
	}
	if cfg.VolWindow <= 1 {
		cfg.VolWindow = 30
	}
	if need := cfg.MACDSlow + cfg.MACDSignal + 1; cfg.History < need {
		cfg.History = max(need, 200)
	}
	return &Engine{cfg: cfg, series: make(map[string]*series)}
}

// OnTrade folds one trade into the symbol's current bar. When the trade
// opens a new bar, the previous bar is closed and its snapshot returned.
func (e *Engine) OnTrade(symbol string, price, volume float64, at time.Time) (*models.IndicatorSnapshot, bool) {
	if price <= 0 || math.IsNaN(price) {
		return nil, false
	}
	start := at.Truncate(e.cfg.Interval)

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.series[symbol]
	if s == nil {
		s = &series{}
		e.series[symbol] = s
	}
	if s.current == nil {
		s.current = &bar{start: start, close: price, volume: volume}
		return nil, false
	}
	if !start.After(s.current.start) {
		s.current.close = price
		s.current.volume += volume
		return nil, false
	}

	closed := *s.current
	s.current = &bar{start: start, close: price, volume: volume}
	return e.closeBarLocked(symbol, s, closed), true
}

// OnClose appends a finished bar directly, for feeds that deliver klines.
func (e *Engine) OnClose(symbol string, close, volume float64, at time.Time) *models.IndicatorSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.series[symbol]
	if s == nil {
		s = &series{}
		e.series[symbol] = s
	}
	return e.closeBarLocked(symbol, s, bar{start: at, close: close, volume: volume})
}

func (e *Engine) closeBarLocked(symbol string, s *series, b bar) *models.IndicatorSnapshot {
	s.closes = append(s.closes, b.close)
	s.volumes = append(s.volumes, b.volume)
	if over := len(s.closes) - e.cfg.History; over > 0 {
		s.closes = s.closes[over:]
		s.volumes = s.volumes[over:]
	}
	return &models.IndicatorSnapshot{
		Symbol:     symbol,
		Timestamp:  b.start.Add(e.cfg.Interval),
		Indicators: e.compute(s.closes, s.volumes),
	}
}

func (e *Engine) compute(closes, volumes []float64) map[string]float64 {
	n := len(closes)
	out := map[string]float64{"close": closes[n-1]}

	if n > e.cfg.RSIPeriod {
		rsi := talib.Rsi(closes, e.cfg.RSIPeriod)
		if v := rsi[len(rsi)-1]; !math.IsNaN(v) {
			out["rsi"] = v
		}
	}
	if n >= e.cfg.MACDSlow+e.cfg.MACDSignal {
		macd, signal, hist := talib.Macd(closes, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal)
		out["macd"] = macd[len(macd)-1]
		out["macd_signal"] = signal[len(signal)-1]
		out["macd_hist"] = hist[len(hist)-1]
	}

	rets := LogReturns(closes)
	if len(rets) > 0 {
		out["ret_1"] = rets[len(rets)-1]
	}
	if len(rets) >= e.cfg.VolWindow {
		out["realized_vol"] = RealizedVolatility(rets, e.cfg.VolWindow, BarsPerYear(e.cfg.Interval.Seconds()))
	}
	if len(volumes) >= 20 {
		avg := 0.0
		for _, v := range volumes[len(volumes)-20:] {
			avg += v
		}
		avg /= 20
		if avg > 0 {
			out["volume_ratio"] = volumes[len(volumes)-1] / avg
		}
	}
	return out
}
