package rsifilter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	domsvc "SignalGate/internal/domain/service"
	"SignalGate/pkg/cache"

	"gonum.org/v1/gonum/stat"
)

const stateKey = "rsi:profiles"

type Config struct {
	MinSamples   int     // observations before a symbol leaves COLD
	Window       int     // observations kept for mean/stddev
	AnomalyZ     float64 // |z| above this is anomalous
	IndicatorKey string  // snapshot/feature key holding RSI
}

type Option func(*Filter)

func WithClock(now func() time.Time) Option {
	return func(f *Filter) { f.now = now }
}

// Filter keeps a rolling RSI baseline per symbol and rejects signals whose
// current RSI is anomalous in the direction that contradicts the trade.
type Filter struct {
	cfg Config
	now func() time.Time

	mu       sync.RWMutex // guards the map, not the profiles
	profiles map[string]*profile
}

var _ domsvc.Gate = (*Filter)(nil)

// profile is a fixed-size ring of the latest observations.
type profile struct {
	mu         sync.Mutex
	ring       []float64
	next       int
	filled     int
	samples    int64
	lastUpdate time.Time
}

func New(cfg Config, opts ...Option) *Filter {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 20
	}
	if cfg.Window < 2 {
		cfg.Window = 100
	}
	if cfg.AnomalyZ <= 0 {
		cfg.AnomalyZ = 2.0
	}
	if cfg.IndicatorKey == "" {
		cfg.IndicatorKey = "rsi"
	}
	f := &Filter{
		cfg:      cfg,
		now:      time.Now,
		profiles: make(map[string]*profile),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Filter) Stage() models.Stage { return models.StageRSI }

// Observe folds one RSI reading into the symbol's profile. Values outside
// [0,100] are ignored.
func (f *Filter) Observe(symbol string, rsi float64) {
	if math.IsNaN(rsi) || rsi < 0 || rsi > 100 {
		return
	}
	p := f.profileFor(symbol, true)

	p.mu.Lock()
	p.push(rsi)
	p.lastUpdate = f.now()
	p.mu.Unlock()
}

// ObserveSnapshot folds the RSI carried by a tick, if any.
func (f *Filter) ObserveSnapshot(snap *models.IndicatorSnapshot) {
	if v, ok := snap.Indicator(f.cfg.IndicatorKey); ok {
		f.Observe(snap.Symbol, v)
	}
}

func (f *Filter) Check(_ context.Context, sig *models.Signal, gc *models.GateContext) models.GateResult {
	now := f.now()
	rsi, ok := f.currentRSI(sig, gc)
	if !ok {
		return models.Pass(models.StageRSI, sig, models.ReasonRSIMissing, now)
	}

	p := f.profileFor(sig.Symbol, false)
	if p == nil {
		return models.Pass(models.StageRSI, sig, models.ReasonRSIColdStart, now)
	}

	p.mu.Lock()
	samples := p.samples
	window := p.values()
	p.mu.Unlock()

	if samples < int64(f.cfg.MinSamples) {
		return models.Pass(models.StageRSI, sig, models.ReasonRSIColdStart, now)
	}

	mean, std := stat.MeanStdDev(window, nil)
	z := 0.0
	if std > 0 {
		z = (rsi - mean) / std
	}

	contradicts := (sig.Direction == models.DirectionLong && z > f.cfg.AnomalyZ) ||
		(sig.Direction == models.DirectionShort && z < -f.cfg.AnomalyZ)
	if contradicts {
		detail := fmt.Sprintf("rsi %.2f z=%.2f vs mean %.2f sd %.2f contradicts %s", rsi, z, mean, std, sig.Direction)
		return models.Reject(models.StageRSI, sig, models.ReasonRSIAnomaly, detail, now).WithScore(z)
	}
	return models.Pass(models.StageRSI, sig, models.ReasonOK, now).WithScore(z)
}

// Profile returns the current baseline of a symbol.
func (f *Filter) Profile(symbol string) (models.RSIProfile, bool) {
	p := f.profileFor(symbol, false)
	if p == nil {
		return models.RSIProfile{}, false
	}
	return f.describe(symbol, p), true
}

// Profiles returns every known baseline ordered by symbol.
func (f *Filter) Profiles() []models.RSIProfile {
	f.mu.RLock()
	symbols := make([]string, 0, len(f.profiles))
	for s := range f.profiles {
		symbols = append(symbols, s)
	}
	f.mu.RUnlock()
	sort.Strings(symbols)

	out := make([]models.RSIProfile, 0, len(symbols))
	for _, s := range symbols {
		if pr, ok := f.Profile(s); ok {
			out = append(out, pr)
		}
	}
	return out
}

func (f *Filter) describe(symbol string, p *profile) models.RSIProfile {
	p.mu.Lock()
	values := p.values()
	pr := models.RSIProfile{
		Symbol:      symbol,
		SampleCount: p.samples,
		LastUpdate:  p.lastUpdate,
		State:       models.RSICold,
	}
	p.mu.Unlock()

	if len(values) > 0 {
		pr.RollingMean, pr.RollingStdDev = stat.MeanStdDev(values, nil)
		if len(values) < 2 {
			pr.RollingStdDev = 0
		}
	}
	if pr.SampleCount >= int64(f.cfg.MinSamples) {
		pr.State = models.RSIWarm
	}
	return pr
}

func (f *Filter) currentRSI(sig *models.Signal, gc *models.GateContext) (float64, bool) {
	if gc != nil {
		if v, ok := gc.Snapshot.Indicator(f.cfg.IndicatorKey); ok && !math.IsNaN(v) {
			return v, true
		}
	}
	if v, ok := sig.Features[f.cfg.IndicatorKey]; ok && !math.IsNaN(v) {
		return v, true
	}
	return 0, false
}

func (f *Filter) profileFor(symbol string, create bool) *profile {
	f.mu.RLock()
	p := f.profiles[symbol]
	f.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p = f.profiles[symbol]; p == nil {
		p = &profile{ring: make([]float64, f.cfg.Window)}
		f.profiles[symbol] = p
	}
	return p
}

func (p *profile) push(v float64) {
	p.ring[p.next] = v
	p.next = (p.next + 1) % len(p.ring)
	if p.filled < len(p.ring) {
		p.filled++
	}
	p.samples++
}

// values returns the window in observation order.
func (p *profile) values() []float64 {
	out := make([]float64, 0, p.filled)
	start := (p.next - p.filled + len(p.ring)) % len(p.ring)
	for i := 0; i < p.filled; i++ {
		out = append(out, p.ring[(start+i)%len(p.ring)])
	}
	return out
}

type profileState struct {
	Symbol     string    `msgpack:"symbol"`
	Values     []float64 `msgpack:"values"`
	Samples    int64     `msgpack:"samples"`
	LastUpdate time.Time `msgpack:"last_update"`
}

// Persist writes every profile to the store under a single key.
func (f *Filter) Persist(ctx context.Context, store domrepo.StateStore) (int, error) {
	f.mu.RLock()
	states := make([]profileState, 0, len(f.profiles))
	for symbol, p := range f.profiles {
		p.mu.Lock()
		states = append(states, profileState{
			Symbol:     symbol,
			Values:     p.values(),
			Samples:    p.samples,
			LastUpdate: p.lastUpdate,
		})
		p.mu.Unlock()
	}
	f.mu.RUnlock()

	if err := store.Set(ctx, stateKey, states, 0); err != nil {
		return 0, fmt.Errorf("persist rsi profiles: %w", err)
	}
	return len(states), nil
}

// Restore loads profiles saved by Persist. Profiles already observed in
// this process are kept; sample counts never go backwards.
func (f *Filter) Restore(ctx context.Context, store domrepo.StateStore) (int, error) {
	var states []profileState
	if err := store.Get(ctx, stateKey, &states); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return 0, nil
		}
		return 0, fmt.Errorf("restore rsi profiles: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	restored := 0
	for _, st := range states {
		if _, exists := f.profiles[st.Symbol]; exists {
			continue
		}
		p := &profile{ring: make([]float64, f.cfg.Window)}
		vals := st.Values
		if len(vals) > f.cfg.Window {
			vals = vals[len(vals)-f.cfg.Window:]
		}
		for _, v := range vals {
			p.push(v)
		}
		if st.Samples > p.samples {
			p.samples = st.Samples
		}
		p.lastUpdate = st.LastUpdate
		f.profiles[st.Symbol] = p
		restored++
	}
	return restored, nil
}
