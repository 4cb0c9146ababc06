package usecase

import (
	"context"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	domsvc "SignalGate/internal/domain/service"
	"SignalGate/internal/services/blocker"
	"SignalGate/internal/services/monitor"
	"SignalGate/internal/services/quality"
	"SignalGate/internal/services/rsifilter"
	"SignalGate/internal/services/scoring"
	"SignalGate/internal/services/signalqueue"
	applogger "SignalGate/pkg/logger"
)

var t0 = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type stubModel struct {
	features []string
	prob     float64
}

func (m *stubModel) Version() string                { return "stub-1" }
func (m *stubModel) Features() []string             { return m.features }
func (m *stubModel) Importance() map[string]float64 { return map[string]float64{"rsi": 1} }

func (m *stubModel) Predict(context.Context, []float64) (models.Prediction, error) {
	return models.Prediction{Probability: m.prob, ExpectedProfit: 0.01}, nil
}

type memJournal struct {
	mu      sync.Mutex
	results []models.GateResult
}

func (j *memJournal) Init(context.Context) error { return nil }

func (j *memJournal) Record(_ context.Context, rs []models.GateResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, rs...)
	return nil
}

func (j *memJournal) Query(context.Context, string, time.Time, time.Time, int) ([]models.GateResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.GateResult(nil), j.results...), nil
}

func (j *memJournal) Health(context.Context) error { return nil }
func (j *memJournal) Close() error                 { return nil }

func (j *memJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.results)
}

type memPublisher struct {
	mu        sync.Mutex
	decisions []*models.Decision
}

func (p *memPublisher) PublishDecision(_ context.Context, d *models.Decision) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decisions = append(p.decisions, d)
	return nil
}

func (p *memPublisher) Close() error { return nil }

// harness wires real components around a fixed clock.
type harness struct {
	now       func() time.Time
	model     *stubModel
	registry  *scoring.Registry
	rsi       *rsifilter.Filter
	blocker   *blocker.Blocker
	queue     *signalqueue.Queue
	monitor   *monitor.Monitor
	journal   *memJournal
	publisher *memPublisher
	pipeline  *Pipeline
}

func newHarness(queueCap int, extraGates ...domsvc.Gate) *harness {
	now := func() time.Time { return t0 }
	h := &harness{
		now:       now,
		model:     &stubModel{features: []string{"macd", "rsi", "volume_ratio"}, prob: 0.8},
		journal:   &memJournal{},
		publisher: &memPublisher{},
	}
	l := applogger.Nop()
	h.registry = scoring.NewRegistry(nil, l)
	h.registry.Swap(h.model)
	h.rsi = rsifilter.New(rsifilter.Config{MinSamples: 20, Window: 100, AnomalyZ: 2, IndicatorKey: "rsi"}, rsifilter.WithClock(now))
	h.blocker = blocker.New(blocker.Config{LossThreshold: 3, BaseBackoff: time.Hour, MaxBackoff: 24 * time.Hour}, l, blocker.WithClock(now))
	h.queue = signalqueue.New(signalqueue.Config{Capacity: queueCap, TTL: time.Minute}, signalqueue.WithClock(now))
	h.monitor = monitor.New(monitor.Config{Window: 100, MinSample: 1}, monitor.WithClock(now))

	gates := []domsvc.Gate{
		quality.New(quality.Config{}, quality.WithClock(now)),
		scoring.NewGate(scoring.NewScorer(h.registry, time.Second, nil), 0.6),
		h.rsi,
		h.blocker,
	}
	gates = append(gates, extraGates...)
	h.pipeline = NewPipeline(gates, h.queue, h.monitor, l,
		WithJournal(h.journal),
		WithPublisher(h.publisher),
		WithObserver(h.rsi),
		WithPipelineClock(now),
	)
	return h
}

// warm feeds a stable RSI history around 50.
func (h *harness) warm(symbol string) {
	for i := 0; i < 30; i++ {
		v := 45.0
		if i%2 == 0 {
			v = 55.0
		}
		h.rsi.Observe(symbol, v)
	}
}

func btcSignal(id string) *models.Signal {
	return &models.Signal{
		ID:              id,
		Symbol:          "BTCUSDT",
		Direction:       models.DirectionLong,
		EntryPrice:      50000,
		StopLoss:        49000,
		TakeProfits:     []float64{51000, 52000},
		Timestamp:       t0.Add(-10 * time.Second),
		Features:        map[string]float64{"rsi": 28, "macd": 12.5, "volume_ratio": 1.4},
		SourcePatternID: "double_bottom",
	}
}
