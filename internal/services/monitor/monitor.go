package monitor

import (
	"sort"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"

	"gonum.org/v1/gonum/stat"
)

// Thresholds are rates over the rolling window.
type Thresholds struct {
	DegradedReject float64
	CriticalReject float64
	DegradedError  float64
	CriticalError  float64
}

type Config struct {
	Window    int // results kept per stage
	MinSample int // results needed before health can leave OK
	Default   Thresholds
	PerStage  map[models.Stage]Thresholds
}

type Option func(*Monitor)

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func WithMetrics(r domrepo.Metrics) Option {
	return func(m *Monitor) { m.metrics = r }
}

// WithHealthHook is called outside the lock whenever a stage changes health.
func WithHealthHook(fn func(stage models.Stage, from, to models.Health)) Option {
	return func(m *Monitor) { m.onHealth = fn }
}

type sampleKind uint8

const (
	kindPass sampleKind = iota
	kindReject
	kindError
	kindDefer
)

type sample struct {
	kind    sampleKind
	latency time.Duration
}

type stageWindow struct {
	ring   []sample
	next   int
	filled int

	lifetimeTotal int64
	lifetimePass  int64
	health        models.Health
}

func (w *stageWindow) push(s sample) {
	w.ring[w.next] = s
	w.next = (w.next + 1) % len(w.ring)
	if w.filled < len(w.ring) {
		w.filled++
	}
}

// Monitor keeps per-stage counters over the last Window results. Health is
// advisory: it is reported, never acted upon here.
type Monitor struct {
	cfg      Config
	now      func() time.Time
	metrics  domrepo.Metrics
	onHealth func(stage models.Stage, from, to models.Health)

	mu       sync.Mutex
	stages   map[models.Stage]*stageWindow
	patterns map[string]int
}

func New(cfg Config, opts ...Option) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = 500
	}
	if cfg.MinSample <= 0 {
		cfg.MinSample = 20
	}
	if cfg.Default == (Thresholds{}) {
		cfg.Default = Thresholds{DegradedReject: 0.8, CriticalReject: 0.95, DegradedError: 0.05, CriticalError: 0.2}
	}
	m := &Monitor{
		cfg:      cfg,
		now:      time.Now,
		stages:   make(map[models.Stage]*stageWindow),
		patterns: make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record adds one gate result.
func (m *Monitor) Record(r models.GateResult) {
	s := sample{latency: r.Latency}
	switch {
	case r.Outcome == models.OutcomePass:
		s.kind = kindPass
	case r.Outcome == models.OutcomeDefer:
		s.kind = kindDefer
	case r.Reason.IsError():
		s.kind = kindError
	default:
		s.kind = kindReject
	}

	m.mu.Lock()
	w := m.windowLocked(r.Stage)
	w.push(s)
	w.lifetimeTotal++
	if s.kind == kindPass {
		w.lifetimePass++
	}
	prev := w.health
	w.health = m.healthLocked(r.Stage, w)
	next := w.health
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordGateResult(string(r.Stage), string(r.Outcome), string(r.Reason), r.Latency.Seconds())
		if prev != next {
			m.metrics.RecordStageHealth(string(r.Stage), next)
		}
	}
	if prev != next && m.onHealth != nil {
		m.onHealth(r.Stage, prev, next)
	}
}

// RecordAdmission counts an admitted signal under its source pattern.
func (m *Monitor) RecordAdmission(sig *models.Signal) {
	key := sig.SourcePatternID
	if key == "" {
		key = "unknown"
	}
	m.mu.Lock()
	m.patterns[key]++
	m.mu.Unlock()
}

// Health reports the health of one stage. Unknown stages are OK.
func (m *Monitor) Health(stage models.Stage) models.Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.stages[stage]; ok {
		return w.health
	}
	return models.HealthOK
}

// Counters returns the window counters of one stage.
func (m *Monitor) Counters(stage models.Stage) models.MonitorCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.stages[stage]
	if !ok {
		return models.MonitorCounters{Stage: stage, Health: models.HealthOK}
	}
	return m.countersLocked(stage, w)
}

// Snapshot returns a consistent view of every stage that has recorded
// results, in pipeline order.
func (m *Monitor) Snapshot() models.MonitorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := models.MonitorSnapshot{
		Overall:             models.HealthOK,
		PatternDistribution: make(map[string]int, len(m.patterns)),
		TakenAt:             m.now(),
	}
	for _, stage := range orderedStages(m.stages) {
		c := m.countersLocked(stage, m.stages[stage])
		snap.Stages = append(snap.Stages, c)
		snap.Overall = snap.Overall.Worse(c.Health)
	}
	for k, v := range m.patterns {
		snap.PatternDistribution[k] = v
	}
	return snap
}

// Reset clears windows, health and pattern counts. Lifetime success rates
// are kept.
func (m *Monitor) Reset() {
	m.mu.Lock()
	for stage, w := range m.stages {
		lt, lp := w.lifetimeTotal, w.lifetimePass
		nw := m.newWindow()
		nw.lifetimeTotal, nw.lifetimePass = lt, lp
		m.stages[stage] = nw
	}
	m.patterns = make(map[string]int)
	m.mu.Unlock()

	if m.metrics != nil {
		for _, stage := range models.AllStages() {
			m.metrics.RecordStageHealth(string(stage), models.HealthOK)
		}
	}
}

func (m *Monitor) newWindow() *stageWindow {
	return &stageWindow{ring: make([]sample, m.cfg.Window), health: models.HealthOK}
}

func (m *Monitor) windowLocked(stage models.Stage) *stageWindow {
	w, ok := m.stages[stage]
	if !ok {
		w = m.newWindow()
		m.stages[stage] = w
	}
	return w
}

func (m *Monitor) thresholds(stage models.Stage) Thresholds {
	if t, ok := m.cfg.PerStage[stage]; ok {
		return t
	}
	return m.cfg.Default
}

func (m *Monitor) healthLocked(stage models.Stage, w *stageWindow) models.Health {
	if w.filled < m.cfg.MinSample {
		return models.HealthOK
	}
	var rejects, errs int
	for i := 0; i < w.filled; i++ {
		switch w.ring[i].kind {
		case kindReject:
			rejects++
		case kindError:
			errs++
		}
	}
	n := float64(w.filled)
	rejectRate, errRate := float64(rejects)/n, float64(errs)/n

	t := m.thresholds(stage)
	switch {
	case exceeds(errRate, t.CriticalError) || exceeds(rejectRate, t.CriticalReject):
		return models.HealthCritical
	case exceeds(errRate, t.DegradedError) || exceeds(rejectRate, t.DegradedReject):
		return models.HealthDegraded
	}
	return models.HealthOK
}

// exceeds treats a zero threshold as disabled.
func exceeds(rate, threshold float64) bool {
	return threshold > 0 && rate >= threshold
}

func (m *Monitor) countersLocked(stage models.Stage, w *stageWindow) models.MonitorCounters {
	c := models.MonitorCounters{Stage: stage, Health: w.health}
	latencies := make([]float64, 0, w.filled)
	for i := 0; i < w.filled; i++ {
		s := w.ring[i]
		switch s.kind {
		case kindPass:
			c.PassCount++
		case kindReject:
			c.RejectCount++
		case kindError:
			c.ErrorCount++
		case kindDefer:
			c.DeferCount++
		}
		latencies = append(latencies, float64(s.latency))
	}
	if len(latencies) > 0 {
		sort.Float64s(latencies)
		c.LatencyP50 = time.Duration(stat.Quantile(0.5, stat.Empirical, latencies, nil))
		c.LatencyP95 = time.Duration(stat.Quantile(0.95, stat.Empirical, latencies, nil))
	}
	if w.lifetimeTotal > 0 {
		c.SuccessRate = float64(w.lifetimePass) / float64(w.lifetimeTotal)
	}
	return c
}

func orderedStages(stages map[models.Stage]*stageWindow) []models.Stage {
	out := make([]models.Stage, 0, len(stages))
	seen := make(map[models.Stage]bool, len(stages))
	for _, s := range models.AllStages() {
		if _, ok := stages[s]; ok {
			out = append(out, s)
			seen[s] = true
		}
	}
	var extra []models.Stage
	for s := range stages {
		if !seen[s] {
			extra = append(extra, s)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}
