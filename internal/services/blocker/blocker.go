package blocker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	domsvc "SignalGate/internal/domain/service"
	applogger "SignalGate/pkg/logger"
)

type Config struct {
	LossThreshold  int           // consecutive adverse outcomes before a block
	BaseBackoff    time.Duration // block length at the threshold
	MaxBackoff     time.Duration // cap for the doubling
	MaxSlippageBps float64       // slippage above this is adverse; 0 disables
	InboxSize      int
}

type Option func(*Blocker)

func WithClock(now func() time.Time) Option {
	return func(b *Blocker) { b.now = now }
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(b *Blocker) { b.metrics = m }
}

type symbolState struct {
	consecutive int
	wins        int
	losses      int
	neutral     int
	entry       *models.SymbolBlockEntry
}

// Blocker suspends symbols after a streak of adverse execution outcomes.
// Every further adverse outcome doubles the block, up to MaxBackoff. A win
// resets the streak but does not lift an active block; blocks lapse on
// their own and are evicted lazily by Check.
type Blocker struct {
	cfg     Config
	now     func() time.Time
	l       *applogger.Logger
	metrics domrepo.Metrics

	mu     sync.Mutex
	states map[string]*symbolState

	inbox chan models.OutcomeEvent
}

var _ domsvc.Gate = (*Blocker)(nil)

func New(cfg Config, l *applogger.Logger, opts ...Option) *Blocker {
	if cfg.LossThreshold <= 0 {
		cfg.LossThreshold = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Hour
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = 24 * time.Hour
		if cfg.MaxBackoff < cfg.BaseBackoff {
			cfg.MaxBackoff = cfg.BaseBackoff
		}
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	b := &Blocker{
		cfg:    cfg,
		now:    time.Now,
		l:      l,
		states: make(map[string]*symbolState),
		inbox:  make(chan models.OutcomeEvent, cfg.InboxSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Blocker) Stage() models.Stage { return models.StageBlocker }

func (b *Blocker) Check(_ context.Context, sig *models.Signal, _ *models.GateContext) models.GateResult {
	now := b.now()

	b.mu.Lock()
	st := b.states[sig.Symbol]
	if st == nil || st.entry == nil {
		b.mu.Unlock()
		return models.Pass(models.StageBlocker, sig, models.ReasonOK, now)
	}
	entry := *st.entry
	if entry.Active(now) {
		b.mu.Unlock()
		detail := fmt.Sprintf("%s blocked until %s (%s, %d adverse)",
			sig.Symbol, entry.BlockedUntil.UTC().Format(time.RFC3339), entry.Reason, entry.TriggerCount)
		return models.Reject(models.StageBlocker, sig, models.ReasonSymbolBlocked, detail, now)
	}
	st.entry = nil
	active := b.activeLocked(now)
	b.mu.Unlock()

	b.recordBlocked(active)
	return models.Pass(models.StageBlocker, sig, models.ReasonBlockExpired, now)
}

// RecordOutcome applies one execution outcome and returns the block entry
// it installed or extended, if any.
func (b *Blocker) RecordOutcome(evt models.OutcomeEvent) (models.SymbolBlockEntry, bool) {
	now := b.now()
	slipped := b.cfg.MaxSlippageBps > 0 && evt.SlippageBps > b.cfg.MaxSlippageBps
	adverse := evt.Outcome == models.ExecutionLoss || slipped

	b.mu.Lock()
	st := b.states[evt.Symbol]
	if st == nil {
		st = &symbolState{}
		b.states[evt.Symbol] = st
	}

	switch evt.Outcome {
	case models.ExecutionWin:
		st.wins++
	case models.ExecutionLoss:
		st.losses++
	case models.ExecutionNeutral:
		st.neutral++
	}

	if !adverse {
		if evt.Outcome == models.ExecutionWin {
			st.consecutive = 0
		}
		b.mu.Unlock()
		return models.SymbolBlockEntry{}, false
	}

	st.consecutive++
	if st.consecutive < b.cfg.LossThreshold {
		b.mu.Unlock()
		return models.SymbolBlockEntry{}, false
	}

	until := now.Add(b.backoff(st.consecutive))
	if st.entry != nil && st.entry.BlockedUntil.After(until) {
		until = st.entry.BlockedUntil
	}
	reason := models.BlockReasonLosingStreak
	if evt.Outcome != models.ExecutionLoss {
		reason = models.BlockReasonAbnormalSlippage
	}
	entry := models.SymbolBlockEntry{
		Symbol:       evt.Symbol,
		BlockedUntil: until,
		Reason:       reason,
		TriggerCount: st.consecutive,
	}
	st.entry = &entry
	active := b.activeLocked(now)
	b.mu.Unlock()

	b.recordBlocked(active)
	return entry, true
}

// backoff is BaseBackoff * 2^(n-threshold), capped at MaxBackoff.
func (b *Blocker) backoff(n int) time.Duration {
	d := b.cfg.BaseBackoff
	for i := b.cfg.LossThreshold; i < n; i++ {
		if d >= b.cfg.MaxBackoff/2 {
			return b.cfg.MaxBackoff
		}
		d *= 2
	}
	if d > b.cfg.MaxBackoff {
		return b.cfg.MaxBackoff
	}
	return d
}

// Report queues an outcome for Run. It blocks only while the inbox is full.
func (b *Blocker) Report(ctx context.Context, evt models.OutcomeEvent) error {
	if !evt.Outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", models.ErrValidation, evt.Outcome)
	}
	if evt.Symbol == "" {
		return fmt.Errorf("%w: outcome without symbol", models.ErrValidation)
	}
	select {
	case b.inbox <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the inbox until ctx is cancelled.
func (b *Blocker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-b.inbox:
			b.apply(evt)
		}
	}
}

func (b *Blocker) apply(evt models.OutcomeEvent) {
	entry, blocked := b.RecordOutcome(evt)
	if !blocked {
		b.l.Debug("outcome recorded",
			applogger.String("symbol", evt.Symbol),
			applogger.String("outcome", string(evt.Outcome)),
		)
		return
	}
	b.l.Warn("symbol blocked",
		applogger.String("symbol", entry.Symbol),
		applogger.String("reason", string(entry.Reason)),
		applogger.Int("trigger_count", entry.TriggerCount),
		applogger.Time("blocked_until", entry.BlockedUntil),
	)
}

// Clear lifts a block and resets the streak.
func (b *Blocker) Clear(symbol string) bool {
	b.mu.Lock()
	st := b.states[symbol]
	if st == nil || st.entry == nil {
		b.mu.Unlock()
		return false
	}
	st.entry = nil
	st.consecutive = 0
	active := b.activeLocked(b.now())
	b.mu.Unlock()

	b.recordBlocked(active)
	b.l.Info("symbol unblocked", applogger.String("symbol", symbol))
	return true
}

// Entries returns the active blocks ordered by symbol.
func (b *Blocker) Entries() []models.SymbolBlockEntry {
	now := b.now()
	b.mu.Lock()
	out := make([]models.SymbolBlockEntry, 0)
	for _, st := range b.states {
		if st.entry != nil && st.entry.Active(now) {
			out = append(out, *st.entry)
		}
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Health reports win ratio and streak for a symbol.
func (b *Blocker) Health(symbol string) models.SymbolHealth {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := models.SymbolHealth{Symbol: symbol, Ratio: 1}
	st := b.states[symbol]
	if st == nil {
		return h
	}
	h.Wins, h.Losses, h.Neutral = st.wins, st.losses, st.neutral
	h.ConsecutiveLosses = st.consecutive
	if decided := st.wins + st.losses; decided > 0 {
		h.Ratio = float64(st.wins) / float64(decided)
	}
	return h
}

func (b *Blocker) activeLocked(now time.Time) int {
	n := 0
	for _, st := range b.states {
		if st.entry != nil && st.entry.Active(now) {
			n++
		}
	}
	return n
}

func (b *Blocker) recordBlocked(n int) {
	if b.metrics != nil {
		b.metrics.RecordBlockedSymbols(n)
	}
}
