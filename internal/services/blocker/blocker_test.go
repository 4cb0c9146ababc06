package blocker

import (
	"context"
	"testing"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/cache"
	applogger "SignalGate/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newBlocker(c *clock) *Blocker {
	return New(Config{
		LossThreshold:  3,
		BaseBackoff:    10 * time.Minute,
		MaxBackoff:     time.Hour,
		MaxSlippageBps: 50,
	}, applogger.Nop(), WithClock(c.now))
}

func loss(symbol string) models.OutcomeEvent {
	return models.OutcomeEvent{Symbol: symbol, Outcome: models.ExecutionLoss}
}

func checkSymbol(b *Blocker, symbol string) models.GateResult {
	return b.Check(context.Background(), &models.Signal{ID: "s", Symbol: symbol}, nil)
}

func TestBlocker_BlocksAfterThreshold(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := newBlocker(c)

	for i := 0; i < 2; i++ {
		_, blocked := b.RecordOutcome(loss("BTCUSDT"))
		assert.False(t, blocked)
	}
	assert.True(t, checkSymbol(b, "BTCUSDT").Passed())

	entry, blocked := b.RecordOutcome(loss("BTCUSDT"))
	require.True(t, blocked)
	assert.Equal(t, 3, entry.TriggerCount)
	assert.Equal(t, models.BlockReasonLosingStreak, entry.Reason)
	assert.Equal(t, c.t.Add(10*time.Minute), entry.BlockedUntil)

	res := checkSymbol(b, "BTCUSDT")
	assert.Equal(t, models.OutcomeReject, res.Outcome)
	assert.Equal(t, models.ReasonSymbolBlocked, res.Reason)

	assert.True(t, checkSymbol(b, "ETHUSDT").Passed())
}

func TestBlocker_ExpiryEvicts(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := newBlocker(c)
	for i := 0; i < 3; i++ {
		b.RecordOutcome(loss("BTCUSDT"))
	}
	require.Len(t, b.Entries(), 1)

	c.advance(10*time.Minute + time.Second)
	res := checkSymbol(b, "BTCUSDT")
	assert.Equal(t, models.OutcomePass, res.Outcome)
	assert.Equal(t, models.ReasonBlockExpired, res.Reason)
	assert.Empty(t, b.Entries())

	res = checkSymbol(b, "BTCUSDT")
	assert.Equal(t, models.ReasonOK, res.Reason)
}

func TestBlocker_BackoffDoublesAndCaps(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := newBlocker(c)

	want := []time.Duration{10 * time.Minute, 20 * time.Minute, 40 * time.Minute, time.Hour, time.Hour}
	for i := 0; i < 2; i++ {
		b.RecordOutcome(loss("BTCUSDT"))
	}
	for _, d := range want {
		entry, blocked := b.RecordOutcome(loss("BTCUSDT"))
		require.True(t, blocked)
		assert.Equal(t, c.t.Add(d), entry.BlockedUntil)
	}
}

func TestBlocker_BlockedUntilNeverMovesBackwards(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := New(Config{LossThreshold: 1, BaseBackoff: 10 * time.Minute, MaxBackoff: time.Hour}, applogger.Nop(), WithClock(c.now))

	var longest models.SymbolBlockEntry
	for i := 0; i < 3; i++ {
		longest, _ = b.RecordOutcome(loss("BTCUSDT"))
	}
	assert.Equal(t, c.t.Add(40*time.Minute), longest.BlockedUntil)

	// a win resets the streak, so the next loss computes only the base backoff
	b.RecordOutcome(models.OutcomeEvent{Symbol: "BTCUSDT", Outcome: models.ExecutionWin})
	c.advance(time.Minute)

	next, blocked := b.RecordOutcome(loss("BTCUSDT"))
	require.True(t, blocked)
	assert.Equal(t, longest.BlockedUntil, next.BlockedUntil)
	assert.Equal(t, 1, next.TriggerCount)
}

func TestBlocker_WinResetsStreakButKeepsBlock(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := newBlocker(c)
	for i := 0; i < 3; i++ {
		b.RecordOutcome(loss("BTCUSDT"))
	}
	b.RecordOutcome(models.OutcomeEvent{Symbol: "BTCUSDT", Outcome: models.ExecutionWin})

	assert.Equal(t, models.OutcomeReject, checkSymbol(b, "BTCUSDT").Outcome)
	h := b.Health("BTCUSDT")
	assert.Equal(t, 0, h.ConsecutiveLosses)
	assert.Equal(t, 1, h.Wins)
	assert.Equal(t, 3, h.Losses)
	assert.InDelta(t, 0.25, h.Ratio, 1e-9)
}

func TestBlocker_NeutralKeepsStreak(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := newBlocker(c)
	b.RecordOutcome(loss("BTCUSDT"))
	b.RecordOutcome(loss("BTCUSDT"))
	b.RecordOutcome(models.OutcomeEvent{Symbol: "BTCUSDT", Outcome: models.ExecutionNeutral})
	_, blocked := b.RecordOutcome(loss("BTCUSDT"))
	assert.True(t, blocked)
}

func TestBlocker_SlippageIsAdverse(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := newBlocker(c)
	slipped := models.OutcomeEvent{Symbol: "BTCUSDT", Outcome: models.ExecutionWin, SlippageBps: 80}
	for i := 0; i < 2; i++ {
		b.RecordOutcome(slipped)
	}
	entry, blocked := b.RecordOutcome(slipped)
	require.True(t, blocked)
	assert.Equal(t, models.BlockReasonAbnormalSlippage, entry.Reason)
}

func TestBlocker_ClearLiftsBlock(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := newBlocker(c)
	for i := 0; i < 3; i++ {
		b.RecordOutcome(loss("BTCUSDT"))
	}
	assert.True(t, b.Clear("BTCUSDT"))
	assert.False(t, b.Clear("BTCUSDT"))
	assert.True(t, checkSymbol(b, "BTCUSDT").Passed())
}

func TestBlocker_ReportAndRun(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := newBlocker(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Report(ctx, loss("BTCUSDT")))
	}
	assert.Eventually(t, func() bool { return len(b.Entries()) == 1 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, b.Report(ctx, models.OutcomeEvent{Symbol: "BTCUSDT", Outcome: "MAYBE"}), models.ErrValidation)

	cancel()
	<-done
}

func TestBlocker_PersistRestore(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryCache()
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}

	src := newBlocker(c)
	for i := 0; i < 3; i++ {
		src.RecordOutcome(loss("BTCUSDT"))
	}
	src.RecordOutcome(loss("ETHUSDT"))
	n, err := src.Persist(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dst := newBlocker(c)
	_, err = dst.Restore(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeReject, checkSymbol(dst, "BTCUSDT").Outcome)
	assert.Equal(t, 1, dst.Health("ETHUSDT").ConsecutiveLosses)

	c.advance(2 * time.Hour)
	late := newBlocker(c)
	_, err = late.Restore(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, late.Entries())
}
