package usecase

import (
	"context"
	"testing"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/services/blocker"
	"SignalGate/internal/services/rsifilter"
	"SignalGate/pkg/cache"
	applogger "SignalGate/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHousekeeper_ExpireQueueRecordsResults(t *testing.T) {
	h := newHarness(10)
	_, err := h.queue.Enqueue(btcSignal("old"), nil, 1)
	require.NoError(t, err)

	later := t0.Add(2 * time.Minute)
	hk := NewHousekeeper(HousekeepingConfig{}, h.queue, h.monitor, applogger.Nop(),
		WithHousekeepingJournal(h.journal),
		WithHousekeepingClock(func() time.Time { return later }))

	require.NoError(t, hk.ExpireQueue(context.Background()))
	assert.Zero(t, h.queue.Len())
	assert.Equal(t, 1, h.monitor.Counters(models.StageQueue).RejectCount)
	assert.Equal(t, 1, h.journal.len())

	require.NoError(t, hk.ExpireQueue(context.Background()))
	assert.Equal(t, 1, h.journal.len())
}

func TestHousekeeper_PersistAndRestore(t *testing.T) {
	h := newHarness(10)
	h.warm("BTCUSDT")
	for i := 0; i < 3; i++ {
		h.blocker.RecordOutcome(models.OutcomeEvent{Symbol: "BTCUSDT", Outcome: models.ExecutionLoss, At: t0})
	}

	store := cache.NewMemoryCache(cache.WithMemoryClock(h.now))
	hk := NewHousekeeper(HousekeepingConfig{}, h.queue, h.monitor, applogger.Nop(),
		WithStateStore(store),
		WithSnapshotter("blocker", h.blocker),
		WithSnapshotter("rsi", h.rsi))
	require.NoError(t, hk.PersistState(context.Background()))

	freshBlocker := blocker.New(blocker.Config{}, applogger.Nop(), blocker.WithClock(h.now))
	freshRSI := rsifilter.New(rsifilter.Config{}, rsifilter.WithClock(h.now))
	restorer := NewHousekeeper(HousekeepingConfig{}, h.queue, h.monitor, applogger.Nop(),
		WithStateStore(store),
		WithSnapshotter("blocker", freshBlocker),
		WithSnapshotter("rsi", freshRSI))
	restorer.RestoreState(context.Background())

	res := freshBlocker.Check(context.Background(), btcSignal("x"), nil)
	assert.Equal(t, models.ReasonSymbolBlocked, res.Reason)

	p, ok := freshRSI.Profile("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, int64(30), p.SampleCount)
}

func TestHousekeeper_PersistSkipsWhenLeaseHeld(t *testing.T) {
	h := newHarness(10)
	h.warm("BTCUSDT")
	store := cache.NewMemoryCache(cache.WithMemoryClock(h.now))
	token, err := store.TryLock(context.Background(), persistLockKey, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	hk := NewHousekeeper(HousekeepingConfig{}, h.queue, h.monitor, applogger.Nop(),
		WithStateStore(store), WithSnapshotter("rsi", h.rsi))
	require.NoError(t, hk.PersistState(context.Background()))

	var profiles []models.RSIProfile
	err = store.Get(context.Background(), "rsi:profiles", &profiles)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

// slowSnapshotter lets the lease run out mid-persist and hands it to
// another replica.
type slowSnapshotter struct {
	advance  func()
	store    *cache.MemoryCache
	rivalTok string
}

func (s *slowSnapshotter) Persist(ctx context.Context, _ domrepo.StateStore) (int, error) {
	s.advance()
	tok, err := s.store.TryLock(ctx, persistLockKey, time.Minute)
	s.rivalTok = tok
	return 0, err
}

func (s *slowSnapshotter) Restore(context.Context, domrepo.StateStore) (int, error) { return 0, nil }

func TestHousekeeper_ExpiredLeaseIsNotReleasedForNewOwner(t *testing.T) {
	h := newHarness(10)
	now := t0
	store := cache.NewMemoryCache(cache.WithMemoryClock(func() time.Time { return now }))
	slow := &slowSnapshotter{store: store, advance: func() { now = now.Add(time.Minute) }}

	hk := NewHousekeeper(HousekeepingConfig{LockTTL: time.Second}, h.queue, h.monitor, applogger.Nop(),
		WithStateStore(store), WithSnapshotter("slow", slow))
	require.NoError(t, hk.PersistState(context.Background()))
	require.NotEmpty(t, slow.rivalTok)

	tok, err := store.TryLock(context.Background(), persistLockKey, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, tok, "rival lease must still be held")
	require.NoError(t, store.Unlock(context.Background(), persistLockKey, slow.rivalTok))
}

func TestHousekeeper_StartRejectsBadSpec(t *testing.T) {
	h := newHarness(10)
	hk := NewHousekeeper(HousekeepingConfig{ExpireSpec: "not a spec"}, h.queue, h.monitor, applogger.Nop())
	assert.Error(t, hk.Start())

	ok := NewHousekeeper(HousekeepingConfig{ExpireSpec: "@every 1h"}, h.queue, h.monitor, applogger.Nop())
	require.NoError(t, ok.Start())
	require.NoError(t, ok.Stop(context.Background()))
}
