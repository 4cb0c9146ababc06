package blocker

import (
	"context"
	"errors"
	"fmt"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/pkg/cache"
)

const stateKey = "blocker:state"

type symbolSnapshot struct {
	Symbol      string                   `msgpack:"symbol"`
	Consecutive int                      `msgpack:"consecutive"`
	Wins        int                      `msgpack:"wins"`
	Losses      int                      `msgpack:"losses"`
	Neutral     int                      `msgpack:"neutral"`
	Entry       *models.SymbolBlockEntry `msgpack:"entry"`
}

// Persist saves streaks, counters and blocks to the store.
func (b *Blocker) Persist(ctx context.Context, store domrepo.StateStore) (int, error) {
	b.mu.Lock()
	snaps := make([]symbolSnapshot, 0, len(b.states))
	for symbol, st := range b.states {
		s := symbolSnapshot{
			Symbol:      symbol,
			Consecutive: st.consecutive,
			Wins:        st.wins,
			Losses:      st.losses,
			Neutral:     st.neutral,
		}
		if st.entry != nil {
			e := *st.entry
			s.Entry = &e
		}
		snaps = append(snaps, s)
	}
	b.mu.Unlock()

	if err := store.Set(ctx, stateKey, snaps, 0); err != nil {
		return 0, fmt.Errorf("persist blocker state: %w", err)
	}
	return len(snaps), nil
}

// Restore loads state saved by Persist. Expired blocks are dropped and
// symbols already tracked in this process are left alone.
func (b *Blocker) Restore(ctx context.Context, store domrepo.StateStore) (int, error) {
	var snaps []symbolSnapshot
	if err := store.Get(ctx, stateKey, &snaps); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return 0, nil
		}
		return 0, fmt.Errorf("restore blocker state: %w", err)
	}

	now := b.now()
	b.mu.Lock()
	restored := 0
	for _, s := range snaps {
		if _, exists := b.states[s.Symbol]; exists {
			continue
		}
		st := &symbolState{
			consecutive: s.Consecutive,
			wins:        s.Wins,
			losses:      s.Losses,
			neutral:     s.Neutral,
		}
		if s.Entry != nil && s.Entry.Active(now) {
			e := *s.Entry
			st.entry = &e
		}
		b.states[s.Symbol] = st
		restored++
	}
	active := b.activeLocked(now)
	b.mu.Unlock()

	b.recordBlocked(active)
	return restored, nil
}
