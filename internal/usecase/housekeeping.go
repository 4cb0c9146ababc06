package usecase

import (
	"context"
	"fmt"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	applogger "SignalGate/pkg/logger"

	"github.com/robfig/cron/v3"
)

// StaleExpirer drops queue entries older than their TTL.
type StaleExpirer interface {
	ExpireStale(now time.Time) []models.GateResult
}

// Snapshotter saves and loads component state.
type Snapshotter interface {
	Persist(ctx context.Context, store domrepo.StateStore) (int, error)
	Restore(ctx context.Context, store domrepo.StateStore) (int, error)
}

// LockingStore is a state store that can also hold a short lease, so only
// one replica persists at a time.
type LockingStore interface {
	domrepo.StateStore
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

type Resetter interface {
	Reset()
}

type HousekeepingConfig struct {
	ExpireSpec  string // cron spec for queue expiry
	PersistSpec string // cron spec for state persistence; empty disables
	ResetSpec   string // cron spec for monitor reset; empty disables
	LockTTL     time.Duration
	Timeout     time.Duration // per job
}

type namedSnapshotter struct {
	name string
	s    Snapshotter
}

// Housekeeper runs the periodic maintenance jobs on a cron scheduler.
type Housekeeper struct {
	cfg      HousekeepingConfig
	cron     *cron.Cron
	queue    StaleExpirer
	recorder Recorder
	journal  domrepo.GateJournal
	store    LockingStore
	monitor  Resetter
	states   []namedSnapshotter
	now      func() time.Time
	l        *applogger.Logger
}

type HousekeeperOption func(*Housekeeper)

func WithHousekeepingJournal(j domrepo.GateJournal) HousekeeperOption {
	return func(h *Housekeeper) { h.journal = j }
}

func WithStateStore(store LockingStore) HousekeeperOption {
	return func(h *Housekeeper) { h.store = store }
}

// WithSnapshotter registers component state for persistence.
func WithSnapshotter(name string, s Snapshotter) HousekeeperOption {
	return func(h *Housekeeper) { h.states = append(h.states, namedSnapshotter{name: name, s: s}) }
}

func WithMonitorReset(r Resetter) HousekeeperOption {
	return func(h *Housekeeper) { h.monitor = r }
}

func WithHousekeepingClock(now func() time.Time) HousekeeperOption {
	return func(h *Housekeeper) { h.now = now }
}

func NewHousekeeper(cfg HousekeepingConfig, queue StaleExpirer, recorder Recorder, l *applogger.Logger, opts ...HousekeeperOption) *Housekeeper {
	if cfg.ExpireSpec == "" {
		cfg.ExpireSpec = "@every 5s"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	h := &Housekeeper{cfg: cfg, queue: queue, recorder: recorder, now: time.Now, l: l}
	for _, opt := range opts {
		opt(h)
	}
	cl := cronLogger{l: l}
	h.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return h
}

// Start schedules the jobs and starts the scheduler.
func (h *Housekeeper) Start() error {
	if _, err := h.cron.AddFunc(h.cfg.ExpireSpec, h.job(h.ExpireQueue)); err != nil {
		return fmt.Errorf("schedule queue expiry: %w", err)
	}
	if h.cfg.PersistSpec != "" && h.store != nil && len(h.states) > 0 {
		if _, err := h.cron.AddFunc(h.cfg.PersistSpec, h.job(h.PersistState)); err != nil {
			return fmt.Errorf("schedule state persistence: %w", err)
		}
	}
	if h.cfg.ResetSpec != "" && h.monitor != nil {
		if _, err := h.cron.AddFunc(h.cfg.ResetSpec, func() {
			h.monitor.Reset()
			h.l.Info("monitor windows reset")
		}); err != nil {
			return fmt.Errorf("schedule monitor reset: %w", err)
		}
	}
	h.cron.Start()
	h.l.Info("housekeeping started", applogger.Int("jobs", len(h.cron.Entries())))
	return nil
}

// Stop halts the scheduler and waits for running jobs or ctx.
func (h *Housekeeper) Stop(ctx context.Context) error {
	done := h.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("housekeeping stop: %w", ctx.Err())
	}
}

func (h *Housekeeper) job(fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			h.l.Error("housekeeping job failed", applogger.Error(err))
		}
	}
}

// ExpireQueue drops stale queue entries and records their results.
func (h *Housekeeper) ExpireQueue(ctx context.Context) error {
	results := h.queue.ExpireStale(h.now())
	if len(results) == 0 {
		return nil
	}
	for _, r := range results {
		h.recorder.Record(r)
	}
	h.l.Warn("queue entries expired", applogger.Int("count", len(results)))
	if h.journal != nil {
		if err := h.journal.Record(ctx, results); err != nil {
			return fmt.Errorf("journal expired entries: %w", err)
		}
	}
	return nil
}

const persistLockKey = "lock:state-persist"

// PersistState saves every registered component while holding the persist
// lease. It is a no-op when another replica holds the lease.
func (h *Housekeeper) PersistState(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	token, err := h.store.TryLock(ctx, persistLockKey, h.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire persist lock: %w", err)
	}
	if token == "" {
		h.l.Debug("persist skipped, lease held elsewhere")
		return nil
	}
	defer func() {
		if err := h.store.Unlock(ctx, persistLockKey, token); err != nil {
			h.l.Warn("release persist lock failed", applogger.Error(err))
		}
	}()

	for _, st := range h.states {
		n, err := st.s.Persist(ctx, h.store)
		if err != nil {
			return fmt.Errorf("persist %s: %w", st.name, err)
		}
		h.l.Debug("state persisted", applogger.String("component", st.name), applogger.Int("entries", n))
	}
	return nil
}

// RestoreState loads every registered component. Failures are logged and
// skipped; a component without saved state starts empty.
func (h *Housekeeper) RestoreState(ctx context.Context) {
	if h.store == nil {
		return
	}
	for _, st := range h.states {
		n, err := st.s.Restore(ctx, h.store)
		if err != nil {
			h.l.Warn("state restore failed", applogger.String("component", st.name), applogger.Error(err))
			continue
		}
		h.l.Info("state restored", applogger.String("component", st.name), applogger.Int("entries", n))
	}
}

// cronLogger routes scheduler logs to the application logger.
type cronLogger struct {
	l *applogger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(kvFields(keysAndValues), applogger.Error(err))...)
}

func kvFields(kv []interface{}) []applogger.Field {
	fields := make([]applogger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, applogger.Any(key, kv[i+1]))
	}
	return fields
}
