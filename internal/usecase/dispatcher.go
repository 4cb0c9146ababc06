package usecase

import (
	"context"
	"errors"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	applogger "SignalGate/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Dequeuer is the consumer side of the signal queue.
type Dequeuer interface {
	Dequeue() (models.QueueEntry, error)
	Ready() <-chan struct{}
}

type DispatcherConfig struct {
	Workers       int
	PollInterval  time.Duration // wake-up when no Ready signal arrives
	SubmitTimeout time.Duration
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherJournal(j domrepo.GateJournal) DispatcherOption {
	return func(d *Dispatcher) { d.journal = j }
}

func WithDispatcherMetrics(m domrepo.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher hands dequeued entries to the risk manager. Each entry is
// submitted exactly once; a failed submission is recorded, not retried.
type Dispatcher struct {
	cfg      DispatcherConfig
	queue    Dequeuer
	risk     domrepo.RiskManager
	recorder Recorder
	journal  domrepo.GateJournal
	metrics  domrepo.Metrics
	now      func() time.Time
	l        *applogger.Logger
}

func NewDispatcher(cfg DispatcherConfig, queue Dequeuer, risk domrepo.RiskManager, recorder Recorder, l *applogger.Logger, opts ...DispatcherOption) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 2 * time.Second
	}
	d := &Dispatcher{cfg: cfg, queue: queue, risk: risk, recorder: recorder, now: time.Now, l: l}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run starts the workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.work(gctx)
			return nil
		})
	}
	d.l.Info("dispatcher started", applogger.Int("workers", d.cfg.Workers))
	err := g.Wait()
	d.l.Info("dispatcher stopped")
	return err
}

func (d *Dispatcher) work(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		for ctx.Err() == nil {
			if _, ok := d.DispatchOnce(ctx); !ok {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-d.queue.Ready():
		case <-ticker.C:
		}
	}
}

// DispatchOnce dequeues one entry and submits it. It reports false when
// the queue was empty.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (models.GateResult, bool) {
	entry, err := d.queue.Dequeue()
	if err != nil {
		if !errors.Is(err, models.ErrQueueEmpty) {
			d.l.Error("dequeue failed", applogger.Error(err))
		}
		return models.GateResult{}, false
	}

	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	decision, err := d.risk.Submit(sctx, entry.Signal, entry.Confidence)
	cancel()

	var res models.GateResult
	switch {
	case err != nil:
		res = models.Reject(models.StageRisk, entry.Signal, models.ReasonRiskError, err.Error(), d.now())
		d.l.Error("risk submit failed",
			applogger.Error(err),
			applogger.String("signal_id", entry.Signal.ID),
			applogger.String("token", string(entry.Token)),
		)
		if d.metrics != nil {
			d.metrics.RecordError("risk_submit")
		}
	case decision.Accepted:
		res = models.Pass(models.StageRisk, entry.Signal, models.ReasonRiskAccepted, d.now())
	default:
		res = models.Reject(models.StageRisk, entry.Signal, models.ReasonRiskRejected, decision.Reason, d.now())
	}
	res = res.WithLatency(time.Since(start))

	if d.recorder != nil {
		d.recorder.Record(res)
	}
	if d.journal != nil {
		if err := d.journal.Record(ctx, []models.GateResult{res}); err != nil {
			d.l.Error("journal record failed", applogger.Error(err))
		}
	}
	d.l.Debug("entry dispatched",
		applogger.String("signal_id", res.SignalID),
		applogger.String("outcome", string(res.Outcome)),
		applogger.String("reason", string(res.Reason)),
		applogger.Duration("waited", start.Sub(entry.EnqueueTime)),
	)
	return res, true
}
