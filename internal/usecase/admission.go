package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	domsvc "SignalGate/internal/domain/service"
	applogger "SignalGate/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Enqueuer accepts admitted signals.
type Enqueuer interface {
	Enqueue(sig *models.Signal, conf *models.ConfidenceScore, priority int) (models.QueueToken, error)
}

// Recorder receives every gate result and every admission.
type Recorder interface {
	Record(r models.GateResult)
	RecordAdmission(sig *models.Signal)
}

// TickObserver folds indicator ticks into per-symbol baselines.
type TickObserver interface {
	ObserveSnapshot(snap *models.IndicatorSnapshot)
}

// PriorityFunc ranks an admitted signal in the queue.
type PriorityFunc func(sig *models.Signal, conf *models.ConfidenceScore) int

// ConfidencePriority ranks by probability in percent.
func ConfidencePriority(_ *models.Signal, conf *models.ConfidenceScore) int {
	if conf == nil {
		return 0
	}
	return int(math.Round(conf.Probability * 100))
}

type PipelineOption func(*Pipeline)

func WithPriority(fn PriorityFunc) PipelineOption {
	return func(p *Pipeline) {
		if fn != nil {
			p.priority = fn
		}
	}
}

func WithJournal(j domrepo.GateJournal) PipelineOption {
	return func(p *Pipeline) { p.journal = j }
}

func WithPublisher(pub domrepo.DecisionPublisher) PipelineOption {
	return func(p *Pipeline) { p.publisher = pub }
}

func WithObserver(o TickObserver) PipelineOption {
	return func(p *Pipeline) { p.observer = o }
}

func WithPipelineMetrics(m domrepo.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// WithBatchLimit bounds the symbols evaluated concurrently by EvaluateBatch.
func WithBatchLimit(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchLimit = n
		}
	}
}

// Pipeline runs a signal through the admission gates in order and enqueues
// it when every gate passes. The first non-PASS result ends the run. Gate
// panics are folded into REJECT results for that signal only.
type Pipeline struct {
	gates     []domsvc.Gate
	queue     Enqueuer
	recorder  Recorder
	observer  TickObserver
	journal   domrepo.GateJournal
	publisher domrepo.DecisionPublisher
	metrics   domrepo.Metrics
	priority  PriorityFunc
	now       func() time.Time
	l         *applogger.Logger

	batchLimit int
}

func NewPipeline(gates []domsvc.Gate, queue Enqueuer, recorder Recorder, l *applogger.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		gates:      gates,
		queue:      queue,
		recorder:   recorder,
		priority:   ConfidencePriority,
		now:        time.Now,
		l:          l,
		batchLimit: 8,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest evaluates the candidate carried by a tick, then folds the tick
// into the baselines. The candidate is judged against the baseline as it
// was before its own tick. Ticks without a candidate return a nil decision.
func (p *Pipeline) Ingest(ctx context.Context, snap *models.IndicatorSnapshot) (*models.Decision, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", models.ErrValidation)
	}
	var d *models.Decision
	if snap.Candidate != nil {
		d = p.Evaluate(ctx, snap.Candidate, snap)
	}
	if p.observer != nil {
		p.observer.ObserveSnapshot(snap)
	}
	return d, nil
}

// Evaluate runs one signal through every gate. It never returns an error:
// the decision's last result says why a signal was not admitted.
func (p *Pipeline) Evaluate(ctx context.Context, sig *models.Signal, snap *models.IndicatorSnapshot) *models.Decision {
	start := time.Now()
	d := &models.Decision{Signal: sig}
	gc := &models.GateContext{Snapshot: snap}

	for _, g := range p.gates {
		res := p.runGate(ctx, g, sig, gc)
		p.record(res)
		d.Results = append(d.Results, res)
		if !res.Passed() {
			p.finish(ctx, d, start)
			return d
		}
	}

	d.Confidence = gc.Confidence
	prio := p.priority(sig, gc.Confidence)
	qStart := time.Now()
	tok, err := p.queue.Enqueue(sig, gc.Confidence, prio)
	switch {
	case err == nil:
		d.Admitted = true
		d.Token = tok
		d.Priority = prio
		p.recorder.RecordAdmission(sig)
	case errors.Is(err, models.ErrQueueFull):
		res := models.Defer(models.StageQueue, sig, models.ReasonQueueFull, err.Error(), p.now()).WithLatency(time.Since(qStart))
		p.record(res)
		d.Results = append(d.Results, res)
	default:
		res := models.Reject(models.StageQueue, sig, models.ReasonInternalError, err.Error(), p.now()).WithLatency(time.Since(qStart))
		p.record(res)
		d.Results = append(d.Results, res)
	}

	p.finish(ctx, d, start)
	return d
}

// EvaluateBatch evaluates signals concurrently across symbols. Signals of
// the same symbol are evaluated in input order. Decisions are returned in
// input order.
func (p *Pipeline) EvaluateBatch(ctx context.Context, sigs []*models.Signal) ([]*models.Decision, error) {
	out := make([]*models.Decision, len(sigs))

	bySymbol := make(map[string][]int)
	var order []string
	for i, s := range sigs {
		if s == nil {
			return nil, fmt.Errorf("%w: nil signal at %d", models.ErrValidation, i)
		}
		if _, ok := bySymbol[s.Symbol]; !ok {
			order = append(order, s.Symbol)
		}
		bySymbol[s.Symbol] = append(bySymbol[s.Symbol], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchLimit)
	for _, sym := range order {
		idx := bySymbol[sym]
		g.Go(func() error {
			for _, i := range idx {
				if err := gctx.Err(); err != nil {
					return err
				}
				out[i] = p.Evaluate(gctx, sigs[i], nil)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) runGate(ctx context.Context, g domsvc.Gate, sig *models.Signal, gc *models.GateContext) (res models.GateResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.l.Error("gate panic",
				applogger.String("stage", string(g.Stage())),
				applogger.String("signal_id", sig.ID),
				applogger.Any("panic", r),
				applogger.String("stack", string(debug.Stack())),
			)
			res = models.Reject(g.Stage(), sig, models.ReasonInternalError, fmt.Sprintf("panic: %v", r), p.now())
		}
		res = res.WithLatency(time.Since(start))
	}()
	return g.Check(ctx, sig, gc)
}

func (p *Pipeline) record(res models.GateResult) {
	if p.recorder != nil {
		p.recorder.Record(res)
	}
}

func (p *Pipeline) finish(ctx context.Context, d *models.Decision, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordLatency("admission", time.Since(start).Seconds())
	}

	if final, ok := d.Final(); ok && !d.Admitted {
		p.l.Debug("signal not admitted",
			applogger.String("signal_id", final.SignalID),
			applogger.String("symbol", final.Symbol),
			applogger.String("stage", string(final.Stage)),
			applogger.String("reason", string(final.Reason)),
			applogger.String("detail", final.Detail),
		)
	} else if d.Admitted {
		p.l.Info("signal admitted",
			applogger.String("signal_id", d.Signal.ID),
			applogger.String("symbol", d.Signal.Symbol),
			applogger.Int("priority", d.Priority),
			applogger.String("token", string(d.Token)),
		)
	}

	if p.journal != nil {
		if err := p.journal.Record(ctx, d.Results); err != nil {
			p.l.Error("journal record failed", applogger.Error(err), applogger.String("signal_id", d.Signal.ID))
			p.recordError("journal")
		}
	}
	if p.publisher != nil {
		if err := p.publisher.PublishDecision(ctx, d); err != nil {
			p.l.Error("publish decision failed", applogger.Error(err), applogger.String("signal_id", d.Signal.ID))
			p.recordError("publish_decision")
		}
	}
}

func (p *Pipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}
