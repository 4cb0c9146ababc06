package middleware

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	applogger "SignalGate/pkg/logger"
)

var ErrPipelineStopped = errors.New("ingest pipeline not running")

// Ingester evaluates one tick.
type Ingester interface {
	Ingest(ctx context.Context, snap *models.IndicatorSnapshot) (*models.Decision, error)
}

// IngestPipeline sits between the feeds and the admission pipeline. It
// validates ticks and shards them by symbol onto ordered workers: ticks of
// one symbol are processed one at a time in arrival order, whichever feed
// they came from, and different symbols run concurrently.
type IngestPipeline struct {
	proc    Ingester
	metrics domrepo.Metrics
	l       *applogger.Logger

	shards  int
	bufSize int

	mu      sync.RWMutex
	started bool
	queues  []chan job
	wg      sync.WaitGroup
}

// job is one queued tick. reply is set when the submitter waits for the
// decision.
type job struct {
	snap  *models.IndicatorSnapshot
	reply chan<- ingestResult
}

type ingestResult struct {
	decision *models.Decision
	err      error
}

type PipelineOption func(*IngestPipeline)

// WithShards sets the number of ordered workers.
func WithShards(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.shards = n
		}
	}
}

// WithBufferSize sets the per-shard queue size.
func WithBufferSize(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func NewIngestPipeline(proc Ingester, metrics domrepo.Metrics, l *applogger.Logger, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		proc:    proc,
		metrics: metrics,
		l:       l,
		shards:  4,
		bufSize: 256,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches one worker per shard. Workers stop when Stop is called;
// ctx is passed to every Ingest call.
func (p *IngestPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.queues = make([]chan job, p.shards)
	for i := range p.queues {
		ch := make(chan job, p.bufSize)
		p.queues[i] = ch
		p.wg.Add(1)
		go p.worker(ctx, i, ch)
	}
	p.l.Info("ingest pipeline started", applogger.Int("shards", p.shards), applogger.Int("buffer", p.bufSize))
}

// Stop closes the shard queues and waits for workers to drain them.
func (p *IngestPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	for _, ch := range p.queues {
		close(ch)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.l.Info("ingest pipeline stopped")
}

// Submit validates and queues a tick. Every valid tick reaches the
// ingester: indicator-only ticks feed the RSI baselines and are never shed.
// It blocks while the symbol's shard is full, until ctx is done.
func (p *IngestPipeline) Submit(ctx context.Context, snap *models.IndicatorSnapshot) error {
	return p.enqueue(ctx, job{snap: snap})
}

// Ingest queues a tick on its symbol's shard and waits for its decision.
func (p *IngestPipeline) Ingest(ctx context.Context, snap *models.IndicatorSnapshot) (*models.Decision, error) {
	reply := make(chan ingestResult, 1)
	if err := p.enqueue(ctx, job{snap: snap, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.decision, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("ingest %s: %w", snap.Symbol, ctx.Err())
	}
}

func (p *IngestPipeline) enqueue(ctx context.Context, j job) error {
	if err := validateSnapshot(j.snap); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started {
		return ErrPipelineStopped
	}
	ch := p.queues[shardOf(j.snap.Symbol, len(p.queues))]
	select {
	case ch <- j:
		p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(ch)))
		return nil
	default:
	}
	p.metrics.RecordError("pipeline_backpressure")
	select {
	case ch <- j:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", j.snap.Symbol, ctx.Err())
	}
}

func (p *IngestPipeline) worker(ctx context.Context, shard int, ch <-chan job) {
	defer p.wg.Done()
	for j := range ch {
		start := time.Now()
		d, err := p.proc.Ingest(ctx, j.snap)
		if j.reply != nil {
			j.reply <- ingestResult{decision: d, err: err}
		}
		if err != nil {
			p.metrics.RecordError("pipeline_process")
			p.l.Error("ingest failed",
				applogger.Error(err),
				applogger.String("symbol", j.snap.Symbol),
				applogger.Int("shard", shard),
			)
			continue
		}
		p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	}
}

func shardOf(symbol string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}

func validateSnapshot(s *models.IndicatorSnapshot) error {
	if s == nil {
		return fmt.Errorf("%w: snapshot nil", models.ErrValidation)
	}
	if s.Symbol == "" {
		return fmt.Errorf("%w: symbol empty", models.ErrValidation)
	}
	for k, v := range s.Indicators {
		if v != v {
			return fmt.Errorf("%w: indicator %s is NaN", models.ErrValidation, k)
		}
	}
	return nil
}
