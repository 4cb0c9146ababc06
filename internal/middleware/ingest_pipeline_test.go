package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/rsifilter"
	"SignalGate/internal/usecase"
	applogger "SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIngester struct {
	mu    sync.Mutex
	seen  map[string][]float64
	total int
}

func (r *recordingIngester) Ingest(_ context.Context, s *models.IndicatorSnapshot) (*models.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string][]float64)
	}
	r.seen[s.Symbol] = append(r.seen[s.Symbol], s.Indicators["seq"])
	r.total++
	return nil, nil
}

func (r *recordingIngester) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func newPipeline(ing Ingester, opts ...PipelineOption) *IngestPipeline {
	return NewIngestPipeline(ing, metrics.New(prometheus.NewRegistry()), applogger.Nop(), opts...)
}

func TestIngestPipeline_PerSymbolOrder(t *testing.T) {
	ing := &recordingIngester{}
	p := newPipeline(ing, WithShards(3))
	p.Start(context.Background())

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}
	const perSymbol = 200
	var wg sync.WaitGroup
	for _, s := range symbols {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			for i := 0; i < perSymbol; i++ {
				snap := &models.IndicatorSnapshot{
					Symbol:     s,
					Indicators: map[string]float64{"seq": float64(i)},
					Candidate:  &models.Signal{ID: fmt.Sprintf("%s-%d", s, i)},
				}
				assert.NoError(t, p.Submit(context.Background(), snap))
			}
		}(s)
	}
	wg.Wait()
	p.Stop()

	require.Equal(t, len(symbols)*perSymbol, ing.count())
	for _, s := range symbols {
		seq := ing.seen[s]
		require.Len(t, seq, perSymbol)
		for i, v := range seq {
			assert.Equal(t, float64(i), v, s)
		}
	}
}

func TestIngestPipeline_ForwardsEveryIndicatorTick(t *testing.T) {
	ing := &recordingIngester{}
	p := newPipeline(ing, WithShards(2))
	p.Start(context.Background())

	for i := 0; i < 500; i++ {
		require.NoError(t, p.Submit(context.Background(), &models.IndicatorSnapshot{
			Symbol:     "BTCUSDT",
			Indicators: map[string]float64{"seq": float64(i)},
		}))
	}
	p.Stop()

	assert.Equal(t, 500, ing.count())
}

func TestIngestPipeline_RSIProfileSeesEveryTick(t *testing.T) {
	filter := rsifilter.New(rsifilter.Config{MinSamples: 20, Window: 500})
	admission := usecase.NewPipeline(nil, nil, nil, applogger.Nop(), usecase.WithObserver(filter))
	p := newPipeline(admission, WithShards(4))
	p.Start(context.Background())

	const ticks = 100
	for i := 0; i < ticks; i++ {
		require.NoError(t, p.Submit(context.Background(), &models.IndicatorSnapshot{
			Symbol:     "BTCUSDT",
			Indicators: map[string]float64{"rsi": 50},
		}))
	}
	p.Stop()

	prof, ok := filter.Profile("BTCUSDT")
	require.True(t, ok)
	assert.EqualValues(t, ticks, prof.SampleCount)
	assert.Equal(t, models.RSIWarm, prof.State)
}

func TestIngestPipeline_IngestWaitsForShardOrder(t *testing.T) {
	ing := &recordingIngester{}
	p := newPipeline(ing, WithShards(1))
	p.Start(context.Background())

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), &models.IndicatorSnapshot{
			Symbol:     "BTCUSDT",
			Indicators: map[string]float64{"seq": float64(i)},
		}))
	}
	_, err := p.Ingest(context.Background(), &models.IndicatorSnapshot{
		Symbol:     "BTCUSDT",
		Indicators: map[string]float64{"seq": 10},
		Candidate:  &models.Signal{ID: "http"},
	})
	require.NoError(t, err)
	// queued ticks were processed before the waiting one returned
	assert.Equal(t, 11, ing.count())
	p.Stop()

	_, err = p.Ingest(context.Background(), &models.IndicatorSnapshot{Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, ErrPipelineStopped)
}

func TestIngestPipeline_RejectsInvalidAndStopped(t *testing.T) {
	p := newPipeline(&recordingIngester{})
	err := p.Submit(context.Background(), &models.IndicatorSnapshot{})
	assert.ErrorIs(t, err, models.ErrValidation)

	err = p.Submit(context.Background(), &models.IndicatorSnapshot{Symbol: "BTCUSDT", Indicators: map[string]float64{"rsi": math.NaN()}})
	assert.ErrorIs(t, err, models.ErrValidation)

	err = p.Submit(context.Background(), &models.IndicatorSnapshot{Symbol: "BTCUSDT", Candidate: &models.Signal{}})
	assert.ErrorIs(t, err, ErrPipelineStopped)
}

func TestIngestPipeline_BackpressureHonoursContext(t *testing.T) {
	block := make(chan struct{})
	ing := ingestFunc(func(context.Context, *models.IndicatorSnapshot) (*models.Decision, error) {
		<-block
		return nil, nil
	})
	p := newPipeline(ing, WithShards(1), WithBufferSize(1))
	p.Start(context.Background())
	defer func() {
		close(block)
		p.Stop()
	}()

	sig := &models.Signal{ID: "x"}
	// one in the worker, one buffered
	require.NoError(t, p.Submit(context.Background(), &models.IndicatorSnapshot{Symbol: "BTCUSDT", Candidate: sig}))
	require.Eventually(t, func() bool {
		return p.Submit(context.Background(), &models.IndicatorSnapshot{Symbol: "BTCUSDT", Candidate: sig}) == nil
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, &models.IndicatorSnapshot{Symbol: "BTCUSDT", Candidate: sig})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type ingestFunc func(context.Context, *models.IndicatorSnapshot) (*models.Decision, error)

func (f ingestFunc) Ingest(ctx context.Context, s *models.IndicatorSnapshot) (*models.Decision, error) {
	return f(ctx, s)
}
