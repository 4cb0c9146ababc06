package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"SignalGate/internal/domain/models"
	applogger "SignalGate/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]models.GateResult
}

func (b *batchRecorder) write(_ context.Context, rows []models.GateResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, append([]models.GateResult(nil), rows...))
	return nil
}

func (b *batchRecorder) rows() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, batch := range b.batches {
		n += len(batch)
	}
	return n
}

func testJournal(rec *batchRecorder, size int, interval time.Duration) *CHJournal {
	j := newJournal("gate_results", applogger.Nop(), WithJournalBatch(size, interval))
	j.write = rec.write
	return j
}

func result(id string) models.GateResult {
	return models.Pass(models.StageValidator, &models.Signal{ID: id, Symbol: "BTCUSDT"}, models.ReasonOK, time.Now())
}

func TestCHJournal_FlushesOnBatchSize(t *testing.T) {
	rec := &batchRecorder{}
	j := testJournal(rec, 3, time.Hour)
	require.NoError(t, j.Init(context.Background()))

	for i := 0; i < 7; i++ {
		require.NoError(t, j.Record(context.Background(), []models.GateResult{result("s")}))
	}
	require.Eventually(t, func() bool { return rec.rows() == 6 }, time.Second, 5*time.Millisecond)

	require.NoError(t, j.Close())
	assert.Equal(t, 7, rec.rows())
	assert.Error(t, j.Record(context.Background(), []models.GateResult{result("late")}))
}

func TestCHJournal_FlushesOnInterval(t *testing.T) {
	rec := &batchRecorder{}
	j := testJournal(rec, 100, 10*time.Millisecond)
	require.NoError(t, j.Init(context.Background()))
	defer j.Close()

	require.NoError(t, j.Record(context.Background(), []models.GateResult{result("a"), result("b")}))
	require.Eventually(t, func() bool { return rec.rows() == 2 }, time.Second, 5*time.Millisecond)
}

func TestCHJournal_CloseWithoutInitFlushes(t *testing.T) {
	rec := &batchRecorder{}
	j := testJournal(rec, 100, time.Hour)
	require.NoError(t, j.Record(context.Background(), []models.GateResult{result("a")}))
	require.NoError(t, j.Close())
	assert.Equal(t, 1, rec.rows())
	require.NoError(t, j.Close())
}
