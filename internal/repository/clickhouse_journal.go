package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	pkgch "SignalGate/pkg/clickhouse"
	applogger "SignalGate/pkg/logger"
)

var journalColumns = []string{"at", "stage", "signal_id", "symbol", "outcome", "reason", "detail", "score", "latency_us"}

type batchWriter func(ctx context.Context, rows []models.GateResult) error

// CHJournal buffers gate results and writes them to ClickHouse in
// batches, on size or on a timer, whichever comes first.
type CHJournal struct {
	client *pkgch.Client
	db     *sql.DB
	table  string
	l      *applogger.Logger

	batchSize     int
	flushInterval time.Duration
	write         batchWriter

	mu     sync.Mutex
	buf    []models.GateResult
	closed bool

	flushCh chan []models.GateResult
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ domrepo.GateJournal = (*CHJournal)(nil)

type JournalOption func(*CHJournal)

func WithJournalBatch(size int, interval time.Duration) JournalOption {
	return func(j *CHJournal) {
		if size > 0 {
			j.batchSize = size
		}
		if interval > 0 {
			j.flushInterval = interval
		}
	}
}

func NewCHJournal(ch *pkgch.Client, table string, l *applogger.Logger, opts ...JournalOption) *CHJournal {
	j := newJournal(table, l, opts...)
	j.client = ch
	j.db = ch.DB()
	j.write = j.insert
	return j
}

func newJournal(table string, l *applogger.Logger, opts ...JournalOption) *CHJournal {
	j := &CHJournal{
		table:         table,
		l:             l,
		batchSize:     500,
		flushInterval: time.Second,
		flushCh:       make(chan []models.GateResult, 8),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Init creates the table and starts the background writer.
func (j *CHJournal) Init(ctx context.Context) error {
	if j.client != nil {
		ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            at          DateTime64(3, 'UTC'),
            stage       LowCardinality(String),
            signal_id   String,
            symbol      LowCardinality(String),
            outcome     LowCardinality(String),
            reason      LowCardinality(String),
            detail      String,
            score       Nullable(Float64),
            latency_us  UInt64
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(at)
        ORDER BY (symbol, at)
        TTL toDateTime(at) + INTERVAL 90 DAY`, j.table)
		if err := j.client.InitSchema(ctx, []string{ddl}); err != nil {
			return err
		}
	}
	j.wg.Add(1)
	go j.loop()
	return nil
}

// Record appends results to the buffer. A full buffer is handed to the
// writer; if the writer is behind, the batch is written inline.
func (j *CHJournal) Record(ctx context.Context, results []models.GateResult) error {
	if len(results) == 0 {
		return nil
	}
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return fmt.Errorf("journal closed")
	}
	j.buf = append(j.buf, results...)
	if len(j.buf) < j.batchSize {
		j.mu.Unlock()
		return nil
	}
	batch := j.buf
	j.buf = make([]models.GateResult, 0, j.batchSize)
	j.mu.Unlock()

	select {
	case j.flushCh <- batch:
		return nil
	default:
	}
	return j.write(ctx, batch)
}

func (j *CHJournal) loop() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case batch := <-j.flushCh:
			j.writeLogged(batch)
		case <-ticker.C:
			j.writeLogged(j.take())
		case <-j.stopCh:
			for {
				select {
				case batch := <-j.flushCh:
					j.writeLogged(batch)
				default:
					j.writeLogged(j.take())
					return
				}
			}
		}
	}
}

func (j *CHJournal) take() []models.GateResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.buf) == 0 {
		return nil
	}
	batch := j.buf
	j.buf = make([]models.GateResult, 0, j.batchSize)
	return batch
}

func (j *CHJournal) writeLogged(batch []models.GateResult) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := j.write(ctx, batch); err != nil {
		j.l.Error("journal batch write failed",
			applogger.String("table", j.table),
			applogger.Int("rows", len(batch)),
			applogger.Error(err),
		)
	}
}

func (j *CHJournal) insert(ctx context.Context, batch []models.GateResult) error {
	rows := make([][]any, 0, len(batch))
	for _, r := range batch {
		var score any
		if r.Score != nil {
			score = *r.Score
		}
		rows = append(rows, []any{
			r.At.UTC(),
			string(r.Stage),
			r.SignalID,
			r.Symbol,
			string(r.Outcome),
			string(r.Reason),
			r.Detail,
			score,
			uint64(r.Latency.Microseconds()),
		})
	}
	return j.client.InsertBatch(ctx, j.table, journalColumns, rows)
}

// Query returns the newest results of a symbol within [from, to].
func (j *CHJournal) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.GateResult, error) {
	if j.db == nil {
		return nil, fmt.Errorf("journal has no database")
	}
	const qtpl = `
        SELECT at, stage, signal_id, symbol, outcome, reason, detail, score, latency_us
        FROM %s
        WHERE symbol = ? AND at >= ? AND at <= ?
        ORDER BY at DESC
        LIMIT ?
    `
	rows, err := j.db.QueryContext(ctx, fmt.Sprintf(qtpl, j.table), symbol, from.UTC(), to.UTC(), limit)
	if err != nil {
		j.l.Error("clickhouse journal query error", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	out := make([]models.GateResult, 0, limit)
	for rows.Next() {
		var (
			r                      models.GateResult
			stage, outcome, reason string
			score                  sql.NullFloat64
			latencyUS              uint64
		)
		if err := rows.Scan(&r.At, &stage, &r.SignalID, &r.Symbol, &outcome, &reason, &r.Detail, &score, &latencyUS); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		r.Stage = models.Stage(stage)
		r.Outcome = models.GateOutcome(outcome)
		r.Reason = models.ReasonCode(reason)
		r.Latency = time.Duration(latencyUS) * time.Microsecond
		if score.Valid {
			r = r.WithScore(score.Float64)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (j *CHJournal) Health(ctx context.Context) error {
	if j.client == nil {
		return nil
	}
	return j.client.Health(ctx)
}

// Close flushes buffered results and stops the writer. The connection
// pool is owned by the caller.
func (j *CHJournal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()
	close(j.stopCh)
	j.wg.Wait()
	// covers a journal closed without Init
	j.writeLogged(j.take())
	return nil
}
