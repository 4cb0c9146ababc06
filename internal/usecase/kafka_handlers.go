package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	pkgkafka "SignalGate/pkg/kafka"
	"SignalGate/pkg/util"

	"github.com/google/uuid"
)

// SnapshotSink accepts ticks for ordered, per-symbol processing.
type SnapshotSink interface {
	Submit(ctx context.Context, snap *models.IndicatorSnapshot) error
}

// OutcomeReporter accepts execution outcomes.
type OutcomeReporter interface {
	Report(ctx context.Context, evt models.OutcomeEvent) error
}

// flexTime accepts RFC3339 strings and unix seconds or milliseconds.
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*t = flexTime(time.Time{})
		return nil
	}
	parsed, ok := util.ParseTime(s)
	if !ok {
		return fmt.Errorf("invalid time %q", s)
	}
	*t = flexTime(parsed)
	return nil
}

type signalMessage struct {
	ID              string             `json:"id"`
	Symbol          string             `json:"symbol"`
	Direction       string             `json:"direction"`
	EntryPrice      float64            `json:"entry_price"`
	StopLoss        float64            `json:"stop_loss"`
	TakeProfits     []float64          `json:"take_profits"`
	Timestamp       flexTime           `json:"timestamp"`
	Features        map[string]float64 `json:"features"`
	SourcePatternID string             `json:"source_pattern_id"`
}

// incoming message schema: {symbol, timestamp, indicators, signal?}
type snapshotMessage struct {
	Symbol     string             `json:"symbol"`
	Timestamp  flexTime           `json:"timestamp"`
	Indicators map[string]float64 `json:"indicators"`
	Signal     *signalMessage     `json:"signal"`
}

// SnapshotHandler decodes indicator ticks from Kafka and submits them to
// the ingest pipeline.
type SnapshotHandler struct {
	topic   string
	sink    SnapshotSink
	metrics domrepo.Metrics
}

func NewSnapshotHandler(topic string, sink SnapshotSink, metrics domrepo.Metrics) *SnapshotHandler {
	return &SnapshotHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *SnapshotHandler) Topic() string { return h.topic }

func (h *SnapshotHandler) Handle(ctx context.Context, b []byte) error {
	snap, err := DecodeSnapshot(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if !snap.Timestamp.IsZero() {
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(snap.Timestamp).Seconds())
	}
	if err := h.sink.Submit(ctx, snap); err != nil {
		h.metrics.RecordError("consumer_submit")
		return err
	}
	return nil
}

// DecodeSnapshot parses a tick message. A candidate without an id gets a
// fresh one and inherits the tick's symbol and time when it has none.
func DecodeSnapshot(b []byte) (*models.IndicatorSnapshot, error) {
	var m snapshotMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if m.Symbol == "" {
		return nil, fmt.Errorf("%w: snapshot without symbol", models.ErrValidation)
	}
	snap := &models.IndicatorSnapshot{
		Symbol:     strings.ToUpper(m.Symbol),
		Timestamp:  time.Time(m.Timestamp),
		Indicators: m.Indicators,
	}
	if s := m.Signal; s != nil {
		sig := &models.Signal{
			ID:              s.ID,
			Symbol:          strings.ToUpper(s.Symbol),
			Direction:       models.Direction(strings.ToUpper(s.Direction)),
			EntryPrice:      s.EntryPrice,
			StopLoss:        s.StopLoss,
			TakeProfits:     s.TakeProfits,
			Timestamp:       time.Time(s.Timestamp),
			Features:        s.Features,
			SourcePatternID: s.SourcePatternID,
		}
		if sig.ID == "" {
			sig.ID = uuid.NewString()
		}
		if sig.Symbol == "" {
			sig.Symbol = snap.Symbol
		}
		if sig.Timestamp.IsZero() {
			sig.Timestamp = snap.Timestamp
		}
		snap.Candidate = sig
	}
	return snap, nil
}

var _ pkgkafka.MessageHandler = (*SnapshotHandler)(nil)

// incoming message schema: {signal_id, symbol, outcome, slippage_bps, pnl, at}
type outcomeMessage struct {
	SignalID    string   `json:"signal_id"`
	Symbol      string   `json:"symbol"`
	Outcome     string   `json:"outcome"`
	SlippageBps float64  `json:"slippage_bps"`
	PnL         float64  `json:"pnl"`
	At          flexTime `json:"at"`
}

// OutcomeHandler feeds execution outcomes from Kafka to the symbol blocker.
type OutcomeHandler struct {
	topic    string
	reporter OutcomeReporter
	metrics  domrepo.Metrics
}

func NewOutcomeHandler(topic string, reporter OutcomeReporter, metrics domrepo.Metrics) *OutcomeHandler {
	return &OutcomeHandler{topic: topic, reporter: reporter, metrics: metrics}
}

func (h *OutcomeHandler) Topic() string { return h.topic }

func (h *OutcomeHandler) Handle(ctx context.Context, b []byte) error {
	var m outcomeMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode outcome: %w", err)
	}
	evt := models.OutcomeEvent{
		SignalID:    m.SignalID,
		Symbol:      strings.ToUpper(m.Symbol),
		Outcome:     models.ExecutionOutcome(strings.ToUpper(m.Outcome)),
		SlippageBps: m.SlippageBps,
		PnL:         m.PnL,
		At:          time.Time(m.At),
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	if err := h.reporter.Report(ctx, evt); err != nil {
		h.metrics.RecordError("consumer_outcome")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*OutcomeHandler)(nil)
