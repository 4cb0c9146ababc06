package repository

import (
	"context"
	"time"

	"SignalGate/internal/domain/models"
)

// SnapshotStream delivers indicator ticks from a live market feed.
type SnapshotStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.IndicatorSnapshot, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// DecisionPublisher fans pipeline decisions out to downstream consumers.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, d *models.Decision) error
	Close() error
}

// GateJournal persists gate results for audit and offline analysis.
type GateJournal interface {
	Init(ctx context.Context) error
	Record(ctx context.Context, results []models.GateResult) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.GateResult, error)
	Health(ctx context.Context) error
	Close() error
}

// RiskManager is the downstream collaborator that takes admitted signals.
// It is called exactly once per dequeued entry.
type RiskManager interface {
	Submit(ctx context.Context, sig *models.Signal, conf *models.ConfidenceScore) (models.RiskDecision, error)
}

type Metrics interface {
	RecordGateResult(stage, outcome, reason string, seconds float64)
	RecordQueueDepth(depth int)
	RecordQueueEvent(event string)
	RecordBlockedSymbols(n int)
	RecordStageHealth(stage string, health models.Health)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

// StateStore keeps component state snapshots between restarts.
type StateStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
}
