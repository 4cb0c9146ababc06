package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	pkgkafka "SignalGate/pkg/kafka"
)

// DecisionMessage is the wire form of a pipeline decision.
type DecisionMessage struct {
	SignalID   string                  `json:"signal_id"`
	Symbol     string                  `json:"symbol"`
	Direction  models.Direction        `json:"direction"`
	Admitted   bool                    `json:"admitted"`
	Stage      models.Stage            `json:"stage,omitempty"`
	Outcome    models.GateOutcome      `json:"outcome,omitempty"`
	Reason     models.ReasonCode       `json:"reason,omitempty"`
	Detail     string                  `json:"detail,omitempty"`
	Priority   int                     `json:"priority,omitempty"`
	Token      models.QueueToken       `json:"token,omitempty"`
	Confidence *models.ConfidenceScore `json:"confidence,omitempty"`
	Results    []models.GateResult     `json:"results"`
	At         time.Time               `json:"at"`
}

func NewDecisionMessage(d *models.Decision) DecisionMessage {
	m := DecisionMessage{
		Admitted:   d.Admitted,
		Priority:   d.Priority,
		Token:      d.Token,
		Confidence: d.Confidence,
		Results:    d.Results,
	}
	if d.Signal != nil {
		m.SignalID = d.Signal.ID
		m.Symbol = d.Signal.Symbol
		m.Direction = d.Signal.Direction
	}
	if final, ok := d.Final(); ok {
		m.Stage = final.Stage
		m.Outcome = final.Outcome
		m.Reason = final.Reason
		m.Detail = final.Detail
		m.At = final.At
	}
	return m
}

// KafkaDecisionPublisher publishes decisions keyed by symbol, so each
// symbol's decisions stay ordered within a partition.
type KafkaDecisionPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ domrepo.DecisionPublisher = (*KafkaDecisionPublisher)(nil)

func NewKafkaDecisionPublisher(producer *pkgkafka.Producer, topic string) *KafkaDecisionPublisher {
	return &KafkaDecisionPublisher{producer: producer, topic: topic}
}

func (p *KafkaDecisionPublisher) PublishDecision(ctx context.Context, d *models.Decision) error {
	if d == nil || d.Signal == nil {
		return fmt.Errorf("%w: decision without signal", models.ErrValidation)
	}
	payload, err := json.Marshal(NewDecisionMessage(d))
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	return p.producer.Publish(ctx, p.topic, []byte(d.Signal.Symbol), payload)
}

// Close is a no-op; the producer is shared and closed by its owner.
func (p *KafkaDecisionPublisher) Close() error { return nil }
