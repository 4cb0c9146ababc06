package models

import "time"

type Stage string

const (
	StageValidator  Stage = "validator"
	StageConfidence Stage = "confidence"
	StageRSI        Stage = "rsi"
	StageBlocker    Stage = "blocker"
	StageQueue      Stage = "queue"
	StageRisk       Stage = "risk"
)

// AllStages lists the stages in pipeline order.
func AllStages() []Stage {
	return []Stage{StageValidator, StageConfidence, StageRSI, StageBlocker, StageQueue, StageRisk}
}

type GateOutcome string

const (
	OutcomePass   GateOutcome = "PASS"
	OutcomeReject GateOutcome = "REJECT"
	OutcomeDefer  GateOutcome = "DEFER"
)

type ReasonCode string

const (
	ReasonOK ReasonCode = "ok"

	ReasonMissingField       ReasonCode = "missing_field"
	ReasonInvalidSymbol      ReasonCode = "invalid_symbol"
	ReasonInvalidDirection   ReasonCode = "invalid_direction"
	ReasonNonPositivePrice   ReasonCode = "non_positive_price"
	ReasonInconsistentLevels ReasonCode = "inconsistent_levels"
	ReasonStaleSignal        ReasonCode = "stale_signal"
	ReasonFutureTimestamp    ReasonCode = "future_timestamp"

	ReasonLowConfidence    ReasonCode = "low_confidence"
	ReasonModelUnavailable ReasonCode = "model_unavailable"
	ReasonFeatureMismatch  ReasonCode = "feature_mismatch"

	ReasonRSIColdStart ReasonCode = "rsi_cold_start"
	ReasonRSIMissing   ReasonCode = "rsi_missing"
	ReasonRSIAnomaly   ReasonCode = "rsi_anomaly"

	ReasonSymbolBlocked ReasonCode = "symbol_blocked"
	ReasonBlockExpired  ReasonCode = "block_expired"

	ReasonQueueFull    ReasonCode = "queue_full"
	ReasonQueueExpired ReasonCode = "queue_ttl_expired"

	ReasonRiskAccepted ReasonCode = "risk_accepted"
	ReasonRiskRejected ReasonCode = "risk_rejected"
	ReasonRiskError    ReasonCode = "risk_unreachable"

	ReasonInternalError ReasonCode = "internal_error"
)

// IsError reports whether the reason denotes a failure inside the stage
// rather than a decision about the signal.
func (r ReasonCode) IsError() bool {
	switch r {
	case ReasonModelUnavailable, ReasonFeatureMismatch, ReasonInternalError, ReasonRiskError:
		return true
	}
	return false
}

// GateResult is the verdict of a single stage for a single signal. Values
// are never mutated; use the With* helpers to derive copies.
type GateResult struct {
	Stage    Stage         `json:"stage"`
	SignalID string        `json:"signal_id"`
	Symbol   string        `json:"symbol"`
	Outcome  GateOutcome   `json:"outcome"`
	Reason   ReasonCode    `json:"reason"`
	Detail   string        `json:"detail,omitempty"`
	Score    *float64      `json:"score,omitempty"`
	Latency  time.Duration `json:"latency"`
	At       time.Time     `json:"at"`
}

func (r GateResult) Passed() bool { return r.Outcome == OutcomePass }

func (r GateResult) WithLatency(d time.Duration) GateResult {
	r.Latency = d
	return r
}

func (r GateResult) WithScore(v float64) GateResult {
	r.Score = &v
	return r
}

// Pass builds a PASS result for the signal at the given stage.
func Pass(stage Stage, sig *Signal, reason ReasonCode, at time.Time) GateResult {
	return newResult(stage, sig, OutcomePass, reason, "", at)
}

// Reject builds a REJECT result for the signal at the given stage.
func Reject(stage Stage, sig *Signal, reason ReasonCode, detail string, at time.Time) GateResult {
	return newResult(stage, sig, OutcomeReject, reason, detail, at)
}

// Defer builds a DEFER result for the signal at the given stage.
func Defer(stage Stage, sig *Signal, reason ReasonCode, detail string, at time.Time) GateResult {
	return newResult(stage, sig, OutcomeDefer, reason, detail, at)
}

func newResult(stage Stage, sig *Signal, outcome GateOutcome, reason ReasonCode, detail string, at time.Time) GateResult {
	r := GateResult{
		Stage:   stage,
		Outcome: outcome,
		Reason:  reason,
		Detail:  detail,
		At:      at,
	}
	if sig != nil {
		r.SignalID = sig.ID
		r.Symbol = sig.Symbol
	}
	return r
}

// GateContext carries per-evaluation inputs shared by the gates of one run:
// the indicator tick the signal came with and the confidence produced by
// the scoring stage.
type GateContext struct {
	Snapshot   *IndicatorSnapshot
	Confidence *ConfidenceScore
}

// Decision is the outcome of a full pipeline run for one signal.
type Decision struct {
	Signal     *Signal          `json:"signal"`
	Results    []GateResult     `json:"results"`
	Confidence *ConfidenceScore `json:"confidence,omitempty"`
	Admitted   bool             `json:"admitted"`
	Token      QueueToken       `json:"token,omitempty"`
	Priority   int              `json:"priority,omitempty"`
}

// Final returns the last recorded result, which is the one that decided
// the run.
func (d *Decision) Final() (GateResult, bool) {
	if len(d.Results) == 0 {
		return GateResult{}, false
	}
	return d.Results[len(d.Results)-1], true
}
