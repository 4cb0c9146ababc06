package models

import "time"

type ExecutionOutcome string

const (
	ExecutionWin     ExecutionOutcome = "WIN"
	ExecutionLoss    ExecutionOutcome = "LOSS"
	ExecutionNeutral ExecutionOutcome = "NEUTRAL"
)

func (o ExecutionOutcome) Valid() bool {
	switch o {
	case ExecutionWin, ExecutionLoss, ExecutionNeutral:
		return true
	}
	return false
}

// OutcomeEvent reports how an executed signal ended.
type OutcomeEvent struct {
	SignalID    string           `json:"signal_id"`
	Symbol      string           `json:"symbol" validate:"required"`
	Outcome     ExecutionOutcome `json:"outcome" validate:"required,oneof=WIN LOSS NEUTRAL"`
	SlippageBps float64          `json:"slippage_bps"`
	PnL         float64          `json:"pnl"`
	At          time.Time        `json:"at"`
}

type BlockReason string

const (
	BlockReasonLosingStreak     BlockReason = "losing_streak"
	BlockReasonAbnormalSlippage BlockReason = "abnormal_slippage"
)

// SymbolBlockEntry is the active block for a symbol.
type SymbolBlockEntry struct {
	Symbol       string      `json:"symbol" msgpack:"symbol"`
	BlockedUntil time.Time   `json:"blocked_until" msgpack:"blocked_until"`
	Reason       BlockReason `json:"reason" msgpack:"reason"`
	TriggerCount int         `json:"trigger_count" msgpack:"trigger_count"`
}

// Active reports whether the block still applies at now.
func (e SymbolBlockEntry) Active(now time.Time) bool {
	return now.Before(e.BlockedUntil)
}

// SymbolHealth summarizes execution feedback for a symbol.
type SymbolHealth struct {
	Symbol            string  `json:"symbol" msgpack:"symbol"`
	Wins              int     `json:"wins" msgpack:"wins"`
	Losses            int     `json:"losses" msgpack:"losses"`
	Neutral           int     `json:"neutral" msgpack:"neutral"`
	ConsecutiveLosses int     `json:"consecutive_losses" msgpack:"consecutive_losses"`
	Ratio             float64 `json:"ratio" msgpack:"ratio"`
}
