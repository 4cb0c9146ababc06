package models

import "time"

// Requests for the admission HTTP API.

type SignalRequest struct {
	ID              string             `json:"id"`
	Symbol          string             `json:"symbol" validate:"required"`
	Direction       string             `json:"direction" validate:"required,oneof=LONG SHORT"`
	EntryPrice      float64            `json:"entry_price" validate:"required"`
	StopLoss        float64            `json:"stop_loss" validate:"required"`
	TakeProfits     []float64          `json:"take_profits" validate:"required,min=1"`
	Timestamp       *time.Time         `json:"timestamp"`
	Features        map[string]float64 `json:"features" validate:"required"`
	Indicators      map[string]float64 `json:"indicators"`
	SourcePatternID string             `json:"source_pattern_id"`
}

type BatchSignalRequest struct {
	Signals []SignalRequest `json:"signals" validate:"required,min=1,max=100,dive"`
}

type OutcomeRequest struct {
	SignalID    string  `json:"signal_id"`
	Symbol      string  `json:"symbol" validate:"required"`
	Outcome     string  `json:"outcome" validate:"required,oneof=WIN LOSS NEUTRAL"`
	SlippageBps float64 `json:"slippage_bps" validate:"gte=0"`
	PnL         float64 `json:"pnl"`
}

type JournalRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"200" validate:"gte=1,lte=5000"`
}
