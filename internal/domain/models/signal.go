package models

import (
	"sort"
	"time"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Signal is a candidate trade produced upstream. It is treated as immutable
// once it enters the pipeline.
type Signal struct {
	ID              string             `json:"id" msgpack:"id" validate:"required"`
	Symbol          string             `json:"symbol" msgpack:"symbol" validate:"required"`
	Direction       Direction          `json:"direction" msgpack:"direction" validate:"required"`
	EntryPrice      float64            `json:"entry_price" msgpack:"entry_price" validate:"required"`
	StopLoss        float64            `json:"stop_loss" msgpack:"stop_loss" validate:"required"`
	TakeProfits     []float64          `json:"take_profits" msgpack:"take_profits" validate:"required,min=1"`
	Timestamp       time.Time          `json:"timestamp" msgpack:"timestamp" validate:"required"`
	Features        map[string]float64 `json:"features" msgpack:"features" validate:"required,min=1"`
	SourcePatternID string             `json:"source_pattern_id,omitempty" msgpack:"source_pattern_id"`
}

// FeatureKeys returns the signal's feature names in sorted order.
func (s *Signal) FeatureKeys() []string {
	keys := make([]string, 0, len(s.Features))
	for k := range s.Features {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IndicatorSnapshot is one tick of indicator values for a symbol. Candidate
// is set when the tick carries a signal to evaluate.
type IndicatorSnapshot struct {
	Symbol     string             `json:"symbol" validate:"required"`
	Timestamp  time.Time          `json:"timestamp"`
	Indicators map[string]float64 `json:"indicators"`
	Candidate  *Signal            `json:"signal,omitempty"`
}

// Indicator returns the named indicator value if present.
func (s *IndicatorSnapshot) Indicator(name string) (float64, bool) {
	if s == nil || s.Indicators == nil {
		return 0, false
	}
	v, ok := s.Indicators[name]
	return v, ok
}
