package models

import "time"

type RSIState string

const (
	RSICold RSIState = "COLD"
	RSIWarm RSIState = "WARM"
)

// RSIProfile is the rolling RSI baseline of one symbol.
type RSIProfile struct {
	Symbol        string    `json:"symbol"`
	RollingMean   float64   `json:"rolling_mean"`
	RollingStdDev float64   `json:"rolling_stddev"`
	SampleCount   int64     `json:"sample_count"`
	LastUpdate    time.Time `json:"last_update"`
	State         RSIState  `json:"state"`
}
