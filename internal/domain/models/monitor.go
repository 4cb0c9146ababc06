package models

import "time"

type Health string

const (
	HealthOK       Health = "OK"
	HealthDegraded Health = "DEGRADED"
	HealthCritical Health = "CRITICAL"
)

func (h Health) rank() int {
	switch h {
	case HealthCritical:
		return 2
	case HealthDegraded:
		return 1
	}
	return 0
}

// Worse returns the more severe of two health values.
func (h Health) Worse(other Health) Health {
	if other.rank() > h.rank() {
		return other
	}
	return h
}

// MonitorCounters describe one stage over the monitor's rolling window.
type MonitorCounters struct {
	Stage       Stage         `json:"stage"`
	PassCount   int           `json:"pass_count"`
	RejectCount int           `json:"reject_count"`
	ErrorCount  int           `json:"error_count"`
	DeferCount  int           `json:"defer_count"`
	LatencyP50  time.Duration `json:"latency_p50"`
	LatencyP95  time.Duration `json:"latency_p95"`
	Health      Health        `json:"health"`
	// SuccessRate is the lifetime pass ratio of the stage.
	SuccessRate float64 `json:"success_rate"`
}

// Total is the number of results in the window.
func (c MonitorCounters) Total() int {
	return c.PassCount + c.RejectCount + c.ErrorCount + c.DeferCount
}

// MonitorSnapshot is a consistent view of all stages.
type MonitorSnapshot struct {
	Stages              []MonitorCounters `json:"stages"`
	Overall             Health            `json:"overall"`
	PatternDistribution map[string]int    `json:"pattern_distribution"`
	TakenAt             time.Time         `json:"taken_at"`
}
