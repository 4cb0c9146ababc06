package models

import "time"

type QueueToken string

type EntryState string

const (
	EntryEnqueued EntryState = "ENQUEUED"
	EntryDequeued EntryState = "DEQUEUED"
	EntryExpired  EntryState = "EXPIRED"
	// EntryDropped is reserved for an overflow policy; the queue itself
	// never evicts.
	EntryDropped EntryState = "DROPPED"
)

// QueueEntry is an admitted signal waiting for the risk manager.
type QueueEntry struct {
	Token       QueueToken       `json:"token"`
	Signal      *Signal          `json:"signal"`
	Confidence  *ConfidenceScore `json:"confidence,omitempty"`
	Priority    int              `json:"priority"`
	EnqueueTime time.Time        `json:"enqueue_time"`
	Attempts    int              `json:"attempts"`
	State       EntryState       `json:"state"`
}

// QueueStats are lifetime counters of a signal queue.
type QueueStats struct {
	Depth      int         `json:"depth"`
	Capacity   int         `json:"capacity"`
	Enqueued   int64       `json:"enqueued"`
	Dequeued   int64       `json:"dequeued"`
	Expired    int64       `json:"expired"`
	Rejected   int64       `json:"rejected"`
	ByPriority map[int]int `json:"by_priority"`
}

// RiskDecision is the answer of the risk manager to a submitted signal.
type RiskDecision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}
