package logger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Publisher ships aggregated error logs to an external sink (a Kafka topic
// in production).
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // unique entries before an early flush
	Topic          string
	Publisher      Publisher
	PublishTimeout time.Duration
}

type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds repeated error logs by (level, caller, message) and
// publishes the folded batch periodically. Fields of the first occurrence win.
type LogCollector struct {
	config  *CollectionConfig
	mu      sync.Mutex
	entries map[string]*AggregatedLogEntry
	flushCh chan []AggregatedLogEntry
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &LogCollector{
		config:  config,
		entries: make(map[string]*AggregatedLogEntry),
		flushCh: make(chan []AggregatedLogEntry, 8),
		cancel:  cancel,
	}

	c.wg.Add(2)
	go c.tick(ctx)
	go c.publish()

	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := level + "|" + caller + "|" + message

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if entry, ok := c.entries[key]; ok {
		entry.Count++
		entry.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(c.entries) >= c.config.CountThreshold {
		c.flushLocked()
	}
}

// Snapshot returns the pending (not yet flushed) entries ordered by first occurrence.
func (c *LogCollector) Snapshot() []AggregatedLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *LogCollector) pendingLocked() []AggregatedLogEntry {
	out := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}

func (c *LogCollector) flushLocked() {
	if len(c.entries) == 0 {
		return
	}
	batch := c.pendingLocked()
	c.entries = make(map[string]*AggregatedLogEntry)

	select {
	case c.flushCh <- batch:
	default:
		// publisher is behind; drop the batch rather than block the caller
	}
}

func (c *LogCollector) tick(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.flushCh)

	ticker := time.NewTicker(c.config.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
		case <-ctx.Done():
			c.mu.Lock()
			c.flushLocked()
			c.closed = true
			c.mu.Unlock()
			return
		}
	}
}

func (c *LogCollector) publish() {
	defer c.wg.Done()
	for batch := range c.flushCh {
		if c.config.Publisher == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.config.PublishTimeout)
		_ = c.config.Publisher.PublishMessage(ctx, c.config.Topic, batch)
		cancel()
	}
}

func (c *LogCollector) Close() {
	c.cancel()
	c.wg.Wait()
}
