package signalqueue

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"

	"github.com/google/uuid"
)

type Config struct {
	Capacity int
	TTL      time.Duration
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

type item struct {
	entry models.QueueEntry
	seq   uint64
	index int
}

// entryHeap orders by priority desc, then enqueue time, then sequence.
type entryHeap []*item

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return less(h[i], h[j]) }

func less(a, b *item) bool {
	if a.entry.Priority != b.entry.Priority {
		return a.entry.Priority > b.entry.Priority
	}
	if !a.entry.EnqueueTime.Equal(b.entry.EnqueueTime) {
		return a.entry.EnqueueTime.Before(b.entry.EnqueueTime)
	}
	return a.seq < b.seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a bounded priority queue of admitted signals. It never evicts:
// a full queue rejects new entries with models.ErrQueueFull. Every entry
// leaves exactly once, either through Dequeue or as an expired result of
// ExpireStale. Each method holds the lock for one short, non-blocking
// section.
type Queue struct {
	cfg     Config
	now     func() time.Time
	metrics domrepo.Metrics

	mu      sync.Mutex
	h       entryHeap
	seq     uint64
	expired []models.QueueEntry // removed by Dequeue, reported by ExpireStale
	stats   models.QueueStats

	ready chan struct{}
}

func New(cfg Config, opts ...Option) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	q := &Queue{
		cfg:   cfg,
		now:   time.Now,
		ready: make(chan struct{}, 1),
		stats: models.QueueStats{Capacity: cfg.Capacity, ByPriority: make(map[int]int)},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Ready is signalled after every successful Enqueue. It has a buffer of
// one, so consumers must drain the queue after each wake-up.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

func (q *Queue) Enqueue(sig *models.Signal, conf *models.ConfidenceScore, priority int) (models.QueueToken, error) {
	if sig == nil {
		return "", fmt.Errorf("%w: nil signal", models.ErrValidation)
	}

	q.mu.Lock()
	if len(q.h) >= q.cfg.Capacity {
		q.stats.Rejected++
		depth := len(q.h)
		q.mu.Unlock()
		q.event("rejected", depth)
		return "", fmt.Errorf("%w: capacity %d", models.ErrQueueFull, q.cfg.Capacity)
	}

	q.seq++
	it := &item{
		seq: q.seq,
		entry: models.QueueEntry{
			Token:       models.QueueToken(uuid.NewString()),
			Signal:      sig,
			Confidence:  conf,
			Priority:    priority,
			EnqueueTime: q.now(),
			State:       models.EntryEnqueued,
		},
	}
	heap.Push(&q.h, it)
	q.stats.Enqueued++
	q.stats.ByPriority[priority]++
	depth := len(q.h)
	q.mu.Unlock()

	q.event("enqueued", depth)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return it.entry.Token, nil
}

// Dequeue removes and returns the best non-expired entry. Expired entries
// found on the way are set aside for the next ExpireStale.
func (q *Queue) Dequeue() (models.QueueEntry, error) {
	now := q.now()

	q.mu.Lock()
	for len(q.h) > 0 {
		it := heap.Pop(&q.h).(*item)
		q.stats.ByPriority[it.entry.Priority]--
		if q.isExpired(it.entry, now) {
			it.entry.State = models.EntryExpired
			q.expired = append(q.expired, it.entry)
			continue
		}
		it.entry.State = models.EntryDequeued
		it.entry.Attempts++
		q.stats.Dequeued++
		depth := len(q.h)
		q.mu.Unlock()

		q.event("dequeued", depth)
		return it.entry, nil
	}
	q.mu.Unlock()
	return models.QueueEntry{}, models.ErrQueueEmpty
}

// Peek returns the entry Dequeue would return, without removing anything.
func (q *Queue) Peek() (models.QueueEntry, error) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var best *item
	for _, it := range q.h {
		if q.isExpired(it.entry, now) {
			continue
		}
		if best == nil || less(it, best) {
			best = it
		}
	}
	if best == nil {
		return models.QueueEntry{}, models.ErrQueueEmpty
	}
	return best.entry, nil
}

// ExpireStale removes every entry older than the TTL at now and returns
// one REJECT result per expired entry, including those set aside by
// Dequeue.
func (q *Queue) ExpireStale(now time.Time) []models.GateResult {
	q.mu.Lock()
	expired := q.expired
	q.expired = nil

	kept := q.h[:0]
	for _, it := range q.h {
		if q.isExpired(it.entry, now) {
			it.entry.State = models.EntryExpired
			q.stats.ByPriority[it.entry.Priority]--
			expired = append(expired, it.entry)
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(q.h); i++ {
		q.h[i] = nil
	}
	q.h = kept
	for i, it := range q.h {
		it.index = i
	}
	heap.Init(&q.h)
	q.stats.Expired += int64(len(expired))
	depth := len(q.h)
	q.mu.Unlock()

	results := make([]models.GateResult, 0, len(expired))
	for _, e := range expired {
		age := now.Sub(e.EnqueueTime)
		detail := fmt.Sprintf("waited %s, ttl %s (%v)", age.Truncate(time.Millisecond), q.cfg.TTL, models.ErrStaleEntry)
		results = append(results, models.Reject(models.StageQueue, e.Signal, models.ReasonQueueExpired, detail, now))
	}
	if len(expired) > 0 {
		q.event("expired", depth)
	}
	return results
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

func (q *Queue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	s.Depth = len(q.h)
	s.ByPriority = make(map[int]int, len(q.stats.ByPriority))
	for p, n := range q.stats.ByPriority {
		if n > 0 {
			s.ByPriority[p] = n
		}
	}
	return s
}

func (q *Queue) isExpired(e models.QueueEntry, now time.Time) bool {
	return now.Sub(e.EnqueueTime) > q.cfg.TTL
}

func (q *Queue) event(name string, depth int) {
	if q.metrics == nil {
		return
	}
	q.metrics.RecordQueueEvent(name)
	q.metrics.RecordQueueDepth(depth)
}
