// Package queue implements the optional bounded-queue facet a
// subsystem can install in front of its processor. Overflow behavior
// is the facet's contract, not a kernel guarantee.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lesfleursdelanuitdev/mycelia/internal/log"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
)

// ErrQueueFull is returned by the error policy when the queue is at
// capacity.
var ErrQueueFull = errors.New("queue full")

// ErrQueueEmpty is returned by Dequeue on an empty queue.
var ErrQueueEmpty = errors.New("queue empty")

// Policy names an overflow behavior.
type Policy string

const (
	// PolicyDropOldest evicts the head to admit the new message.
	PolicyDropOldest Policy = "drop-oldest"
	// PolicyDropNewest drops the incoming message.
	PolicyDropNewest Policy = "drop-newest"
	// PolicyBlock is documented as a placeholder: it behaves as
	// drop-oldest with the overflow event annotated
	// reason="block-timeout" until a true blocking enqueue exists.
	PolicyBlock Policy = "block"
	// PolicyError rejects the enqueue with ErrQueueFull.
	PolicyError Policy = "error"
)

// OverflowEvent describes one overflow decision.
type OverflowEvent struct {
	Reason  string
	Dropped *message.Message
}

// Config configures a queue.
type Config struct {
	// MaxSize bounds the queue. Minimum 1.
	MaxSize int
	// Policy picks the overflow behavior. Empty means drop-oldest.
	Policy Policy
	// OnOverflow observes overflow events. May be nil.
	OnOverflow func(OverflowEvent)
}

// DefaultMaxSize bounds queues configured with MaxSize <= 0.
const DefaultMaxSize = 1024

// Queue is a bounded FIFO of messages.
type Queue struct {
	mu         sync.Mutex
	items      []*message.Message
	maxSize    int
	policy     Policy
	onOverflow func(OverflowEvent)
}

// NewQueue creates a queue. A nil config uses drop-oldest at the
// default capacity.
func NewQueue(config *Config) (*Queue, error) {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	switch cfg.Policy {
	case "", PolicyDropOldest:
		cfg.Policy = PolicyDropOldest
	case PolicyDropNewest, PolicyBlock, PolicyError:
	default:
		return nil, fmt.Errorf("unknown queue policy: %s", cfg.Policy)
	}
	return &Queue{
		maxSize:    cfg.MaxSize,
		policy:     cfg.Policy,
		onOverflow: cfg.OnOverflow,
	}, nil
}

// Enqueue admits a message, applying the overflow policy at capacity.
func (q *Queue) Enqueue(msg *message.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) < q.maxSize {
		q.items = append(q.items, msg)
		return nil
	}

	switch q.policy {
	case PolicyDropOldest, PolicyBlock:
		reason := "drop-oldest"
		if q.policy == PolicyBlock {
			reason = "block-timeout"
		}
		dropped := q.items[0]
		q.items = append(q.items[1:], msg)
		q.notify(OverflowEvent{Reason: reason, Dropped: dropped})
		return nil
	case PolicyDropNewest:
		q.notify(OverflowEvent{Reason: "drop-newest", Dropped: msg})
		return nil
	case PolicyError:
		q.notify(OverflowEvent{Reason: "error", Dropped: msg})
		return fmt.Errorf("%w (max %d)", ErrQueueFull, q.maxSize)
	}
	return nil
}

// Dequeue removes and returns the head message.
func (q *Queue) Dequeue() (*message.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, ErrQueueEmpty
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, nil
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) notify(evt OverflowEvent) {
	if q.onOverflow == nil {
		log.Debug(log.CatQueue, "queue overflow", "reason", evt.Reason)
		return
	}
	q.onOverflow(evt)
}
