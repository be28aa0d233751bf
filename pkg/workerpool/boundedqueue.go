package workerpool

import (
	"context"
	"time"
)

// BoundedQueueConfig configures a BoundedQueue's capacity and overflow
// backoff (spec.md §5: "caller is retried with backoff... until space
// is available, not rejected").
type BoundedQueueConfig struct {
	Limit        int
	RetryTimeout time.Duration
}

const (
	// DefaultQueueLimit is spec.md §6.4's default ingress buffer capacity.
	DefaultQueueLimit = 5000
	// DefaultQueueLimitRetryTimeout is spec.md §6.4's default overflow
	// backoff.
	DefaultQueueLimitRetryTimeout = 4 * time.Second
)

// BoundedQueue is a FIFO channel of arbitrary items with a fixed
// capacity; Submit blocks and retries with backoff on overflow instead
// of erroring, the ingress shape the writer pipeline uses per
// perspective.
type BoundedQueue struct {
	items chan interface{}
	cfg   BoundedQueueConfig
}

// NewBoundedQueue creates a queue, filling in §6.4's defaults for any
// zero-valued config fields.
func NewBoundedQueue(cfg BoundedQueueConfig) *BoundedQueue {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultQueueLimit
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = DefaultQueueLimitRetryTimeout
	}
	return &BoundedQueue{items: make(chan interface{}, cfg.Limit), cfg: cfg}
}

// Submit enqueues v, retrying with the configured backoff while the
// queue is full, until ctx is done.
func (q *BoundedQueue) Submit(ctx context.Context, v interface{}) error {
	for {
		select {
		case q.items <- v:
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(q.cfg.RetryTimeout):
		}
	}
}

// Next blocks until an item is available or ctx is done.
func (q *BoundedQueue) Next(ctx context.Context) (interface{}, error) {
	select {
	case v := <-q.items:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of items currently queued.
func (q *BoundedQueue) Len() int { return len(q.items) }
