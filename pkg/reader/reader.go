// Package reader implements the lazy, optionally-tailing local read
// stream of spec.md §4.F: offset suppression, filter-and-hook
// projection with surrogate-ancestor rewriting, and a bounded,
// backpressured work queue.
package reader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/tree"
	"github.com/tangledb/tangle/pkg/workerpool"
)

// Hook transforms or filters one emitted item; returning ok=false drops
// it, treated the same as a filter miss (spec.md §4.F step 4).
type Hook func(ctx context.Context, it item.Item) (item.Item, bool, error)

// Config configures a Reader.
type Config struct {
	// Tree is the local-perspective tree to read from.
	Tree *tree.Tree
	// Offset, if set, suppresses emission until this version is seen.
	Offset item.Version
	// Filter is an attribute-equality predicate: an item is only
	// emitted if every key in Filter matches the item's body exactly.
	Filter map[string]interface{}
	// Hooks run in order after Filter passes.
	Hooks []Hook
	// Follow keeps the Reader open past the initial snapshot, polling
	// for new items.
	Follow bool
	// Raw emits BSON-encoded bytes instead of parsed Items.
	Raw bool
	// PollInterval configures the follow-mode re-scan cadence.
	PollInterval time.Duration
	// QueueLimit and QueueLimitRetryTimeout configure the bounded work
	// queue's backpressure (spec.md §5, §6.4).
	QueueLimit             int
	QueueLimitRetryTimeout time.Duration
}

// Emission is one value delivered on a Reader's channel: either an
// Item (or its Raw bytes), or a terminal Err.
type Emission struct {
	Item item.Item
	Raw  []byte
	Err  error
}

// Reader pulls items from one tree's insertion order, applies the
// filter/hook/surrogate-ancestor projection, and delivers the result on
// a channel, backed by a bounded queue for backpressure.
type Reader struct {
	cfg   Config
	queue *workerpool.BoundedQueue
	out   chan Emission
	heads map[string][]item.Version

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type streamDone struct{}

// queuedItem is what produce submits for every tree item, pre- or
// post-offset. Suppressed items still flow through project's
// filter/hook/heads bookkeeping (spec.md §4.F steps 2-4) so that a
// later item's surrogate-ancestor lookup can see past them; only the
// final emission (step 5) is skipped for them.
type queuedItem struct {
	it         item.Item
	suppressed bool
}

// New opens a Reader and starts its producer/consumer goroutines.
func New(cfg Config) (*Reader, error) {
	if cfg.Tree == nil {
		return nil, fmt.Errorf("tangle: reader.New requires a tree")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reader{
		cfg: cfg,
		queue: workerpool.NewBoundedQueue(workerpool.BoundedQueueConfig{
			Limit:        cfg.QueueLimit,
			RetryTimeout: cfg.QueueLimitRetryTimeout,
		}),
		out:    make(chan Emission, 64),
		heads:  make(map[string][]item.Version),
		cancel: cancel,
	}

	r.wg.Add(2)
	go r.produce(ctx)
	go r.consume(ctx)
	return r, nil
}

// Emissions returns the channel of projected items, closed when the
// stream ends (or errors) and, for a non-following Reader, the
// snapshot is exhausted.
func (r *Reader) Emissions() <-chan Emission { return r.out }

// Close cancels the Reader's goroutines and waits for them to exit.
// Items still queued when Close is called are discarded, not emitted.
// Calling Close more than once is safe.
func (r *Reader) Close() {
	r.cancel()
	r.wg.Wait()
}

// produce walks the tree's insertion order, suppressing emission until
// Offset is seen, then submits each item to the bounded queue; in
// follow mode it keeps polling for newly inserted items after the
// initial snapshot is exhausted.
func (r *Reader) produce(ctx context.Context) {
	defer r.wg.Done()

	seenOffset := len(r.cfg.Offset) == 0
	var lastVersion item.Version

	err := r.cfg.Tree.IterateInsertionOrder(tree.IterOpts{}, func(it item.Item) error {
		lastVersion = it.H.V
		if !seenOffset && it.H.V.Equal(r.cfg.Offset) {
			seenOffset = true
		}
		suppressed := !seenOffset
		return r.queue.Submit(ctx, queuedItem{it: it, suppressed: suppressed})
	})
	if err != nil {
		_ = r.queue.Submit(ctx, err)
		return
	}
	if !seenOffset {
		_ = r.queue.Submit(ctx, ErrOffsetNotFound)
		return
	}

	if !r.cfg.Follow {
		_ = r.queue.Submit(ctx, streamDone{})
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.PollInterval):
		}

		first := lastVersion
		var opts tree.IterOpts
		if len(first) > 0 {
			opts = tree.IterOpts{First: &first, ExcludeFirst: true}
		}
		err := r.cfg.Tree.IterateInsertionOrder(opts, func(it item.Item) error {
			lastVersion = it.H.V
			return r.queue.Submit(ctx, queuedItem{it: it})
		})
		if err != nil {
			_ = r.queue.Submit(ctx, err)
			return
		}
	}
}

// consume drains the bounded queue, projects each raw item, and
// forwards survivors to the output channel.
func (r *Reader) consume(ctx context.Context) {
	defer r.wg.Done()
	defer close(r.out)

	for {
		v, err := r.queue.Next(ctx)
		if err != nil {
			return
		}
		switch val := v.(type) {
		case streamDone:
			return
		case error:
			r.out <- Emission{Err: val}
			return
		case queuedItem:
			em, ok, err := r.project(ctx, val.it, val.suppressed)
			if err != nil {
				r.out <- Emission{Err: err}
				return
			}
			if ok {
				select {
				case r.out <- em:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
