// Package writer implements the writer pipeline of spec.md §4.E: the
// serialized ingress that accepts foreign (remote-perspective) and local
// (oplog-derived) items, enforces the DAG invariants of spec.md §3,
// generates local-perspective siblings of remote items, resolves head
// merges via pkg/lca and pkg/merge, and syncs the winning local head to
// the companion plain document store.
package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tangledb/tangle/pkg/collaborator"
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/tree"
	"github.com/tangledb/tangle/pkg/workerpool"
)

// Config configures a Pipeline.
type Config struct {
	// Local is the tree new local-perspective items are ensured into and
	// merged against.
	Local *tree.Tree
	// Remotes maps each declared remote perspective to its own tree.
	Remotes map[item.Perspective]*tree.Tree
	// Store is the companion plain document store synced on every new
	// local head (spec.md §4.E step 11). May be nil to skip syncing.
	Store collaborator.PlainStore
	// VSize is the version byte width used for generated merge versions.
	VSize int
	// ProceedOnError, when set, logs and skips a failing id instead of
	// aborting the whole batch (spec.md §7).
	ProceedOnError bool
	// QueueLimit and QueueLimitRetryTimeout configure each ingress
	// queue's bounded capacity and overflow backoff (spec.md §6.4).
	QueueLimit             int
	QueueLimitRetryTimeout time.Duration
	Log                    *logrus.Logger
	// IngestWorkers sizes the pool ingestRemote fans a batch's per-id
	// work out to; zero uses workerpool's own default.
	IngestWorkers int
}

// Pipeline is the writer pipeline: one bounded FIFO ingress queue per
// remote perspective, one for oplog-derived local writes, all drained
// through a single mutex so one batch always completes before the next
// starts (spec.md §5).
type Pipeline struct {
	local   *tree.Tree
	remotes map[item.Perspective]*tree.Tree
	store   collaborator.PlainStore
	vSize   int
	proceed bool
	log     *logrus.Logger

	remoteQueues map[item.Perspective]*workerpool.BoundedQueue
	localQueue   *workerpool.BoundedQueue

	// ingestPool fans a remote batch's disjoint per-id chains out to
	// worker goroutines (spec.md §4.E steps 3-11 never touch two ids'
	// keys at once, so they're safe to run concurrently).
	ingestPool *workerpool.WorkerPool

	mu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pendingBatch struct {
	pe    item.Perspective
	items []item.Item
	resC  chan batchResult
}

type batchResult struct {
	out []item.Item
	err error
}

// New starts a Pipeline's consumer goroutines, one per declared remote
// perspective plus one for the oplog-derived local queue.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Local == nil {
		return nil, fmt.Errorf("tangle: writer.Pipeline requires a local tree")
	}
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}
	if cfg.VSize <= 0 {
		cfg.VSize = item.DefaultVersionSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		local:        cfg.Local,
		remotes:      cfg.Remotes,
		store:        cfg.Store,
		vSize:        cfg.VSize,
		proceed:      cfg.ProceedOnError,
		log:          cfg.Log,
		remoteQueues: make(map[item.Perspective]*workerpool.BoundedQueue, len(cfg.Remotes)),
		localQueue: workerpool.NewBoundedQueue(workerpool.BoundedQueueConfig{
			Limit:        cfg.QueueLimit,
			RetryTimeout: cfg.QueueLimitRetryTimeout,
		}),
		ingestPool: workerpool.NewWorkerPool(workerpool.Config{WorkerCount: cfg.IngestWorkers}),
		cancel:     cancel,
	}

	for pe := range cfg.Remotes {
		q := workerpool.NewBoundedQueue(workerpool.BoundedQueueConfig{
			Limit:        cfg.QueueLimit,
			RetryTimeout: cfg.QueueLimitRetryTimeout,
		})
		p.remoteQueues[pe] = q
		p.wg.Add(1)
		go p.drain(ctx, q, p.ingestRemote)
	}

	p.wg.Add(1)
	go p.drain(ctx, p.localQueue, p.ingestLocal)

	return p, nil
}

// Close stops the Pipeline's consumer goroutines and waits for the
// in-flight batch, if any, to finish.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) drain(ctx context.Context, q *workerpool.BoundedQueue, ingest func(context.Context, item.Perspective, []item.Item) ([]item.Item, error)) {
	defer p.wg.Done()
	for {
		v, err := q.Next(ctx)
		if err != nil {
			return
		}
		batch := v.(pendingBatch)

		p.mu.Lock()
		out, err := ingest(ctx, batch.pe, batch.items)
		p.mu.Unlock()

		batch.resC <- batchResult{out: out, err: err}
	}
}

func (p *Pipeline) submit(ctx context.Context, q *workerpool.BoundedQueue, pe item.Perspective, items []item.Item) ([]item.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	batch := pendingBatch{pe: pe, items: items, resC: make(chan batchResult, 1)}
	if err := q.Submit(ctx, batch); err != nil {
		return nil, err
	}
	select {
	case res := <-batch.resC:
		return res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteRemote ingests a batch of items from one remote perspective
// (spec.md §4.E). Every item must already carry h.pe == pe, and pe must
// be a perspective the Pipeline was configured with (not local or
// stage).
func (p *Pipeline) WriteRemote(ctx context.Context, pe item.Perspective, items []item.Item) ([]item.Item, error) {
	if pe == item.DefaultLocal || pe == item.DefaultStage {
		return nil, ErrPerspectiveMismatch
	}
	q, ok := p.remoteQueues[pe]
	if !ok {
		return nil, ErrUnknownPerspective
	}
	batchID := uuid.New().String()
	p.log.WithFields(logrus.Fields{"batch": batchID, "perspective": string(pe), "n": len(items)}).Debug("writer: remote batch submitted")
	return p.submit(ctx, q, pe, items)
}

// WriteLocal ingests a batch of already-local-perspective items, e.g.
// items synthesized from the oplog by ApplyOplog, or submitted directly
// by the owning application (spec.md §4.E).
func (p *Pipeline) WriteLocal(ctx context.Context, items []item.Item) ([]item.Item, error) {
	for _, it := range items {
		if it.H.PE != item.DefaultLocal {
			return nil, ErrPerspectiveMismatch
		}
	}
	batchID := uuid.New().String()
	p.log.WithFields(logrus.Fields{"batch": batchID, "n": len(items)}).Debug("writer: local batch submitted")
	return p.submit(ctx, p.localQueue, item.DefaultLocal, items)
}
