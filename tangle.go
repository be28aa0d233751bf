/*
A versioned-DAG document replication engine: per-perspective append-only
trees, three-way merge, lowest-common-ancestor search, and a serialized
writer pipeline, fronted by the MergeTree façade.
*/
package tangle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tangledb/tangle/internal/kvstore"
	"github.com/tangledb/tangle/pkg/collaborator"
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/mergetree"
	"github.com/tangledb/tangle/pkg/oplog"
	"github.com/tangledb/tangle/pkg/reader"
	"github.com/tangledb/tangle/pkg/tree"
)

var (
	ErrNotStarted = errors.New("tangle: engine not started")
	ErrClosed     = errors.New("tangle: engine closed")
)

// Tangle is the top-level engine handle. It owns the key-value store,
// one tree per declared perspective plus local and stage, and the
// MergeTree façade built on top of them.
type Tangle struct {
	log    *slog.Logger
	config Config

	mu          sync.RWMutex
	store       *kvstore.Store
	localTree   *tree.Tree
	stageTree   *tree.Tree
	remoteTrees map[item.Perspective]*tree.Tree
	mt          *mergetree.MergeTree

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once

	autoCancel context.CancelFunc
	autoWG     sync.WaitGroup
}

// New constructs an engine handle. New does not perform heavy I/O or
// start background goroutines. Call Start to initialize subsystems.
func New(conf Config) (*Tangle, error) {
	if len(conf.Paths) == 0 {
		return nil, fmt.Errorf("tangle: at least one path must be provided in config")
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	if conf.VSize <= 0 {
		conf.VSize = item.DefaultVersionSize
	}
	return &Tangle{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// Start opens the key-value store, the declared trees, and the
// MergeTree façade, and marks the engine as ready. Start is safe to
// call multiple times; only the first call has effect.
func (tg *Tangle) Start(ctx context.Context) error {
	var startErr error
	tg.startOnce.Do(func() {
		if err := ctx.Err(); err != nil {
			startErr = err
			return
		}

		dataRoot := tg.config.Paths[0]
		kvPath := filepath.Join(dataRoot, "kv")
		if err := os.MkdirAll(kvPath, 0o700); err != nil {
			startErr = fmt.Errorf("tangle: mkdir %s: %w", kvPath, err)
			return
		}

		store, err := kvstore.Open(kvstore.Config{
			Path:             kvPath,
			MinimumFreeSpace: int(tg.config.MinimumFreeGB),
		})
		if err != nil {
			startErr = fmt.Errorf("tangle: open store: %w", err)
			return
		}

		localTree, err := tree.Open(store, string(item.DefaultLocal), nil)
		if err != nil {
			startErr = fmt.Errorf("tangle: open local tree: %w", err)
			return
		}
		stageTree, err := tree.Open(store, string(item.DefaultStage), nil)
		if err != nil {
			startErr = fmt.Errorf("tangle: open stage tree: %w", err)
			return
		}

		remotes := make(map[item.Perspective]*tree.Tree, len(tg.config.Perspectives))
		for _, pe := range tg.config.Perspectives {
			rt, err := tree.Open(store, string(pe), nil)
			if err != nil {
				startErr = fmt.Errorf("tangle: open perspective %q tree: %w", string(pe), err)
				return
			}
			remotes[pe] = rt
		}

		mt, err := mergetree.New(mergetree.Config{
			Local:                  localTree,
			Stage:                  stageTree,
			Remotes:                remotes,
			Store:                  tg.config.Store,
			VSize:                  tg.config.VSize,
			ProceedOnError:         tg.config.ProceedOnError,
			QueueLimit:             tg.config.QueueLimit,
			QueueLimitRetryTimeout: tg.config.QueueLimitRetryTimeout,
		})
		if err != nil {
			startErr = fmt.Errorf("tangle: start mergetree: %w", err)
			return
		}

		tg.mu.Lock()
		tg.store = store
		tg.localTree = localTree
		tg.stageTree = stageTree
		tg.remoteTrees = remotes
		tg.mt = mt
		tg.mu.Unlock()

		if tg.config.AutoProcessInterval > 0 {
			actx, cancel := context.WithCancel(context.Background())
			tg.autoCancel = cancel
			tg.autoWG.Add(1)
			go tg.autoProcess(actx)
		}

		tg.started.Store(true)
		tg.log.Info("tangle started", "path", dataRoot, "perspectives", len(remotes))
	})
	return startErr
}

// autoProcess periodically drains every declared perspective into
// local via MergeWithLocal, for applications that configure
// AutoProcessInterval instead of calling it themselves.
func (tg *Tangle) autoProcess(ctx context.Context) {
	defer tg.autoWG.Done()
	ticker := time.NewTicker(tg.config.AutoProcessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mt, err := tg.handle()
			if err != nil {
				return
			}
			for pe := range tg.remoteTrees {
				if err := mt.MergeWithLocal(ctx, pe, nil); err != nil {
					tg.log.Error("tangle: auto merge failed", "perspective", string(pe), "error", err)
				}
			}
		}
	}
}

// Run starts the engine, then blocks until ctx is canceled, and
// finally performs a bounded graceful shutdown.
func (tg *Tangle) Run(ctx context.Context) error {
	if err := tg.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return tg.Close(shutdownCtx)
}

// Close terminates background components and releases resources. Close
// is idempotent and safe to call multiple times.
func (tg *Tangle) Close(ctx context.Context) error {
	var closeErr error
	tg.closeOnce.Do(func() {
		if tg.autoCancel != nil {
			tg.autoCancel()
			tg.autoWG.Wait()
		}

		tg.mu.Lock()
		mt := tg.mt
		store := tg.store
		tg.mt = nil
		tg.store = nil
		tg.mu.Unlock()

		if mt != nil {
			mt.Close()
		}
		if store != nil {
			if err := store.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("tangle: close store: %w", err))
			}
		}
		tg.log.Info("tangle closed")
	})
	return closeErr
}

// CloseWithoutContext closes the engine using a background context.
// Prefer Close(ctx) to enforce an application-specific shutdown deadline.
func (tg *Tangle) CloseWithoutContext() error {
	return tg.Close(context.Background())
}

func (tg *Tangle) handle() (*mergetree.MergeTree, error) {
	if !tg.started.Load() {
		return nil, ErrNotStarted
	}
	tg.mu.RLock()
	mt := tg.mt
	tg.mu.RUnlock()
	if mt == nil {
		return nil, ErrClosed
	}
	return mt, nil
}

// WriteRemote ingests a batch of items from one declared remote
// perspective (spec.md §4.E, §4.G).
func (tg *Tangle) WriteRemote(ctx context.Context, pe item.Perspective, items []item.Item) ([]item.Item, error) {
	mt, err := tg.handle()
	if err != nil {
		return nil, err
	}
	return mt.RemoteWriteStream(ctx, pe, items)
}

// WriteLocal ingests a batch of application-originated items, or
// confirms a previously staged merge (spec.md §4.G).
func (tg *Tangle) WriteLocal(ctx context.Context, items []item.Item) ([]item.Item, error) {
	mt, err := tg.handle()
	if err != nil {
		return nil, err
	}
	return mt.LocalWriteStream(ctx, items)
}

// MergeWithLocal drains perspective pe's new items into stage and
// offers each resulting merge to handler (nil auto-confirms).
func (tg *Tangle) MergeWithLocal(ctx context.Context, pe item.Perspective, handler collaborator.MergeHandler) error {
	mt, err := tg.handle()
	if err != nil {
		return err
	}
	return mt.MergeWithLocal(ctx, pe, handler)
}

// ApplyOplog translates one change-log entry into a local write
// (spec.md §6.3).
func (tg *Tangle) ApplyOplog(ctx context.Context, e oplog.Entry) error {
	mt, err := tg.handle()
	if err != nil {
		return err
	}
	return mt.ApplyOplog(ctx, e)
}

// NewReader opens a reader over the local tree (spec.md §4.F); cfg.Tree
// is set by the engine and any caller-supplied value is ignored.
func (tg *Tangle) NewReader(cfg reader.Config) (*reader.Reader, error) {
	if !tg.started.Load() {
		return nil, ErrNotStarted
	}
	tg.mu.RLock()
	lt := tg.localTree
	tg.mu.RUnlock()
	if lt == nil {
		return nil, ErrClosed
	}
	cfg.Tree = lt
	return reader.New(cfg)
}
