// Package mergetree implements the façade of spec.md §4.G: one local
// tree, one stage tree, and a declared set of remote-perspective trees,
// exposing remoteWriteStream/localWriteStream on top of pkg/writer and
// a staged, confirmable mergeWithLocal flow for pulling a source tree's
// new items into local through an application-reviewed merge handler.
package mergetree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tangledb/tangle/pkg/collaborator"
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/oplog"
	"github.com/tangledb/tangle/pkg/tree"
	"github.com/tangledb/tangle/pkg/writer"
)

// Config configures a MergeTree.
type Config struct {
	Local   *tree.Tree
	Stage   *tree.Tree
	Remotes map[item.Perspective]*tree.Tree
	Store   collaborator.PlainStore
	VSize   int
	Log     *logrus.Logger
	// ProceedOnError, QueueLimit, QueueLimitRetryTimeout configure the
	// underlying writer.Pipeline (spec.md §6.4).
	ProceedOnError         bool
	QueueLimit             int
	QueueLimitRetryTimeout time.Duration
}

// MergeTree is the façade spec.md §4.G describes.
type MergeTree struct {
	local   *tree.Tree
	stage   *tree.Tree
	remotes map[item.Perspective]*tree.Tree
	vSize   int
	log     *logrus.Logger

	pipeline *writer.Pipeline

	mu     sync.Mutex
	staged map[string][]stagedEntry
}

// New opens a MergeTree, starting its internal writer.Pipeline.
func New(cfg Config) (*MergeTree, error) {
	if cfg.Local == nil || cfg.Stage == nil {
		return nil, fmt.Errorf("tangle: mergetree.New requires local and stage trees")
	}
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}
	if cfg.VSize <= 0 {
		cfg.VSize = item.DefaultVersionSize
	}

	p, err := writer.New(writer.Config{
		Local:                  cfg.Local,
		Remotes:                cfg.Remotes,
		Store:                  cfg.Store,
		VSize:                  cfg.VSize,
		ProceedOnError:         cfg.ProceedOnError,
		Log:                    cfg.Log,
		QueueLimit:             cfg.QueueLimit,
		QueueLimitRetryTimeout: cfg.QueueLimitRetryTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &MergeTree{
		local:    cfg.Local,
		stage:    cfg.Stage,
		remotes:  cfg.Remotes,
		vSize:    cfg.VSize,
		log:      cfg.Log,
		pipeline: p,
		staged:   make(map[string][]stagedEntry),
	}, nil
}

// Close stops the underlying writer pipeline.
func (mt *MergeTree) Close() {
	mt.pipeline.Close()
}

// ApplyOplog delegates to the underlying writer.Pipeline's oplog
// translation (spec.md §6.3); it is exposed here so the root façade
// only needs to hold a MergeTree, not a separate writer.Pipeline.
func (mt *MergeTree) ApplyOplog(ctx context.Context, e oplog.Entry) error {
	return mt.pipeline.ApplyOplog(ctx, e)
}

// RemoteWriteStream ingests items for one declared remote perspective,
// rejecting local, stage, or undeclared perspectives (spec.md §4.G).
func (mt *MergeTree) RemoteWriteStream(ctx context.Context, pe item.Perspective, items []item.Item) ([]item.Item, error) {
	return mt.pipeline.WriteRemote(ctx, pe, items)
}

// LocalWriteStream ingests items from the owning application. A fresh
// item must not set h.pa; the engine assigns it the current local head
// as its sole parent (or none, for a new id). An item whose h.v matches
// a currently staged merge for its id is instead treated as a
// confirmation: it promotes that merge, and every staged merge before
// it, from stage into local (spec.md §4.G).
func (mt *MergeTree) LocalWriteStream(ctx context.Context, items []item.Item) ([]item.Item, error) {
	var out []item.Item
	for _, it := range items {
		if len(it.H.V) > 0 {
			confirmed, handled, err := mt.tryConfirm(ctx, it.H.ID, it.H.V)
			if err != nil {
				return out, err
			}
			if handled {
				out = append(out, confirmed...)
				continue
			}
			return out, ErrOutOfOrderConfirmation
		}

		if len(it.H.PA) > 0 {
			return out, ErrLocalParentsNotAllowed
		}

		fresh := it
		fresh.H.PE = item.DefaultLocal
		if head, err := mt.local.SingleHead(fresh.H.ID); err == nil {
			fresh.H.PA = []item.Version{head.H.V}
		} else if err != tree.ErrNotFound {
			return out, err
		}

		if len(fresh.H.V) == 0 {
			v, err := item.ContentVersion(fresh, mt.vSize)
			if err != nil {
				return out, err
			}
			fresh.H.V = v
		}

		written, err := mt.pipeline.WriteLocal(ctx, []item.Item{fresh})
		if err != nil {
			return out, err
		}
		out = append(out, written...)
	}
	return out, nil
}
