package writer

import (
	"context"

	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/tree"
)

// ingestRemote implements spec.md §4.E for one remote-perspective batch:
// steps 1-2 at the batch level, steps 3-11 per id.
func (p *Pipeline) ingestRemote(ctx context.Context, pe item.Perspective, items []item.Item) ([]item.Item, error) {
	remoteTree, ok := p.remotes[pe]
	if !ok {
		return nil, ErrUnknownPerspective
	}

	for i := range items {
		if items[i].H.PE != pe {
			return nil, ErrPerspectiveMismatch
		}
		items[i].NormalizeMeta()
	}

	ids, groups := groupByID(items)
	results := p.fanOutByID(ids, func(id []byte) ([]item.Item, error) {
		return p.ingestRemoteID(ctx, remoteTree, pe, id, groups[string(id)])
	})

	var out []item.Item
	for _, id := range ids {
		res := results[string(id)]
		if res.err != nil {
			if p.proceed {
				p.log.WithError(res.err).WithField("id", string(id)).Warn("writer: skipping id after error")
				continue
			}
			return out, res.err
		}
		out = append(out, res.out...)
	}
	return out, nil
}

// idResult is one id's outcome from fanOutByID.
type idResult struct {
	id  string
	out []item.Item
	err error
}

// fanOutByID runs work for every id concurrently on p.ingestPool and
// returns each id's outcome keyed by id, so the caller can fold results
// back in the batch's original order regardless of completion order.
func (p *Pipeline) fanOutByID(ids [][]byte, work func(id []byte) ([]item.Item, error)) map[string]idResult {
	room := p.ingestPool.CreateRoom(len(ids))
	for _, id := range ids {
		id := id
		room.NewTaskWaitForFreeSlot(func() interface{} {
			out, err := work(id)
			return idResult{id: string(id), out: out, err: err}
		})
	}

	results := make(map[string]idResult, len(ids))
	for _, raw := range room.Collect() {
		res := raw.(idResult)
		results[res.id] = res
	}
	return results
}

func (p *Pipeline) ingestRemoteID(ctx context.Context, remoteTree *tree.Tree, pe item.Perspective, id []byte, items []item.Item) ([]item.Item, error) {
	checked, err := checkAncestry(remoteTree, id, items)
	if err != nil {
		return nil, err
	}

	vc := &virtualCollection{tr: remoteTree, batch: checked}
	if err := checkParentsExist(vc, checked); err != nil {
		return nil, err
	}

	written := make([]item.Item, 0, len(checked))
	for _, it := range checked {
		out, err := remoteTree.Write(it)
		if err != nil {
			return written, err
		}
		written = append(written, out)
	}

	localView := &virtualCollection{tr: p.local}
	var pendingLocal []item.Item
	for _, r := range written {
		localView.batch = pendingLocal
		clone, ok, err := ensureLocalSibling(localView, p.local.Tail, pe, r)
		if err != nil {
			return written, err
		}
		if ok {
			pendingLocal = append(pendingLocal, clone)
		}
	}
	if len(pendingLocal) == 0 {
		return written, nil
	}
	localView.batch = pendingLocal

	oldHead, err := p.local.SingleHead(id)
	hadOldHead := true
	switch err {
	case nil:
	case tree.ErrNotFound, tree.ErrAmbiguousHeads:
		hadOldHead = false
	default:
		return written, err
	}

	var merges []item.Item
	if hadOldHead {
		for _, candidate := range headsAmong(pendingLocal) {
			merged, ok, err := headMerge(localView, id, candidate, oldHead, p.vSize)
			if err != nil {
				return written, err
			}
			if ok {
				merges = append(merges, merged)
			}
		}
	}

	newLocal := make([]item.Item, 0, len(pendingLocal)+len(merges))
	for _, it := range append(pendingLocal, merges...) {
		out, err := p.local.Write(it)
		if err != nil {
			return written, err
		}
		newLocal = append(newLocal, out)
	}

	if p.store != nil {
		if err := p.syncToStore(ctx, id); err != nil {
			return written, err
		}
	}

	return append(written, newLocal...), nil
}

// ingestLocal implements spec.md §4.E steps 1-2, 3, 5, 9-11 for a batch
// already on the local perspective (from ApplyOplog or a direct
// application write): ancestry and parent checks against the local
// tree, then persist and sync.
func (p *Pipeline) ingestLocal(ctx context.Context, _ item.Perspective, items []item.Item) ([]item.Item, error) {
	for i := range items {
		if items[i].H.PE != item.DefaultLocal {
			return nil, ErrPerspectiveMismatch
		}
		items[i].NormalizeMeta()
	}

	ids, groups := groupByID(items)
	var out []item.Item
	for _, id := range ids {
		group := groups[string(id)]
		checked, err := checkAncestry(p.local, id, group)
		if err != nil {
			if p.proceed {
				p.log.WithError(err).WithField("id", string(id)).Warn("writer: skipping id after error")
				continue
			}
			return out, err
		}
		vc := &virtualCollection{tr: p.local, batch: checked}
		if err := checkParentsExist(vc, checked); err != nil {
			if p.proceed {
				p.log.WithError(err).WithField("id", string(id)).Warn("writer: skipping id after error")
				continue
			}
			return out, err
		}
		for _, it := range checked {
			written, err := p.local.Write(it)
			if err != nil {
				return out, err
			}
			out = append(out, written)
		}
		if p.store != nil {
			if err := p.syncToStore(ctx, id); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}
