package mergetree

import (
	"context"
	"errors"

	"github.com/tangledb/tangle/pkg/collaborator"
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/lca"
	"github.com/tangledb/tangle/pkg/merge"
	"github.com/tangledb/tangle/pkg/tree"
)

// stagedEntry is one pending merge awaiting confirmation: the merge
// item itself, with its real h.pa pointing at the local head it
// supersedes and the source item it reconciles, the source perspective
// it was drawn from, and the source-tree items that merge subsumes, to
// be mirrored into local alongside it once confirmed. Only a
// parent-stripped marker of merged is persisted to the stage tree while
// pending, since its real parents live in other trees until promotion.
type stagedEntry struct {
	merged            item.Item
	marker            item.Item
	previousLocalHead item.Item
	sourcePE          item.Perspective
	sourcePrefix      []item.Item
}

// MergeWithLocal implements spec.md §4.G's mergeWithLocal: it drains
// every item of perspective pe inserted since the last drain, and for
// each id with a new head, stages a merge against the current local
// head (or a plain clone, if local has no head yet for that id) and
// calls handler. A nil handler auto-confirms every staged merge
// immediately.
func (mt *MergeTree) MergeWithLocal(ctx context.Context, pe item.Perspective, handler collaborator.MergeHandler) error {
	source, ok := mt.remotes[pe]
	if !ok {
		return ErrUnknownPerspective
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()

	watermark, hasWatermark, err := mt.local.LastByPerspective(pe)
	if err != nil {
		return err
	}

	var opts tree.IterOpts
	if hasWatermark {
		opts = tree.IterOpts{First: &watermark, ExcludeFirst: true}
	}

	groups := make(map[string][]item.Item)
	var order [][]byte
	err = source.IterateInsertionOrder(opts, func(it item.Item) error {
		key := string(it.H.ID)
		if _, seen := groups[key]; !seen {
			order = append(order, it.H.ID)
		}
		groups[key] = append(groups[key], it)
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range order {
		if err := mt.stageOne(ctx, pe, id, groups[string(id)], handler); err != nil {
			return err
		}
	}
	return nil
}

func (mt *MergeTree) stageOne(ctx context.Context, pe item.Perspective, id []byte, newItems []item.Item, handler collaborator.MergeHandler) error {
	head, err := mt.local.SingleHead(id)
	hasHead := true
	switch err {
	case nil:
	case tree.ErrNotFound, tree.ErrAmbiguousHeads:
		hasHead = false
	default:
		return err
	}

	latest := newItems[len(newItems)-1]
	clone := item.Clone(latest)
	clone.H.PE = item.DefaultLocal
	clone.SetOriginPerspective(pe)

	if !hasHead {
		return mt.stageMerge(ctx, id, clone, item.Item{}, pe, newItems, handler)
	}
	if clone.H.V.Equal(head.H.V) {
		return nil // already the local head.
	}

	fastForward, err := isAncestor(mt.local, head.H.V, clone.H.PA)
	if err != nil {
		return err
	}
	if fastForward {
		return mt.stageMerge(ctx, id, clone, head, pe, newItems, handler)
	}

	// clone itself carries a remote-minted h.v that has never been
	// written into mt.local, so lca.Search must be seeded from its
	// parents rather than from clone directly, the same way
	// pkg/writer/ensure.go's ensureLocalSibling seeds it for a
	// not-yet-persisted candidate.
	virtual := item.Item{H: item.Header{PA: clone.H.PA, PE: item.DefaultLocal}}
	lcas, err := lca.Search(mt.local, id, virtual, head)
	if err != nil {
		return err
	}
	if len(lcas) == 0 {
		return lca.ErrNoLCA
	}

	lcaItems := make([]item.Item, 0, len(lcas))
	for _, v := range lcas {
		it, err := mt.local.GetByVersion(v)
		if err != nil {
			return err
		}
		lcaItems = append(lcaItems, it)
	}
	virtualLCA := lcaItems[0]
	if len(lcaItems) > 1 {
		virtualLCA, err = merge.ReduceLCAs(lcaItems)
		if err != nil {
			return err
		}
	}

	merged, err := merge.ThreeWay(clone, head, virtualLCA, virtualLCA)
	if err != nil {
		var ce *merge.ConflictError
		if errors.As(err, &ce) {
			mt.log.WithField("id", string(id)).Warn("mergetree: merge conflict, leaving heads unreconciled")
			return nil
		}
		return err
	}
	version, err := item.ContentVersion(merged, mt.vSize)
	if err != nil {
		return err
	}
	merged.H.V = version

	return mt.stageMerge(ctx, id, merged, head, pe, newItems, handler)
}

// stageMerge persists a parent-stripped marker of merged into the stage
// tree, records the full entry for later promotion, and notifies
// handler (or auto-confirms if handler is nil).
func (mt *MergeTree) stageMerge(ctx context.Context, id []byte, merged, previousHead item.Item, pe item.Perspective, sourcePrefix []item.Item, handler collaborator.MergeHandler) error {
	marker := merged
	marker.H.PA = nil
	stored, err := mt.stage.Write(marker)
	if err != nil {
		return err
	}

	entry := stagedEntry{merged: merged, marker: stored, previousLocalHead: previousHead, sourcePE: pe, sourcePrefix: sourcePrefix}
	key := string(id)
	mt.staged[key] = append(mt.staged[key], entry)

	if handler == nil {
		return mt.promoteStagedLocked(ctx, id, merged.H.V)
	}
	return handler.HandleMerge(ctx, merged, previousHead)
}

// tryConfirm checks whether v is among id's currently staged merges; if
// so it promotes every staged entry up to and including v.
func (mt *MergeTree) tryConfirm(ctx context.Context, id []byte, v item.Version) ([]item.Item, bool, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	entries := mt.staged[string(id)]
	idx := -1
	for i, e := range entries {
		if e.merged.H.V.Equal(v) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, false, nil
	}

	out, err := mt.promoteLocked(id, idx)
	return out, true, err
}

func (mt *MergeTree) promoteStagedLocked(ctx context.Context, id []byte, v item.Version) error {
	entries := mt.staged[string(id)]
	idx := -1
	for i, e := range entries {
		if e.merged.H.V.Equal(v) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrOutOfOrderConfirmation
	}
	_, err := mt.promoteLocked(id, idx)
	return err
}

// promoteLocked promotes staged entries [0, idx] for id: each source
// prefix item and the merge item itself are written into local, then
// every promoted entry is removed from stage and from the pending map.
// Caller must hold mt.mu.
func (mt *MergeTree) promoteLocked(id []byte, idx int) ([]item.Item, error) {
	entries := mt.staged[string(id)]
	if idx < 0 || idx >= len(entries) {
		return nil, ErrOutOfOrderConfirmation
	}

	var out []item.Item
	for i := 0; i <= idx; i++ {
		e := entries[i]
		for _, src := range e.sourcePrefix {
			sib := item.Clone(src)
			sib.H.PE = item.DefaultLocal
			sib.SetOriginPerspective(e.sourcePE)
			written, err := mt.local.Write(sib)
			if err != nil {
				return out, err
			}
			out = append(out, written)
		}
		written, err := mt.local.Write(e.merged)
		if err != nil {
			return out, err
		}
		out = append(out, written)

		if err := mt.stage.Del(e.marker); err != nil {
			return out, err
		}
	}

	mt.staged[string(id)] = entries[idx+1:]
	return out, nil
}

// isAncestor reports whether target is reachable by walking backward
// from fromParents through tr, mirroring pkg/writer/ensure.go's
// fast-forward check. The candidate whose ancestry is being walked has
// never been written into tr (its h.v belongs to a remote tree), so the
// walk starts from its parents directly instead of resolving its own
// h.v.
func isAncestor(tr *tree.Tree, target item.Version, fromParents []item.Version) (bool, error) {
	visited := make(map[string]bool)
	queue := append([]item.Version{}, fromParents...)
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		key := string(v)
		if visited[key] {
			continue
		}
		visited[key] = true
		if v.Equal(target) {
			return true, nil
		}
		it, err := tr.GetByVersion(v)
		if err != nil {
			if err == tree.ErrNotFound {
				continue
			}
			return false, err
		}
		queue = append(queue, it.H.PA...)
	}
	return false, nil
}
