package writer

import (
	"errors"

	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/lca"
	"github.com/tangledb/tangle/pkg/merge"
	"github.com/tangledb/tangle/pkg/tree"
)

// headMerge implements spec.md §4.E step 8 for one id's new local head
// candidate against the tree's pre-batch persisted head. Tree.Write's
// own head-index update already handles the fast-forward case (when
// candidate's ancestry already passes through oldHead, writing
// candidate simply retires oldHead from the head index) and the
// one-head-enforcement case (when merge3 conflicts, persisting both
// heads and letting Tree.Write flag the later one h.c=true); this
// function's only job is detecting a genuine fork and, when one exists,
// synthesizing the merge node that reunites it.
//
// Returns the merge item to also persist, or ok=false if no extra merge
// node is needed (candidate fast-forwards, the id is new, or the old
// head is a deletion).
func headMerge(localView *virtualCollection, id []byte, candidate, oldHead item.Item, vSize int) (item.Item, bool, error) {
	if oldHead.H.V.IsZero() || candidate.H.V.Equal(oldHead.H.V) || oldHead.H.D {
		return item.Item{}, false, nil
	}

	fastForward, err := isAncestor(localView, oldHead.H.V, candidate.H.V)
	if err != nil {
		return item.Item{}, false, err
	}
	if fastForward {
		return item.Item{}, false, nil
	}

	lcas, err := lca.Search(localView, id, candidate, oldHead)
	if err != nil {
		return item.Item{}, false, err
	}
	if len(lcas) == 0 {
		return item.Item{}, false, lca.ErrNoLCA
	}

	lcaItems := make([]item.Item, 0, len(lcas))
	for _, v := range lcas {
		it, ok, err := localView.GetByVersion(v)
		if err != nil {
			return item.Item{}, false, err
		}
		if !ok {
			return item.Item{}, false, tree.ErrNotFound
		}
		lcaItems = append(lcaItems, it)
	}
	virtualLCA := lcaItems[0]
	if len(lcaItems) > 1 {
		virtualLCA, err = merge.ReduceLCAs(lcaItems)
		if err != nil {
			return item.Item{}, false, err
		}
	}

	merged, err := merge.ThreeWay(candidate, oldHead, virtualLCA, virtualLCA)
	if err != nil {
		var ce *merge.ConflictError
		if errors.As(err, &ce) {
			// spec.md §7: not fatal. Leave both heads in place; Tree.Write's
			// one-head enforcement marks the later one h.c=true.
			return item.Item{}, false, nil
		}
		return item.Item{}, false, err
	}

	version, err := item.ContentVersion(merged, vSize)
	if err != nil {
		return item.Item{}, false, err
	}
	merged.H.V = version
	return merged, true, nil
}
