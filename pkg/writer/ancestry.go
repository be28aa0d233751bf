package writer

import (
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/tree"
)

// groupByID partitions a batch into per-id slices, preserving submission
// order within each group.
func groupByID(items []item.Item) (ids [][]byte, groups map[string][]item.Item) {
	groups = make(map[string][]item.Item)
	seen := make(map[string]bool)
	for _, it := range items {
		key := string(it.H.ID)
		if !seen[key] {
			seen[key] = true
			ids = append(ids, it.H.ID)
		}
		groups[key] = append(groups[key], it)
	}
	return ids, groups
}

// checkAncestry implements spec.md §4.E step 3 for one id's submitted
// items: a new root is only permitted if the id is unseen in tr or the
// current tail is a deletion tombstone, in which case the root's h.pa[0]
// is rewritten to the tombstone's version (a reconnection). Any other
// root is rejected with ErrRootPreceded.
func checkAncestry(tr *tree.Tree, id []byte, items []item.Item) ([]item.Item, error) {
	tail, err := tr.Tail(id)
	seen := true
	if err != nil {
		if err != tree.ErrNotFound {
			return nil, err
		}
		seen = false
	}

	out := make([]item.Item, len(items))
	copy(out, items)
	for i := range out {
		if out[i].IsRoot() && seen {
			if !tail.H.D {
				return nil, ErrRootPreceded
			}
			out[i].H.PA = []item.Version{tail.H.V}
		}
		seen = true
		tail = out[i]
	}
	return out, nil
}

// checkParentsExist implements spec.md §4.E step 5: every parent
// referenced by a new item must resolve in the virtual collection
// (persisted tree ∪ in-flight batch for this id).
func checkParentsExist(vc *virtualCollection, items []item.Item) error {
	for _, it := range items {
		for _, p := range it.H.PA {
			_, ok, err := vc.GetByVersion(p)
			if err != nil {
				return err
			}
			if !ok {
				return tree.ErrParentNotFound
			}
		}
	}
	return nil
}
