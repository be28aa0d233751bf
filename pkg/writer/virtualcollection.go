package writer

import (
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/tree"
)

// virtualCollection is the read-only view spec.md §4.E step 4 and §9
// describe: a persisted tree concatenated with an in-flight batch, so
// parent lookups and LCA search resolve intra-batch references without
// writing anything (spec.md §9 "virtual collection").
type virtualCollection struct {
	tr    *tree.Tree
	batch []item.Item
}

// GetByVersion looks up v in the batch first (it has no insertion index
// yet, so it cannot be in tr), falling back to the persisted tree.
func (v *virtualCollection) GetByVersion(ver item.Version) (item.Item, bool, error) {
	for _, it := range v.batch {
		if it.H.V.Equal(ver) {
			return it, true, nil
		}
	}
	it, err := v.tr.GetByVersion(ver)
	if err != nil {
		if err == tree.ErrNotFound {
			return item.Item{}, false, nil
		}
		return item.Item{}, false, err
	}
	return it, true, nil
}

// IterateInsertionOrder satisfies pkg/lca.Source: the persisted tree's
// items come first (they have real insertion order), then the batch's,
// in submission order. LCA search only relies on parents preceding
// children within the stream it walks, a property both sources preserve
// independently.
func (v *virtualCollection) IterateInsertionOrder(opts tree.IterOpts, iter func(item.Item) error) error {
	if err := v.tr.IterateInsertionOrder(opts, iter); err != nil {
		return err
	}
	for _, it := range v.batch {
		if len(opts.ID) > 0 && string(it.H.ID) != string(opts.ID) {
			continue
		}
		if err := iter(it); err != nil {
			return err
		}
	}
	return nil
}

// TailOf returns the current tail (most recently added item, by
// insertion order then batch order) of the sub-DAG for id, or
// tree.ErrNotFound if the id is wholly new.
func (v *virtualCollection) TailOf(id []byte) (item.Item, error) {
	var last item.Item
	found := false
	err := v.IterateInsertionOrder(tree.IterOpts{ID: id}, func(it item.Item) error {
		last = it
		found = true
		return nil
	})
	if err != nil {
		return item.Item{}, err
	}
	if !found {
		return item.Item{}, tree.ErrNotFound
	}
	return last, nil
}
