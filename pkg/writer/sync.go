package writer

import (
	"context"

	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/tree"
)

// syncToStore implements spec.md §4.E step 11: every clean local head of
// id is pushed to the companion plain store, as an upsert of its body or,
// for a tombstone head, a delete. Conflicting heads are left unsynced
// until the application resolves them.
func (p *Pipeline) syncToStore(ctx context.Context, id []byte) error {
	var heads []item.Item
	err := p.local.GetHeads(tree.GetHeadsOpts{ID: id, SkipConflicts: true}, func(it item.Item) error {
		heads = append(heads, it)
		return nil
	})
	if err != nil {
		return err
	}
	for _, h := range heads {
		if h.H.D {
			if err := p.store.Delete(ctx, id); err != nil {
				return err
			}
			continue
		}
		if err := p.store.Upsert(ctx, id, h.B); err != nil {
			return err
		}
	}
	return nil
}
