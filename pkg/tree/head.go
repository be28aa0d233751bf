package tree

import "github.com/tangledb/tangle/pkg/item"

// Tail returns the most recently inserted item for id, regardless of
// head/conflict/deletion status, or ErrNotFound if id is wholly unseen.
// Used by pkg/writer's ancestry check (spec.md §4.E step 3).
func (t *Tree) Tail(id []byte) (item.Item, error) {
	var found item.Item
	ok := false
	err := t.iterateInsertionOrderReverse(IterOpts{ID: id}, func(it item.Item) error {
		found = it
		ok = true
		return errStopIteration
	})
	if err != nil && err != errStopIteration {
		return item.Item{}, err
	}
	if !ok {
		return item.Item{}, ErrNotFound
	}
	return found, nil
}

// SingleHead returns the one non-deleted, non-conflicting head of id, or
// ErrNotFound if none exists, or ErrAmbiguousHeads if more than one
// exists (spec.md §3 invariant 3 says this should never be observed at a
// quiescent moment, but callers that require exactly one head, such as
// pkg/writer's head-merge step, check for it explicitly).
func (t *Tree) SingleHead(id []byte) (item.Item, error) {
	var found item.Item
	n := 0
	err := t.GetHeads(GetHeadsOpts{ID: id, SkipDeletes: true, SkipConflicts: true}, func(it item.Item) error {
		found = it
		n++
		return nil
	})
	if err != nil {
		return item.Item{}, err
	}
	switch n {
	case 0:
		return item.Item{}, ErrNotFound
	case 1:
		return found, nil
	default:
		return item.Item{}, ErrAmbiguousHeads
	}
}
