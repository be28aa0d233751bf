package writer

import (
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/lca"
	"github.com/tangledb/tangle/pkg/tree"
)

// versionLookup is the minimal surface ensureLocalSibling and
// isAncestor need: *virtualCollection during pipeline processing.
type versionLookup interface {
	GetByVersion(v item.Version) (item.Item, bool, error)
}

// ensureLocalSibling implements spec.md §4.E step 6 for one new remote
// item r: it never changes r's version, since invariant 4 requires the
// local-perspective mirror to carry the exact same h.v as the remote
// node it mirrors (only h.pa may differ). The actual version-generating
// merge, when the local DAG has independently diverged, happens in step
// 8 (headMerge), not here.
//
// Returns the clone to add to the batch's pending local items, or
// ok=false if no new local item is needed (already mirrored, or already
// an ancestor of the current local tail).
func ensureLocalSibling(localView *virtualCollection, localTailLookup func(id []byte) (item.Item, error), pe item.Perspective, r item.Item) (item.Item, bool, error) {
	if _, ok, err := localView.GetByVersion(r.H.V); err != nil {
		return item.Item{}, false, err
	} else if ok {
		return item.Item{}, false, nil // (6) already has a local sibling: idempotent.
	}

	localTail, err := localTailLookup(r.H.ID)
	hasLocal := true
	if err != nil {
		if err != tree.ErrNotFound {
			return item.Item{}, false, err
		}
		hasLocal = false
	}

	clone := item.Clone(r)
	clone.H.PE = item.DefaultLocal
	clone.SetOriginPerspective(pe)

	if !hasLocal {
		return clone, true, nil // 6(a)
	}

	isAnc, err := isAncestor(localView, r.H.V, localTail.H.V)
	if err != nil {
		return item.Item{}, false, err
	}
	if isAnc {
		return item.Item{}, false, nil // 6(b)
	}

	// 6(c): the clone forks from local's current tail. Confirm shared
	// history exists (or the tombstone-reconnect rule applies) before
	// accepting the fork; the fork itself is resolved into a single head
	// later, by headMerge.
	virtual := item.Item{H: item.Header{PA: clone.H.PA, PE: item.DefaultLocal}}
	lcas, err := lca.Search(localView, r.H.ID, virtual, localTail)
	if err != nil {
		return item.Item{}, false, err
	}
	if len(lcas) == 0 {
		if localTail.H.D && r.IsRoot() {
			clone.H.PA = []item.Version{localTail.H.V}
			return clone, true, nil
		}
		return item.Item{}, false, lca.ErrNoLCA
	}
	return clone, true, nil
}

// isAncestor reports whether target is reachable by walking from's
// parents backward through vl.
func isAncestor(vl versionLookup, target, from item.Version) (bool, error) {
	if from.IsZero() {
		return false, nil
	}
	visited := make(map[string]bool)
	queue := []item.Version{from}
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
		it, ok, err := vl.GetByVersion(v)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		queue = append(queue, it.H.PA...)
	}
	return false, nil
}

// headsAmong returns the items of a chain that are not referenced as a
// parent by any other item in the slice: the "new local heads" spec.md
// §4.E step 7 reduces to one per id. Tree.Write's own head-index update
// already demotes all-but-the-earliest of these to h.c=true once
// persisted (spec.md §4.B); this just identifies the candidates.
func headsAmong(items []item.Item) []item.Item {
	referenced := make(map[string]bool, len(items))
	for _, it := range items {
		for _, p := range it.H.PA {
			referenced[string(p)] = true
		}
	}
	var heads []item.Item
	for _, it := range items {
		if !referenced[string(it.H.V)] {
			heads = append(heads, it)
		}
	}
	return heads
}
