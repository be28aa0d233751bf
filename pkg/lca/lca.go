// Package lca finds lowest common ancestor versions across one or two
// perspectives of an id's sub-DAG (spec.md §4.D), by walking a tree's
// insertion order in reverse and tracking two advancing frontiers.
package lca

import (
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/tree"
)

// peVersion identifies a node by its perspective and version, the unit
// the frontier walk tracks.
type peVersion struct {
	pe item.Perspective
	v  string
}

// Source is the lookup surface Search needs: insertion-ordered iteration
// over one id's sub-DAG. *tree.Tree satisfies it directly; pkg/writer's
// virtualCollection (tree ∪ in-flight batch) also satisfies it, so LCA
// search runs unmodified over either a persisted tree or a
// write-in-progress batch (spec.md §9 "virtual collection").
type Source interface {
	IterateInsertionOrder(opts tree.IterOpts, iter func(item.Item) error) error
}

// Search returns the lowest common ancestor versions of x and y within
// one (id) sub-DAG drawn from src. x or y may be a virtual-merge input (no
// h.v, only h.pa), in which case its frontier is seeded with its
// parents instead of itself (spec.md §4.D).
func Search(src Source, id []byte, x, y item.Item) ([]item.Version, error) {
	if shortcut, ok := singleParentShortcut(x, y); ok {
		return shortcut, nil
	}
	if shortcut, ok := singleParentShortcut(y, x); ok {
		return shortcut, nil
	}

	headsX := seedFrontier(x)
	headsY := seedFrontier(y)

	ancestorsX := make(map[peVersion]bool)
	ancestorsY := make(map[peVersion]bool)
	covered := make(map[peVersion]bool)
	var candidates []peVersion

	var nodes []item.Item
	err := src.IterateInsertionOrder(tree.IterOpts{ID: id}, func(it item.Item) error {
		nodes = append(nodes, it)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := len(nodes) - 1; i >= 0; i-- {
		if isSubset(headsX, headsY) || isSubset(headsY, headsX) {
			break
		}

		n := nodes[i]
		key := peVersion{pe: n.H.PE, v: string(n.H.V)}

		if headsX[key] {
			delete(headsX, key)
			ancestorsX[key] = true
			addParents(headsX, n)
			if ancestorsY[key] {
				if !covered[key] {
					candidates = append(candidates, key)
				}
				markParentsCovered(covered, n)
			}
		}
		if headsY[key] {
			delete(headsY, key)
			ancestorsY[key] = true
			addParents(headsY, n)
			if ancestorsX[key] {
				if !covered[key] {
					candidates = append(candidates, key)
				}
				markParentsCovered(covered, n)
			}
		}
	}

	// Finalize: when one frontier is fully subsumed by the other, its
	// remaining heads are the common ancestors the walk was converging
	// on; if the stream was exhausted without either subsuming the
	// other, every remaining head on both sides is a candidate.
	switch {
	case isSubset(headsX, headsY):
		for k := range headsX {
			candidates = append(candidates, k)
		}
	case isSubset(headsY, headsX):
		for k := range headsY {
			candidates = append(candidates, k)
		}
	default:
		for k := range headsX {
			candidates = append(candidates, k)
		}
		for k := range headsY {
			candidates = append(candidates, k)
		}
	}

	seen := make(map[peVersion]bool)
	var out []item.Version
	for _, c := range candidates {
		if covered[c] || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, item.Version(c.v))
	}
	return out, nil
}

func seedFrontier(it item.Item) map[peVersion]bool {
	out := make(map[peVersion]bool)
	if len(it.H.V) == 0 {
		for _, p := range it.H.PA {
			out[peVersion{pe: it.H.PE, v: string(p)}] = true
		}
		return out
	}
	out[peVersion{pe: it.H.PE, v: string(it.H.V)}] = true
	return out
}

func addParents(frontier map[peVersion]bool, n item.Item) {
	for _, p := range n.H.PA {
		frontier[peVersion{pe: n.H.PE, v: string(p)}] = true
	}
}

func markParentsCovered(covered map[peVersion]bool, n item.Item) {
	for _, p := range n.H.PA {
		covered[peVersion{pe: n.H.PE, v: string(p)}] = true
	}
}

func isSubset(a, b map[peVersion]bool) bool {
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// singleParentShortcut implements spec.md §4.D's shortcut: if both
// items are on the same perspective and b is a single-parent child of
// a, a is the LCA directly.
func singleParentShortcut(a, b item.Item) ([]item.Version, bool) {
	if len(a.H.V) == 0 || a.H.PE != b.H.PE {
		return nil, false
	}
	if len(b.H.PA) == 1 && b.H.PA[0].Equal(a.H.V) {
		return []item.Version{a.H.V}, true
	}
	return nil, false
}
