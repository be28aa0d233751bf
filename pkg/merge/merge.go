// Package merge implements the pure three-way merge of spec.md §4.C: no
// I/O, no tree access, just item headers and bodies in, a merged item or
// a conflict set out.
package merge

import (
	"errors"
	"fmt"

	"github.com/tangledb/tangle/pkg/item"
)

// ErrMergeConflict is the sentinel spec.md §7 names for a three-way
// merge that produced conflicts. ConflictError.Unwrap returns it so
// callers can match with errors.Is while still recovering the attribute
// list via errors.As.
var ErrMergeConflict = errors.New("tangle: merge conflict")

// deltaKind classifies one attribute's change between a side and its LCA.
type deltaKind int

const (
	deltaNone deltaKind = iota
	deltaAdded
	deltaChanged
	deltaDeleted
)

// ConflictError lists the attribute names that could not be merged
// automatically.
type ConflictError struct {
	Attributes []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("tangle: merge conflict on attributes %v", e.Attributes)
}

// Unwrap lets errors.Is(err, ErrMergeConflict) match a *ConflictError.
func (e *ConflictError) Unwrap() error {
	return ErrMergeConflict
}

// delta computes, for every attribute present in side or lca, how it
// changed relative to lca (spec.md §4.C delta encoding).
func delta(side, lca map[string]interface{}) map[string]deltaKind {
	out := make(map[string]deltaKind)
	for k, v := range side {
		lv, inLCA := lca[k]
		if !inLCA {
			out[k] = deltaAdded
			continue
		}
		if !item.DeepEqualJSON(v, lv) {
			out[k] = deltaChanged
		}
	}
	for k := range lca {
		if _, inSide := side[k]; !inSide {
			out[k] = deltaDeleted
		}
	}
	return out
}

// ThreeWay merges x and y against their lowest common ancestors. If
// lcaY is the zero Item (no h.v and no body), both sides are diffed
// against lcaX (the single-LCA path); otherwise each side is diffed
// against its own LCA, the perspective-bound merge spec.md §4.C
// describes to avoid false deletions from a foreign perspective's field
// set.
func ThreeWay(x, y, lcaX, lcaY item.Item) (item.Item, error) {
	if lcaY.B == nil && len(lcaY.H.V) == 0 {
		lcaY = lcaX
	}

	dx := delta(x.B, lcaX.B)
	dy := delta(y.B, lcaY.B)

	base := unionBase(lcaX.B, lcaY.B)

	merged := make(map[string]interface{})
	var conflicts []string

	keys := make(map[string]bool)
	for k := range x.B {
		keys[k] = true
	}
	for k := range y.B {
		keys[k] = true
	}
	for k := range base {
		keys[k] = true
	}

	for k := range keys {
		xv, xHas := x.B[k]
		yv, yHas := y.B[k]
		kx := dx[k]
		ky := dy[k]

		switch {
		case kx == deltaNone && ky == deltaNone:
			// common to all three (or absent everywhere): copy.
			if xHas {
				merged[k] = xv
			}
		case kx == deltaNone && ky == deltaChanged:
			merged[k] = yv
		case kx == deltaChanged && ky == deltaNone:
			merged[k] = xv
		case kx == deltaNone && ky == deltaDeleted:
			// unmodified on x, deleted on y: drop.
		case kx == deltaDeleted && ky == deltaNone:
			// unmodified on y, deleted on x: drop.
		case kx == deltaNone && ky == deltaAdded:
			if !xHas {
				merged[k] = yv
			} else if item.DeepEqualJSON(xv, yv) {
				merged[k] = yv
			} else {
				conflicts = append(conflicts, k)
			}
		case kx == deltaAdded && ky == deltaNone:
			if !yHas {
				merged[k] = xv
			} else if item.DeepEqualJSON(xv, yv) {
				merged[k] = xv
			} else {
				conflicts = append(conflicts, k)
			}
		case kx == deltaDeleted && ky == deltaDeleted:
			// dropped on both sides: omit.
		case kx == deltaAdded && ky == deltaAdded,
			kx == deltaChanged && ky == deltaChanged,
			kx == deltaAdded && ky == deltaChanged,
			kx == deltaChanged && ky == deltaAdded:
			if item.DeepEqualJSON(xv, yv) {
				merged[k] = xv
			} else {
				conflicts = append(conflicts, k)
			}
		default:
			// deltaDeleted paired with deltaChanged/deltaAdded on the
			// other side: one side dropped it, the other touched it.
			conflicts = append(conflicts, k)
		}
	}

	if len(conflicts) > 0 {
		return item.Item{}, &ConflictError{Attributes: conflicts}
	}

	out := item.Item{
		H: item.Header{
			ID: x.H.ID,
			PA: []item.Version{x.H.V, y.H.V},
			PE: x.H.PE,
			D:  x.H.D && y.H.D,
		},
		B: merged,
	}
	return out, nil
}

// unionBase returns the union of two LCA bodies, keyed the same way so
// every attribute either side's LCA ever held is considered.
func unionBase(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
