package merge

import (
	"errors"
	"sort"

	"github.com/tangledb/tangle/pkg/item"
)

// ErrNoLCAsToReduce is returned by ReduceLCAs for an empty input; callers
// should never hit this since the writer/mergetree always check
// len(lcas) > 0 before reducing.
var ErrNoLCAsToReduce = errors.New("tangle: no LCAs to reduce")

// ReduceLCAs folds N>1 lowest common ancestors of one perspective into a
// single virtual LCA, per spec.md §4.G's recursive multi-LCA merge: sort
// the LCAs into canonical (version, perspective) order, then fold their
// bodies left to right, each partial result becoming the accumulator for
// the next LCA. No step can ever produce a conflict: an attribute
// already present in the accumulator wins ties, and an attribute unique
// to the next LCA is carried forward unchanged. A single LCA is returned
// unchanged.
func ReduceLCAs(lcas []item.Item) (item.Item, error) {
	if len(lcas) == 0 {
		return item.Item{}, ErrNoLCAsToReduce
	}
	if len(lcas) == 1 {
		return lcas[0], nil
	}
	sorted := make([]item.Item, len(lcas))
	copy(sorted, lcas)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].H.V.Equal(sorted[j].H.V) {
			return sorted[i].H.V.Less(sorted[j].H.V)
		}
		return sorted[i].H.PE < sorted[j].H.PE
	})

	acc := sorted[0]
	body := make(map[string]interface{}, len(acc.B))
	for k, v := range acc.B {
		body[k] = v
	}
	for _, next := range sorted[1:] {
		for k, v := range next.B {
			if _, already := body[k]; !already {
				body[k] = v
			}
		}
	}

	acc.B = body
	acc.H.V = nil
	return acc, nil
}
