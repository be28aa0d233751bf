package reader

import (
	"context"
	"time"

	"github.com/tangledb/tangle/pkg/item"
)

// project implements spec.md §4.F steps 2-5 for one item: resolve
// surrogate parents, apply the filter and hook chain, and either emit a
// rewritten item or record it as transparent for future
// surrogate-ancestor resolution. A suppressed item (not yet past the
// configured offset) still runs steps 2-4 so later items' ancestor
// lookups see it; only its own emission (step 5) is skipped.
func (r *Reader) project(ctx context.Context, it item.Item, suppressed bool) (Emission, bool, error) {
	resolved := resolveParents(r.heads, it.H.PA)

	if !matchFilter(it, r.cfg.Filter) {
		r.heads[string(it.H.V)] = resolved
		return Emission{}, false, nil
	}

	out := it
	dropped := false
	for _, h := range r.cfg.Hooks {
		next, ok, err := h(ctx, out)
		if err != nil {
			return Emission{}, false, err
		}
		if !ok {
			dropped = true
			break
		}
		out = next
	}
	if dropped {
		r.heads[string(it.H.V)] = resolved
		return Emission{}, false, nil
	}

	r.heads[string(it.H.V)] = []item.Version{it.H.V}

	if suppressed {
		return Emission{}, false, nil
	}

	out.H.PA = resolved
	out.H.PE = ""
	out.H.I = 0
	out.M.Ack = false
	out.M.Op = time.Time{}

	if r.cfg.Raw {
		raw, err := item.Marshal(out)
		if err != nil {
			return Emission{}, false, err
		}
		return Emission{Raw: raw}, true, nil
	}
	return Emission{Item: out}, true, nil
}

// resolveParents expands raw parent versions through heads, the
// surrogate-ancestor table spec.md §4.F step 2 describes: a parent
// still present in the projection maps to itself, a filtered-out
// parent maps to whatever was recorded for its own unresolved parents.
// A parent with no entry yet (should not happen given insertion order)
// falls back to itself.
func resolveParents(heads map[string][]item.Version, raw []item.Version) []item.Version {
	seen := make(map[string]bool, len(raw))
	var out []item.Version
	for _, p := range raw {
		resolved, ok := heads[string(p)]
		if !ok {
			resolved = []item.Version{p}
		}
		for _, v := range resolved {
			key := string(v)
			if !seen[key] {
				seen[key] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// matchFilter reports whether every key of filter is present in it.B
// with an equal value. A nil or empty filter always matches.
func matchFilter(it item.Item, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := it.B[k]
		if !ok || !item.DeepEqualJSON(got, want) {
			return false
		}
	}
	return true
}
