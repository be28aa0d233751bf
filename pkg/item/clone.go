package item

// Clone returns a deep copy safe to mutate independently, used when the
// writer pipeline synthesizes a local-perspective sibling of a remote
// item (spec.md §4.E step 6a).
func Clone(it Item) Item {
	out := it
	out.H.ID = append([]byte(nil), it.H.ID...)
	out.H.V = append(Version(nil), it.H.V...)
	out.H.PA = make([]Version, len(it.H.PA))
	for i, p := range it.H.PA {
		out.H.PA[i] = append(Version(nil), p...)
	}
	out.B = cloneBody(it.B)
	if it.M.Extra != nil {
		out.M.Extra = cloneBody(it.M.Extra)
	}
	return out
}

func cloneBody(b map[string]interface{}) map[string]interface{} {
	if b == nil {
		return nil
	}
	out := make(map[string]interface{}, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// EquivalentHeaderAndBody reports whether two items have the same
// identity-bearing header fields and body, used by Tree.Write to detect
// the idempotent-no-op case of spec.md §4.B.
func EquivalentHeaderAndBody(a, b Item) bool {
	if !a.H.V.Equal(b.H.V) || a.H.PE != b.H.PE || a.H.D != b.H.D {
		return false
	}
	if len(a.H.PA) != len(b.H.PA) {
		return false
	}
	for i := range a.H.PA {
		if !a.H.PA[i].Equal(b.H.PA[i]) {
			return false
		}
	}
	return bodyEqual(a.B, b.B)
}

func bodyEqual(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !deepEqualJSON(av, bv) {
			return false
		}
	}
	return true
}
