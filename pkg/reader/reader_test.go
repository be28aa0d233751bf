package reader_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tangledb/tangle/internal/kvstore"
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/reader"
	"github.com/tangledb/tangle/pkg/tree"
)

func openTestTree(t *testing.T) *tree.Tree {
	t.Helper()
	store, err := kvstore.Open(kvstore.Config{Path: t.TempDir()})
	assert.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tr, err := tree.Open(store, string(item.DefaultLocal), nil)
	assert.NoError(t, err)
	return tr
}

func writeChain(t *testing.T, tr *tree.Tree, id string, versions ...string) []item.Item {
	t.Helper()
	var out []item.Item
	var pa []item.Version
	for i, v := range versions {
		written, err := tr.Write(item.Item{
			H: item.Header{ID: []byte(id), V: item.Version(v), PA: pa, PE: item.DefaultLocal},
			B: map[string]interface{}{"n": i},
		})
		assert.NoError(t, err)
		out = append(out, written)
		pa = []item.Version{item.Version(v)}
	}
	return out
}

func writeNode(t *testing.T, tr *tree.Tree, id, v string, n int, parents ...string) item.Item {
	t.Helper()
	pa := make([]item.Version, len(parents))
	for i, p := range parents {
		pa[i] = item.Version(p)
	}
	out, err := tr.Write(item.Item{
		H: item.Header{ID: []byte(id), V: item.Version(v), PA: pa, PE: item.DefaultLocal},
		B: map[string]interface{}{"n": float64(n)},
	})
	assert.NoError(t, err)
	return out
}

func drain(t *testing.T, r *reader.Reader) []reader.Emission {
	t.Helper()
	var out []reader.Emission
	for em := range r.Emissions() {
		out = append(out, em)
	}
	return out
}

func TestReaderEmitsInsertionOrder(t *testing.T) {
	tr := openTestTree(t)
	writeChain(t, tr, "doc-1", "v1", "v2", "v3")

	r, err := reader.New(reader.Config{Tree: tr})
	assert.NoError(t, err)
	defer r.Close()

	ems := drain(t, r)
	assert.Len(t, ems, 3)
	for _, em := range ems {
		assert.NoError(t, em.Err)
	}
	assert.Equal(t, item.Version("v1"), ems[0].Item.H.V)
	assert.Equal(t, item.Version("v3"), ems[2].Item.H.V)
}

func TestReaderSuppressesBeforeOffsetInclusive(t *testing.T) {
	tr := openTestTree(t)
	writeChain(t, tr, "doc-1", "v1", "v2", "v3")

	r, err := reader.New(reader.Config{Tree: tr, Offset: item.Version("v2")})
	assert.NoError(t, err)
	defer r.Close()

	ems := drain(t, r)
	assert.Len(t, ems, 2)
	assert.Equal(t, item.Version("v2"), ems[0].Item.H.V)
	assert.Equal(t, item.Version("v3"), ems[1].Item.H.V)
}

// TestReaderOffsetIsInclusive regresses a bug where the offset item
// itself was always marked suppressed: spec.md §8's worked example
// ("offset=A, follow=false, emits A,B,C,...") requires the offset item
// to be emitted, not skipped.
func TestReaderOffsetIsInclusive(t *testing.T) {
	tr := openTestTree(t)
	writeChain(t, tr, "doc-1", "v1", "v2", "v3")

	r, err := reader.New(reader.Config{Tree: tr, Offset: item.Version("v1")})
	assert.NoError(t, err)
	defer r.Close()

	ems := drain(t, r)
	assert.Len(t, ems, 3)
	assert.Equal(t, item.Version("v1"), ems[0].Item.H.V)
	assert.Equal(t, item.Version("v2"), ems[1].Item.H.V)
	assert.Equal(t, item.Version("v3"), ems[2].Item.H.V)
}

func TestReaderUnknownOffsetErrors(t *testing.T) {
	tr := openTestTree(t)
	writeChain(t, tr, "doc-1", "v1")

	r, err := reader.New(reader.Config{Tree: tr, Offset: item.Version("nope")})
	assert.NoError(t, err)
	defer r.Close()

	ems := drain(t, r)
	assert.Len(t, ems, 1)
	assert.ErrorIs(t, ems[0].Err, reader.ErrOffsetNotFound)
}

func TestReaderFilterDropsNonMatchingAndRewritesAncestors(t *testing.T) {
	tr := openTestTree(t)
	// v1: n=0, v2: n=1, v3: n=2 -- filter keeps only n=0.
	writeChain(t, tr, "doc-1", "v1", "v2", "v3")

	r, err := reader.New(reader.Config{Tree: tr, Filter: map[string]interface{}{"n": float64(0)}})
	assert.NoError(t, err)
	defer r.Close()

	ems := drain(t, r)
	assert.Len(t, ems, 1)
	assert.Equal(t, item.Version("v1"), ems[0].Item.H.V)
	assert.Empty(t, ems[0].Item.H.PA)
}

func TestReaderHookCanRewriteBody(t *testing.T) {
	tr := openTestTree(t)
	writeChain(t, tr, "doc-1", "v1")

	hook := func(ctx context.Context, it item.Item) (item.Item, bool, error) {
		it.B["tagged"] = true
		return it, true, nil
	}

	r, err := reader.New(reader.Config{Tree: tr, Hooks: []reader.Hook{hook}})
	assert.NoError(t, err)
	defer r.Close()

	ems := drain(t, r)
	assert.Len(t, ems, 1)
	assert.Equal(t, true, ems[0].Item.B["tagged"])
}

// TestReaderRewritesSurrogateParentsThroughAGenuineMergeNode builds the
// A,B,C,D,E,F,G fork-and-merge shape (F has two parents, E and C) and
// filters out every odd-n node, including F itself. G's real parent F
// never passes the filter, so G must surface F's own filter-matching
// ancestors (E and C) as its surrogate parents.
func TestReaderRewritesSurrogateParentsThroughAGenuineMergeNode(t *testing.T) {
	tr := openTestTree(t)
	writeNode(t, tr, "doc-1", "A", 0)
	writeNode(t, tr, "doc-1", "B", 1, "A")
	writeNode(t, tr, "doc-1", "C", 0, "B")
	writeNode(t, tr, "doc-1", "D", 1, "C")
	writeNode(t, tr, "doc-1", "E", 0, "B")
	writeNode(t, tr, "doc-1", "F", 1, "E", "C")
	writeNode(t, tr, "doc-1", "G", 0, "F")

	r, err := reader.New(reader.Config{Tree: tr, Filter: map[string]interface{}{"n": float64(0)}})
	assert.NoError(t, err)
	defer r.Close()

	ems := drain(t, r)
	assert.Len(t, ems, 4)

	byVersion := make(map[string]reader.Emission, len(ems))
	for _, em := range ems {
		assert.NoError(t, em.Err)
		byVersion[string(em.Item.H.V)] = em
	}

	assert.Empty(t, byVersion["A"].Item.H.PA)
	assert.Equal(t, []item.Version{item.Version("A")}, byVersion["C"].Item.H.PA)
	assert.Equal(t, []item.Version{item.Version("A")}, byVersion["E"].Item.H.PA)
	assert.ElementsMatch(t, []item.Version{item.Version("E"), item.Version("C")}, byVersion["G"].Item.H.PA)
}

// TestReaderOffsetAndFilterCombinedRewritesThroughSuppressedAncestor
// regresses a bug where pre-offset items never ran through the
// filter/heads bookkeeping: a post-offset item whose parent is a
// pre-offset node that itself fails the filter must surface that
// parent's own last filter-matching ancestor, not the failed parent
// itself.
func TestReaderOffsetAndFilterCombinedRewritesThroughSuppressedAncestor(t *testing.T) {
	tr := openTestTree(t)
	writeNode(t, tr, "doc-1", "v1", 0)       // pre-offset, passes filter
	writeNode(t, tr, "doc-1", "v2", 1, "v1") // offset itself, fails filter
	writeNode(t, tr, "doc-1", "v3", 0, "v2") // post-offset, passes filter

	r, err := reader.New(reader.Config{
		Tree:   tr,
		Offset: item.Version("v2"),
		Filter: map[string]interface{}{"n": float64(0)},
	})
	assert.NoError(t, err)
	defer r.Close()

	ems := drain(t, r)
	assert.Len(t, ems, 1)
	assert.NoError(t, ems[0].Err)
	assert.Equal(t, item.Version("v3"), ems[0].Item.H.V)
	assert.Equal(t, []item.Version{item.Version("v1")}, ems[0].Item.H.PA)
}

func TestReaderRawEmitsMarshaledBytes(t *testing.T) {
	tr := openTestTree(t)
	writeChain(t, tr, "doc-1", "v1")

	r, err := reader.New(reader.Config{Tree: tr, Raw: true})
	assert.NoError(t, err)
	defer r.Close()

	ems := drain(t, r)
	assert.Len(t, ems, 1)
	assert.NotEmpty(t, ems[0].Raw)

	decoded, err := item.Unmarshal(ems[0].Raw)
	assert.NoError(t, err)
	assert.Equal(t, []byte("doc-1"), decoded.H.ID)
}
