package tree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tangledb/tangle/internal/kvstore"
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/tree"
)

func openTestTree(t *testing.T) *tree.Tree {
	t.Helper()
	store, err := kvstore.Open(kvstore.Config{Path: t.TempDir()})
	assert.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tr, err := tree.Open(store, "docs", nil)
	assert.NoError(t, err)
	return tr
}

func rootItem(id string, v string) item.Item {
	return item.Item{
		H: item.Header{ID: []byte(id), V: item.Version(v), PE: item.DefaultLocal},
		B: map[string]interface{}{"n": 1},
	}
}

func TestWriteAndGetByVersion(t *testing.T) {
	tr := openTestTree(t)
	it := rootItem("doc-1", "v1")

	written, err := tr.Write(it)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), written.H.I)

	got, err := tr.GetByVersion(item.Version("v1"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("doc-1"), got.H.ID)
}

func TestWriteIdempotentNoOp(t *testing.T) {
	tr := openTestTree(t)
	it := rootItem("doc-1", "v1")

	first, err := tr.Write(it)
	assert.NoError(t, err)

	second, err := tr.Write(it)
	assert.NoError(t, err)
	assert.Equal(t, first.H.I, second.H.I)
}

func TestWriteRejectsMissingParent(t *testing.T) {
	tr := openTestTree(t)
	child := item.Item{
		H: item.Header{ID: []byte("doc-1"), V: item.Version("v2"), PA: []item.Version{item.Version("missing")}, PE: item.DefaultLocal},
		B: map[string]interface{}{"n": 2},
	}
	_, err := tr.Write(child)
	assert.ErrorIs(t, err, tree.ErrParentNotFound)
}

func TestGetHeadsReturnsSingleHead(t *testing.T) {
	tr := openTestTree(t)
	_, err := tr.Write(rootItem("doc-1", "v1"))
	assert.NoError(t, err)

	var heads []item.Item
	err = tr.GetHeads(tree.GetHeadsOpts{ID: []byte("doc-1")}, func(it item.Item) error {
		heads = append(heads, it)
		return nil
	})
	assert.NoError(t, err)
	assert.Len(t, heads, 1)
	assert.Equal(t, item.Version("v1"), heads[0].H.V)
}

func TestWriteMarksMultipleHeadsAsConflict(t *testing.T) {
	tr := openTestTree(t)
	_, err := tr.Write(rootItem("doc-1", "v1"))
	assert.NoError(t, err)

	child1 := item.Item{
		H: item.Header{ID: []byte("doc-1"), V: item.Version("v2"), PA: []item.Version{item.Version("v1")}, PE: item.DefaultLocal},
		B: map[string]interface{}{"n": 2},
	}
	child2 := item.Item{
		H: item.Header{ID: []byte("doc-1"), V: item.Version("v3"), PA: []item.Version{item.Version("v1")}, PE: item.DefaultLocal},
		B: map[string]interface{}{"n": 3},
	}
	_, err = tr.Write(child1)
	assert.NoError(t, err)
	_, err = tr.Write(child2)
	assert.NoError(t, err)

	var conflicted int
	err = tr.GetHeads(tree.GetHeadsOpts{ID: []byte("doc-1")}, func(it item.Item) error {
		if it.H.C {
			conflicted++
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, conflicted)
}

func TestIterateInsertionOrder(t *testing.T) {
	tr := openTestTree(t)
	_, err := tr.Write(rootItem("doc-1", "v1"))
	assert.NoError(t, err)
	_, err = tr.Write(rootItem("doc-2", "v2"))
	assert.NoError(t, err)

	var order []string
	err = tr.IterateInsertionOrder(tree.IterOpts{}, func(it item.Item) error {
		order = append(order, string(it.H.V))
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, order)
}

func TestCreateReadStreamEmitsAllItems(t *testing.T) {
	tr := openTestTree(t)
	_, err := tr.Write(rootItem("doc-1", "v1"))
	assert.NoError(t, err)
	_, err = tr.Write(rootItem("doc-2", "v2"))
	assert.NoError(t, err)

	stream := tr.CreateReadStream(tree.StreamOpts{})
	defer stream.Close()

	var got []string
	for it := range stream.Items() {
		got = append(got, string(it.H.V))
	}
	assert.NoError(t, stream.Err())
	assert.Equal(t, []string{"v1", "v2"}, got)
}

func TestDelRemovesItem(t *testing.T) {
	tr := openTestTree(t)
	written, err := tr.Write(rootItem("doc-1", "v1"))
	assert.NoError(t, err)

	assert.NoError(t, tr.Del(written))

	_, err = tr.GetByVersion(item.Version("v1"))
	assert.ErrorIs(t, err, tree.ErrNotFound)
}

func TestLastByPerspectiveReturnsMostRecentOrigin(t *testing.T) {
	tr := openTestTree(t)
	it := rootItem("doc-1", "v1")
	it.SetOriginPerspective("peerA")
	_, err := tr.Write(it)
	assert.NoError(t, err)

	v, ok, err := tr.LastByPerspective("peerA")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, item.Version("v1"), v)
}
