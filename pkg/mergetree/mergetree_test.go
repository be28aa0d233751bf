package mergetree_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tangledb/tangle/internal/kvstore"
	"github.com/tangledb/tangle/pkg/collaborator"
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/mergetree"
	"github.com/tangledb/tangle/pkg/tree"
)

func openTestTrees(t *testing.T, perspectives ...item.Perspective) (local, stage *tree.Tree, remotes map[item.Perspective]*tree.Tree) {
	t.Helper()
	store, err := kvstore.Open(kvstore.Config{Path: t.TempDir()})
	assert.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	local, err = tree.Open(store, string(item.DefaultLocal), nil)
	assert.NoError(t, err)
	stage, err = tree.Open(store, string(item.DefaultStage), nil)
	assert.NoError(t, err)

	remotes = make(map[item.Perspective]*tree.Tree, len(perspectives))
	for _, pe := range perspectives {
		rt, err := tree.Open(store, string(pe), nil)
		assert.NoError(t, err)
		remotes[pe] = rt
	}
	return
}

func TestMergeWithLocalUnknownPerspective(t *testing.T) {
	local, stage, remotes := openTestTrees(t)
	mt, err := mergetree.New(mergetree.Config{Local: local, Stage: stage, Remotes: remotes})
	assert.NoError(t, err)
	defer mt.Close()

	err = mt.MergeWithLocal(context.Background(), "peerA", nil)
	assert.ErrorIs(t, err, mergetree.ErrUnknownPerspective)
}

func TestLocalWriteStreamRejectsExplicitParents(t *testing.T) {
	local, stage, remotes := openTestTrees(t)
	mt, err := mergetree.New(mergetree.Config{Local: local, Stage: stage, Remotes: remotes})
	assert.NoError(t, err)
	defer mt.Close()

	_, err = mt.LocalWriteStream(context.Background(), []item.Item{
		{H: item.Header{ID: []byte("doc-1"), PA: []item.Version{item.Version("x")}}},
	})
	assert.ErrorIs(t, err, mergetree.ErrLocalParentsNotAllowed)
}

func TestLocalWriteStreamChainsHeads(t *testing.T) {
	local, stage, remotes := openTestTrees(t)
	mt, err := mergetree.New(mergetree.Config{Local: local, Stage: stage, Remotes: remotes})
	assert.NoError(t, err)
	defer mt.Close()

	ctx := context.Background()
	first, err := mt.LocalWriteStream(ctx, []item.Item{
		{H: item.Header{ID: []byte("doc-1")}, B: map[string]interface{}{"n": 1}},
	})
	assert.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := mt.LocalWriteStream(ctx, []item.Item{
		{H: item.Header{ID: []byte("doc-1")}, B: map[string]interface{}{"n": 2}},
	})
	assert.NoError(t, err)
	assert.Len(t, second, 1)
	assert.Equal(t, []item.Version{first[0].H.V}, second[0].H.PA)

	head, err := local.SingleHead([]byte("doc-1"))
	assert.NoError(t, err)
	assert.Equal(t, second[0].H.V, head.H.V)
}

func TestMergeWithLocalAutoConfirmsFreshID(t *testing.T) {
	local, stage, remotes := openTestTrees(t, "peerA")
	mt, err := mergetree.New(mergetree.Config{Local: local, Stage: stage, Remotes: remotes})
	assert.NoError(t, err)
	defer mt.Close()

	_, err = remotes["peerA"].Write(item.Item{
		H: item.Header{ID: []byte("doc-1"), V: item.Version("r1"), PE: "peerA"},
		B: map[string]interface{}{"title": "from peer"},
	})
	assert.NoError(t, err)

	err = mt.MergeWithLocal(context.Background(), "peerA", nil)
	assert.NoError(t, err)

	head, err := local.SingleHead([]byte("doc-1"))
	assert.NoError(t, err)
	assert.Equal(t, item.Version("r1"), head.H.V)
	assert.Equal(t, item.DefaultLocal, head.H.PE)
	origin, ok := head.OriginPerspective()
	assert.True(t, ok)
	assert.Equal(t, item.Perspective("peerA"), origin)
}

func TestMergeWithLocalHandlerDeferralLeavesEntryStagedUntilConfirmed(t *testing.T) {
	local, stage, remotes := openTestTrees(t, "peerA")
	mt, err := mergetree.New(mergetree.Config{Local: local, Stage: stage, Remotes: remotes})
	assert.NoError(t, err)
	defer mt.Close()

	_, err = remotes["peerA"].Write(item.Item{
		H: item.Header{ID: []byte("doc-1"), V: item.Version("r1"), PE: "peerA"},
		B: map[string]interface{}{"title": "from peer"},
	})
	assert.NoError(t, err)

	ctx := context.Background()
	handlerErr := errors.New("not ready")
	err = mt.MergeWithLocal(ctx, "peerA", collaborator.MergeHandlerFunc(
		func(ctx context.Context, merged, previousLocalHead item.Item) error {
			return handlerErr
		},
	))
	assert.ErrorIs(t, err, handlerErr)

	_, err = local.SingleHead([]byte("doc-1"))
	assert.ErrorIs(t, err, tree.ErrNotFound)

	confirmed, err := mt.LocalWriteStream(ctx, []item.Item{
		{H: item.Header{ID: []byte("doc-1"), V: item.Version("r1")}},
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, confirmed)

	head, err := local.SingleHead([]byte("doc-1"))
	assert.NoError(t, err)
	assert.Equal(t, item.Version("r1"), head.H.V)
}

// TestMergeWithLocalResolvesGenuineFork exercises stageOne's
// lca.Search path directly: after a shared root is mirrored into local,
// local diverges from it via two of its own commits while a remote
// perspective independently diverges from the same root, so the next
// MergeWithLocal call must find the shared root as the LCA of a real
// fork instead of taking the fresh-id or already-the-head shortcuts.
func TestMergeWithLocalResolvesGenuineFork(t *testing.T) {
	local, stage, remotes := openTestTrees(t, "peerA")
	mt, err := mergetree.New(mergetree.Config{Local: local, Stage: stage, Remotes: remotes})
	assert.NoError(t, err)
	defer mt.Close()

	ctx := context.Background()
	_, err = remotes["peerA"].Write(item.Item{
		H: item.Header{ID: []byte("doc-1"), V: item.Version("r1"), PE: "peerA"},
		B: map[string]interface{}{"title": "root"},
	})
	assert.NoError(t, err)

	err = mt.MergeWithLocal(ctx, "peerA", nil)
	assert.NoError(t, err)

	_, err = mt.LocalWriteStream(ctx, []item.Item{
		{H: item.Header{ID: []byte("doc-1")}, B: map[string]interface{}{"title": "root", "local": float64(1)}},
	})
	assert.NoError(t, err)
	_, err = mt.LocalWriteStream(ctx, []item.Item{
		{H: item.Header{ID: []byte("doc-1")}, B: map[string]interface{}{"title": "root", "local": float64(2)}},
	})
	assert.NoError(t, err)

	_, err = remotes["peerA"].Write(item.Item{
		H: item.Header{ID: []byte("doc-1"), V: item.Version("r2"), PA: []item.Version{item.Version("r1")}, PE: "peerA"},
		B: map[string]interface{}{"title": "root", "remote": float64(1)},
	})
	assert.NoError(t, err)

	err = mt.MergeWithLocal(ctx, "peerA", nil)
	assert.NoError(t, err)

	head, err := local.SingleHead([]byte("doc-1"))
	assert.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"title": "root", "local": float64(2), "remote": float64(1)}, head.B)
}

func TestMergeWithLocalOutOfOrderConfirmationRejected(t *testing.T) {
	local, stage, remotes := openTestTrees(t, "peerA")
	mt, err := mergetree.New(mergetree.Config{Local: local, Stage: stage, Remotes: remotes})
	assert.NoError(t, err)
	defer mt.Close()

	ctx := context.Background()
	_, err = mt.LocalWriteStream(ctx, []item.Item{
		{H: item.Header{ID: []byte("doc-1"), V: item.Version("bogus")}},
	})
	assert.ErrorIs(t, err, mergetree.ErrOutOfOrderConfirmation)
}
