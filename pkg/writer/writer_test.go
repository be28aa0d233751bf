package writer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tangledb/tangle/internal/kvstore"
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/oplog"
	"github.com/tangledb/tangle/pkg/tree"
	"github.com/tangledb/tangle/pkg/writer"
)

type fakeStore struct {
	upserts map[string]map[string]interface{}
	deletes map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{upserts: map[string]map[string]interface{}{}, deletes: map[string]bool{}}
}

func (f *fakeStore) Upsert(ctx context.Context, id []byte, body map[string]interface{}) error {
	f.upserts[string(id)] = body
	delete(f.deletes, string(id))
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id []byte) error {
	f.deletes[string(id)] = true
	delete(f.upserts, string(id))
	return nil
}

func openTestPipeline(t *testing.T, remotePerspectives ...item.Perspective) (*writer.Pipeline, *tree.Tree, map[item.Perspective]*tree.Tree, *fakeStore) {
	t.Helper()
	store, err := kvstore.Open(kvstore.Config{Path: t.TempDir()})
	assert.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	local, err := tree.Open(store, string(item.DefaultLocal), nil)
	assert.NoError(t, err)

	remotes := make(map[item.Perspective]*tree.Tree, len(remotePerspectives))
	for _, pe := range remotePerspectives {
		rt, err := tree.Open(store, string(pe), nil)
		assert.NoError(t, err)
		remotes[pe] = rt
	}

	fs := newFakeStore()
	p, err := writer.New(writer.Config{
		Local:   local,
		Remotes: remotes,
		Store:   fs,
	})
	assert.NoError(t, err)
	t.Cleanup(p.Close)
	return p, local, remotes, fs
}

func TestWriteLocalRootCreatesHeadAndSyncs(t *testing.T) {
	p, local, _, fs := openTestPipeline(t)
	ctx := context.Background()

	out, err := p.WriteLocal(ctx, []item.Item{
		{H: item.Header{ID: []byte("doc-1"), V: item.Version("v1"), PE: item.DefaultLocal}, B: map[string]interface{}{"n": 1}},
	})
	assert.NoError(t, err)
	assert.Len(t, out, 1)

	head, err := local.SingleHead([]byte("doc-1"))
	assert.NoError(t, err)
	assert.Equal(t, item.Version("v1"), head.H.V)

	assert.Equal(t, map[string]interface{}{"n": int32(1)}, fs.upserts["doc-1"])
}

func TestWriteRemoteRejectsReservedPerspective(t *testing.T) {
	p, _, _, _ := openTestPipeline(t, "peerA")
	ctx := context.Background()

	_, err := p.WriteRemote(ctx, item.DefaultLocal, []item.Item{
		{H: item.Header{ID: []byte("doc-1"), V: item.Version("v1"), PE: item.DefaultLocal}},
	})
	assert.ErrorIs(t, err, writer.ErrPerspectiveMismatch)
}

func TestWriteRemoteRejectsUndeclaredPerspective(t *testing.T) {
	p, _, _, _ := openTestPipeline(t)
	ctx := context.Background()

	_, err := p.WriteRemote(ctx, "peerA", []item.Item{
		{H: item.Header{ID: []byte("doc-1"), V: item.Version("v1"), PE: "peerA"}},
	})
	assert.ErrorIs(t, err, writer.ErrUnknownPerspective)
}

func TestWriteRemoteCreatesLocalSiblingAndSyncs(t *testing.T) {
	p, local, _, fs := openTestPipeline(t, "peerA")
	ctx := context.Background()

	out, err := p.WriteRemote(ctx, "peerA", []item.Item{
		{H: item.Header{ID: []byte("doc-1"), V: item.Version("r1"), PE: "peerA"}, B: map[string]interface{}{"title": "x"}},
	})
	assert.NoError(t, err)
	assert.Len(t, out, 1)

	head, err := local.SingleHead([]byte("doc-1"))
	assert.NoError(t, err)
	assert.Equal(t, item.DefaultLocal, head.H.PE)
	assert.Equal(t, map[string]interface{}{"title": "x"}, fs.upserts["doc-1"])
}

// TestWriteRemoteForkMergesHeadMerge3 exercises a genuine fork: local
// diverges from a shared root at the same time a remote perspective
// diverges from it too, so the next remote batch makes headMerge
// synthesize a real merge3 node instead of a fast-forward.
func TestWriteRemoteForkMergesHeadMerge3(t *testing.T) {
	p, local, _, _ := openTestPipeline(t, "peerA")
	ctx := context.Background()

	_, err := p.WriteRemote(ctx, "peerA", []item.Item{
		{H: item.Header{ID: []byte("doc-1"), V: item.Version("r1"), PE: "peerA"}, B: map[string]interface{}{"a": float64(1)}},
	})
	assert.NoError(t, err)

	_, err = p.WriteLocal(ctx, []item.Item{
		{H: item.Header{ID: []byte("doc-1"), V: item.Version("L1"), PA: []item.Version{item.Version("r1")}, PE: item.DefaultLocal},
			B: map[string]interface{}{"a": float64(1), "b": float64(2)}},
	})
	assert.NoError(t, err)

	out, err := p.WriteRemote(ctx, "peerA", []item.Item{
		{H: item.Header{ID: []byte("doc-1"), V: item.Version("r2"), PA: []item.Version{item.Version("r1")}, PE: "peerA"},
			B: map[string]interface{}{"a": float64(1), "c": float64(3)}},
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, out)

	head, err := local.SingleHead([]byte("doc-1"))
	assert.NoError(t, err)
	assert.False(t, head.H.C)
	assert.Equal(t, map[string]interface{}{"a": float64(1), "b": float64(2), "c": float64(3)}, head.B)
	assert.ElementsMatch(t, []item.Version{item.Version("r2"), item.Version("L1")}, head.H.PA)
}

func TestApplyOplogInsertThenModifierUpdate(t *testing.T) {
	p, local, _, _ := openTestPipeline(t)
	ctx := context.Background()

	err := p.ApplyOplog(ctx, oplog.Entry{
		Op: oplog.OpInsert,
		O:  map[string]interface{}{"_id": "doc-1", "n": float64(1)},
	})
	assert.NoError(t, err)

	err = p.ApplyOplog(ctx, oplog.Entry{
		Op: oplog.OpUpdate,
		O:  map[string]interface{}{"$inc": map[string]interface{}{"n": float64(1)}},
		O2: map[string]interface{}{"_id": "doc-1"},
	})
	assert.NoError(t, err)

	head, err := local.SingleHead([]byte("doc-1"))
	assert.NoError(t, err)
	assert.Equal(t, float64(2), head.B["n"])
}

func TestApplyOplogDeleteWritesTombstone(t *testing.T) {
	p, local, _, fs := openTestPipeline(t)
	ctx := context.Background()

	err := p.ApplyOplog(ctx, oplog.Entry{
		Op: oplog.OpInsert,
		O:  map[string]interface{}{"_id": "doc-1", "n": float64(1)},
	})
	assert.NoError(t, err)

	err = p.ApplyOplog(ctx, oplog.Entry{
		Op: oplog.OpDelete,
		O2: map[string]interface{}{"_id": "doc-1"},
	})
	assert.NoError(t, err)

	head, err := local.Tail([]byte("doc-1"))
	assert.NoError(t, err)
	assert.True(t, head.H.D)
	assert.True(t, fs.deletes["doc-1"])
}

func TestApplyOplogRejectsUnknownOp(t *testing.T) {
	p, _, _, _ := openTestPipeline(t)
	err := p.ApplyOplog(context.Background(), oplog.Entry{Op: "x"})
	assert.ErrorIs(t, err, oplog.ErrUnknownOp)
}
