package kvstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tangledb/tangle/internal/kvstore"
)

func openTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	s, err := kvstore.Open(kvstore.Config{Path: t.TempDir()})
	assert.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteBatchAtomicAndReadable(t *testing.T) {
	s := openTestStore(t)

	err := s.WriteBatch([]kvstore.KV{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	})
	assert.NoError(t, err)

	v, err := s.Get([]byte("a"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	ok, err := s.Has([]byte("b"))
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestGetMissingKeyReturnsErrKeyNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get([]byte("missing"))
	assert.ErrorIs(t, err, kvstore.ErrKeyNotFound)
}

func TestScanPrefixOrdersAscending(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.WriteBatch([]kvstore.KV{
		{Key: []byte("p:1"), Value: []byte("a")},
		{Key: []byte("p:2"), Value: []byte("b")},
		{Key: []byte("p:3"), Value: []byte("c")},
		{Key: []byte("q:1"), Value: []byte("d")},
	}))

	entries, err := s.ScanPrefix([]byte("p:"))
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, []byte("p:1"), entries[0].Key)
	assert.Equal(t, []byte("p:3"), entries[2].Key)
}

func TestScanPrefixReverseOrdersDescending(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.WriteBatch([]kvstore.KV{
		{Key: []byte("p:1"), Value: []byte("a")},
		{Key: []byte("p:2"), Value: []byte("b")},
	}))

	entries, err := s.ScanPrefixReverse([]byte("p:"))
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, []byte("p:2"), entries[0].Key)
}

func TestDeleteBatchRemovesKeys(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.WriteBatch([]kvstore.KV{{Key: []byte("x"), Value: []byte("1")}}))
	assert.NoError(t, s.DeleteBatch([][]byte{[]byte("x")}))

	_, err := s.Get([]byte("x"))
	assert.ErrorIs(t, err, kvstore.ErrKeyNotFound)
}

func TestOpenRejectsMissingPath(t *testing.T) {
	_, err := kvstore.Open(kvstore.Config{Path: "/nonexistent/path/for/tangle/tests"})
	assert.Error(t, err)
}

func TestCompressValueRoundTrip(t *testing.T) {
	small := []byte("short value")
	enc, err := kvstore.CompressValue(small)
	assert.NoError(t, err)
	dec, err := kvstore.DecompressValue(enc)
	assert.NoError(t, err)
	assert.Equal(t, small, dec)

	large := make([]byte, 4096)
	for i := range large {
		large[i] = byte(i % 7)
	}
	enc, err = kvstore.CompressValue(large)
	assert.NoError(t, err)
	dec, err = kvstore.DecompressValue(enc)
	assert.NoError(t, err)
	assert.Equal(t, large, dec)
}
