package tree

import (
	"sort"

	"github.com/tangledb/tangle/internal/kvstore"
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/keycodec"
)

// Write validates, indexes, and persists it (spec.md §4.B). If an item
// with the same (id, version) already exists with an equivalent header
// and body, the write is an idempotent no-op and the stored item is
// returned unchanged.
func (t *Tree) Write(it item.Item) (item.Item, error) {
	if err := validate(it); err != nil {
		return item.Item{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(it.H.V) > 0 {
		if existing, err := t.GetByVersion(it.H.V); err == nil {
			if item.EquivalentHeaderAndBody(existing, it) {
				return existing, nil
			}
		} else if err != ErrNotFound {
			return item.Item{}, err
		}
	}

	for _, p := range it.H.PA {
		if _, err := t.GetByVersion(p); err != nil {
			if err == ErrNotFound {
				return item.Item{}, ErrParentNotFound
			}
			return item.Item{}, err
		}
	}

	it.H.I = t.nextIndex()

	heads, err := t.headsForID(it.H.ID)
	if err != nil {
		return item.Item{}, err
	}

	var toDelete [][]byte
	for _, p := range it.H.PA {
		if _, ok := heads[string(p)]; ok {
			headKey, err := keycodec.EncodeHeadKey(t.name, it.H.ID, p)
			if err != nil {
				return item.Item{}, err
			}
			toDelete = append(toDelete, headKey)
			delete(heads, string(p))
		}
	}

	dskey, err := keycodec.EncodeDSKey(t.name, it.H.ID, it.H.I)
	if err != nil {
		return item.Item{}, err
	}
	ikey, err := keycodec.EncodeIKey(t.name, it.H.I)
	if err != nil {
		return item.Item{}, err
	}
	vkey, err := keycodec.EncodeVKey(t.name, it.H.V)
	if err != nil {
		return item.Item{}, err
	}
	headkey, err := keycodec.EncodeHeadKey(t.name, it.H.ID, it.H.V)
	if err != nil {
		return item.Item{}, err
	}
	headval, err := keycodec.EncodeHeadValue(it.H.C, it.H.I)
	if err != nil {
		return item.Item{}, err
	}

	data, err := item.Marshal(it)
	if err != nil {
		return item.Item{}, err
	}
	compressed, err := kvstore.CompressValue(data)
	if err != nil {
		return item.Item{}, err
	}

	kvs := []kvstore.KV{
		{Key: dskey, Value: compressed},
		{Key: ikey, Value: headkey},
		{Key: vkey, Value: dskey},
		{Key: headkey, Value: headval},
	}
	if err := t.store.DeleteBatch(toDelete); err != nil {
		return item.Item{}, err
	}
	if err := t.store.WriteBatch(kvs); err != nil {
		return item.Item{}, err
	}

	if err := t.enforceOneHead(it.H.ID); err != nil {
		return item.Item{}, err
	}

	return it, nil
}

// enforceOneHead implements spec.md §4.B's head-index update rule: when
// more than one non-deleted, non-conflicting head exists for an id, all
// but the earliest (by insertion order) are re-stored with the conflict
// bit set.
func (t *Tree) enforceOneHead(id []byte) error {
	heads, err := t.headsForID(id)
	if err != nil {
		return err
	}

	type candidate struct {
		head headEntry
		it   item.Item
	}
	var clean []candidate
	for _, h := range heads {
		it, err := t.GetByVersion(h.Version)
		if err != nil {
			return err
		}
		if h.Conflict || it.H.D {
			continue
		}
		clean = append(clean, candidate{head: h, it: it})
	}
	if len(clean) <= 1 {
		return nil
	}

	sort.Slice(clean, func(i, j int) bool { return clean[i].head.I < clean[j].head.I })

	var kvs []kvstore.KV
	for _, c := range clean[1:] {
		c.it.H.C = true
		data, err := item.Marshal(c.it)
		if err != nil {
			return err
		}
		compressed, err := kvstore.CompressValue(data)
		if err != nil {
			return err
		}
		dskey, err := keycodec.EncodeDSKey(t.name, id, c.it.H.I)
		if err != nil {
			return err
		}
		headkey, err := keycodec.EncodeHeadKey(t.name, id, c.head.Version)
		if err != nil {
			return err
		}
		headval, err := keycodec.EncodeHeadValue(true, c.head.I)
		if err != nil {
			return err
		}
		kvs = append(kvs,
			kvstore.KV{Key: dskey, Value: compressed},
			kvstore.KV{Key: headkey, Value: headval},
		)
	}
	return t.store.WriteBatch(kvs)
}

// Del removes an item's dskey, ikey, vkey and headkey entries. Used only
// by the stage tree when promoting entries to local (spec.md §4.B).
func (t *Tree) Del(it item.Item) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	dskey, err := keycodec.EncodeDSKey(t.name, it.H.ID, it.H.I)
	if err != nil {
		return err
	}
	ikey, err := keycodec.EncodeIKey(t.name, it.H.I)
	if err != nil {
		return err
	}
	vkey, err := keycodec.EncodeVKey(t.name, it.H.V)
	if err != nil {
		return err
	}
	headkey, err := keycodec.EncodeHeadKey(t.name, it.H.ID, it.H.V)
	if err != nil {
		return err
	}
	return t.store.DeleteBatch([][]byte{dskey, ikey, vkey, headkey})
}

// LastByPerspective returns the version of the most recently inserted
// item in this tree whose provenance links to remotePE (spec.md §4.B),
// used as a replication watermark.
func (t *Tree) LastByPerspective(remotePE item.Perspective) (item.Version, bool, error) {
	var found item.Version
	ok := false
	err := t.iterateInsertionOrderReverse(IterOpts{}, func(it item.Item) error {
		if origin, has := it.OriginPerspective(); has && origin == remotePE {
			found = it.H.V
			ok = true
			return errStopIteration
		}
		return nil
	})
	if err != nil && err != errStopIteration {
		return nil, false, err
	}
	return found, ok, nil
}
