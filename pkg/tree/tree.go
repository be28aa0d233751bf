// Package tree implements the per-perspective durable append-only DAG
// with indices described by spec.md §4.B: write, lookup by version, head
// enumeration, insertion-order iteration, and a read stream that ends
// once the snapshot is exhausted.
package tree

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tangledb/tangle/internal/kvstore"
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/keycodec"
)

// Tree is one named DAG: a remote perspective tree, the local tree, or
// the stage tree, all backed by the same kvstore.Store under a distinct
// name prefix.
type Tree struct {
	name  string
	store *kvstore.Store
	log   *logrus.Logger

	mu      sync.Mutex
	counter uint64
}

// Open recovers a Tree's insertion counter from the highest existing
// ikey and returns a ready-to-use handle.
func Open(store *kvstore.Store, name string, log *logrus.Logger) (*Tree, error) {
	if log == nil {
		log = logrus.New()
	}
	t := &Tree{name: name, store: store, log: log}

	prefix, err := keycodec.IKeyPrefix(name)
	if err != nil {
		return nil, err
	}
	entries, err := store.ScanPrefixReverse(prefix)
	if err != nil {
		return nil, fmt.Errorf("tangle: recovering tree %q counter: %w", name, err)
	}
	if len(entries) > 0 {
		i, err := keycodec.DecodeIKey(name, entries[0].Key)
		if err != nil {
			return nil, err
		}
		t.counter = i + 1
	}
	return t, nil
}

// Name returns the tree's key-space name.
func (t *Tree) Name() string { return t.name }

func (t *Tree) nextIndex() uint64 {
	i := t.counter
	t.counter++
	return i
}

func validate(it item.Item) error {
	if len(it.H.ID) == 0 {
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	if it.H.PE == "" {
		return fmt.Errorf("%w: empty perspective", ErrInvalidItem)
	}
	if len(it.H.PE) > item.MaxPerspectiveLen {
		return fmt.Errorf("%w: perspective name too long", ErrInvalidItem)
	}
	if it.IsMerge() {
		seen := make(map[string]bool, len(it.H.PA))
		for _, p := range it.H.PA {
			key := string(p)
			if seen[key] {
				return fmt.Errorf("%w: duplicate parent in merge", ErrInvalidItem)
			}
			seen[key] = true
		}
	}
	return nil
}

// GetByVersion looks up an item via its vkey. Returns ErrNotFound if
// absent.
func (t *Tree) GetByVersion(v item.Version) (item.Item, error) {
	vkey, err := keycodec.EncodeVKey(t.name, v)
	if err != nil {
		return item.Item{}, err
	}
	dskey, err := t.store.Get(vkey)
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return item.Item{}, ErrNotFound
		}
		return item.Item{}, err
	}
	raw, err := t.store.Get(dskey)
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return item.Item{}, ErrNotFound
		}
		return item.Item{}, err
	}
	data, err := kvstore.DecompressValue(raw)
	if err != nil {
		return item.Item{}, err
	}
	return item.Unmarshal(data)
}

// headEntry is the decoded form of one headkey entry.
type headEntry struct {
	Version  item.Version
	Conflict bool
	I        uint64
}

func (t *Tree) headsForID(id []byte) (map[string]headEntry, error) {
	prefix, err := keycodec.EncodeHeadPrefix(t.name, id)
	if err != nil {
		return nil, err
	}
	entries, err := t.store.ScanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]headEntry, len(entries))
	for _, e := range entries {
		_, version, err := keycodec.DecodeHeadKey(t.name, e.Key)
		if err != nil {
			return nil, err
		}
		conflict, i, err := keycodec.DecodeHeadValue(e.Value)
		if err != nil {
			return nil, err
		}
		out[string(version)] = headEntry{Version: version, Conflict: conflict, I: i}
	}
	return out, nil
}

// GetHeadsOpts configures GetHeads.
type GetHeadsOpts struct {
	ID            []byte
	SkipDeletes   bool
	SkipConflicts bool
}

// GetHeads enumerates the head entries of one id (or every id if ID is
// empty, by falling back to a full ikey scan) and calls iter for each
// matching item.
func (t *Tree) GetHeads(opts GetHeadsOpts, iter func(item.Item) error) error {
	if len(opts.ID) == 0 {
		return t.getAllHeads(opts, iter)
	}
	heads, err := t.headsForID(opts.ID)
	if err != nil {
		return err
	}
	versions := make([]string, 0, len(heads))
	for k := range heads {
		versions = append(versions, k)
	}
	sort.Strings(versions)

	for _, k := range versions {
		h := heads[k]
		if opts.SkipConflicts && h.Conflict {
			continue
		}
		it, err := t.GetByVersion(h.Version)
		if err != nil {
			return err
		}
		if opts.SkipDeletes && it.H.D {
			continue
		}
		if err := iter(it); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) getAllHeads(opts GetHeadsOpts, iter func(item.Item) error) error {
	seen := make(map[string]bool)
	return t.IterateInsertionOrder(IterOpts{}, func(it item.Item) error {
		key := string(it.H.ID)
		if seen[key] {
			return nil
		}
		seen[key] = true
		return t.GetHeads(GetHeadsOpts{ID: it.H.ID, SkipDeletes: opts.SkipDeletes, SkipConflicts: opts.SkipConflicts}, iter)
	})
}
