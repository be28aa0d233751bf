package tree

import (
	"errors"

	"github.com/tangledb/tangle/internal/kvstore"
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/keycodec"
)

// errStopIteration is returned by an iter callback to end iteration
// early without it surfacing as an error to the caller.
var errStopIteration = errors.New("tangle: stop iteration")

// IterOpts configures IterateInsertionOrder.
type IterOpts struct {
	ID           []byte // if set, restrict to this document id
	First        *item.Version
	Last         *item.Version
	ExcludeFirst bool
	ExcludeLast  bool
}

// IterateInsertionOrder walks the ikey range in ascending insertion
// order and calls iter for every item, optionally scoped to one id and
// bounded by first/last versions (spec.md §4.B).
func (t *Tree) IterateInsertionOrder(opts IterOpts, iter func(item.Item) error) error {
	return t.walkInsertionOrder(opts, false, iter)
}

func (t *Tree) iterateInsertionOrderReverse(opts IterOpts, iter func(item.Item) error) error {
	return t.walkInsertionOrder(opts, true, iter)
}

func (t *Tree) walkInsertionOrder(opts IterOpts, reverse bool, iter func(item.Item) error) error {
	prefix, err := keycodec.IKeyPrefix(t.name)
	if err != nil {
		return err
	}

	var entries []kvstore.Entry
	if reverse {
		entries, err = t.store.ScanPrefixReverse(prefix)
	} else {
		entries, err = t.store.ScanPrefix(prefix)
	}
	if err != nil {
		return err
	}

	inRange := opts.First == nil
	for _, e := range entries {
		id, version, err := keycodec.DecodeHeadKey(t.name, e.Value)
		if err != nil {
			return err
		}
		if len(opts.ID) > 0 && string(id) != string(opts.ID) {
			continue
		}

		if !inRange {
			if opts.First != nil && string(version) == string(*opts.First) {
				inRange = true
				if opts.ExcludeFirst {
					continue
				}
			} else {
				continue
			}
		}

		it, err := t.GetByVersion(version)
		if err != nil {
			return err
		}

		atLast := opts.Last != nil && string(version) == string(*opts.Last)
		if atLast && opts.ExcludeLast {
			break
		}

		if err := iter(it); err != nil {
			if err == errStopIteration {
				return errStopIteration
			}
			return err
		}

		if atLast {
			break
		}
	}
	return nil
}
