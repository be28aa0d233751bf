// Package collaborator defines the external contracts spec.md §1 places
// out of scope: the plain (unversioned) document store synced from each
// new local head, and the confirmation sink for engine-generated merges.
// Nothing in this package touches the DAG itself; it exists only so
// pkg/writer and pkg/mergetree can depend on interfaces instead of a
// concrete store or transport implementation.
package collaborator

import (
	"context"

	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/oplog"
)

// PlainStore is the companion unversioned collection a new local head is
// synced to (spec.md §4.E step 11). Implementations are expected to key
// on the document id and ignore DAG bookkeeping entirely.
type PlainStore interface {
	// Upsert replaces the plain document for id with body.
	Upsert(ctx context.Context, id []byte, body map[string]interface{}) error
	// Delete removes the plain document for id, called when the new
	// local head is a deletion tombstone.
	Delete(ctx context.Context, id []byte) error
}

// MergeHandler is the confirmation sink spec.md §4.G calls with each
// merge pkg/mergetree.MergeTree.MergeWithLocal stages. Go's explicit
// error return stands in for the spec's continuation-style
// "mergeHandler(merged, previousLocalHead, next)" callback: returning
// nil is the caller proceeding past next(), returning an error aborts
// confirmation for that merge (it remains staged with h.c left clear,
// eligible for confirmation again on a later LocalWriteStream write).
type MergeHandler interface {
	HandleMerge(ctx context.Context, merged, previousLocalHead item.Item) error
}

// MergeHandlerFunc adapts a plain function to MergeHandler.
type MergeHandlerFunc func(ctx context.Context, merged, previousLocalHead item.Item) error

// HandleMerge implements MergeHandler.
func (f MergeHandlerFunc) HandleMerge(ctx context.Context, merged, previousLocalHead item.Item) error {
	return f(ctx, merged, previousLocalHead)
}

// OplogSource is the shape of the change-log tailer spec.md §1 places
// out of scope; pkg/writer only consumes the oplog.Entry values it
// produces, never the tailing mechanism itself.
type OplogSource interface {
	Next(ctx context.Context) (entry oplog.Entry, ok bool, err error)
}
