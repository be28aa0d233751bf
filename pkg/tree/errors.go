package tree

import "errors"

var (
	// ErrInvalidItem is returned by Write when the item header fails
	// basic validation (spec.md §4.B).
	ErrInvalidItem = errors.New("tangle: invalid item")
	// ErrNotFound is returned by lookups that find nothing.
	ErrNotFound = errors.New("tangle: item not found")
	// ErrParentNotFound is returned when a write references a parent
	// version that does not exist in this tree.
	ErrParentNotFound = errors.New("tangle: parent version not found")
	// ErrAmbiguousHeads is returned by SingleHead when an id has more
	// than one non-deleted, non-conflicting head (spec.md §7).
	ErrAmbiguousHeads = errors.New("tangle: ambiguous heads")
)
