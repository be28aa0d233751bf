package writer

import "errors"

var (
	// ErrPerspectiveMismatch is returned when a batch mixes perspectives,
	// or a remote write targets a reserved perspective name (spec.md §7).
	ErrPerspectiveMismatch = errors.New("tangle: perspective mismatch")
	// ErrRootPreceded is returned when a new root is submitted for an id
	// whose current tail is not a deletion tombstone (spec.md §4.E step 3).
	ErrRootPreceded = errors.New("tangle: root preceded by non-deleted item")
	// ErrUnknownPerspective is returned when WriteRemote targets a
	// perspective the Pipeline was not configured with.
	ErrUnknownPerspective = errors.New("tangle: unknown remote perspective")
)
