package mergetree

import "errors"

var (
	// ErrLocalParentsNotAllowed is returned by LocalWriteStream when an
	// application-submitted item sets h.pa: parents on a fresh local
	// write are always chosen by the engine (spec.md §4.G).
	ErrLocalParentsNotAllowed = errors.New("tangle: local write must not set parents")
	// ErrOutOfOrderConfirmation is returned when a localWriteStream
	// confirmation names a version that is not (or is no longer) staged
	// for its id — either unknown or already promoted (spec.md §5 item 4).
	ErrOutOfOrderConfirmation = errors.New("tangle: out of order merge confirmation")
	// ErrUnknownPerspective is returned by MergeWithLocal for a
	// perspective the MergeTree was not configured with.
	ErrUnknownPerspective = errors.New("tangle: unknown remote perspective")
)
