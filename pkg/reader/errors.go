package reader

import "errors"

// ErrOffsetNotFound is returned when a configured offset version is
// never seen while scanning the full stream at open time (spec.md
// §4.F step 1).
var ErrOffsetNotFound = errors.New("tangle: reader offset not found")
