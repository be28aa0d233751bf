package lca

import "errors"

// ErrNoLCA is returned by callers (pkg/writer) when Search finds no
// common ancestor and the deletion-reconnect rule does not apply
// (spec.md §7).
var ErrNoLCA = errors.New("tangle: no lowest common ancestor found")
