// Package oplog models the change-log records pkg/writer consumes from
// the companion plain document store (spec.md §6.3). Tailing the oplog
// itself is an external collaborator's job; this package only describes
// the shape of one entry and the pure translation rules spec.md §6.3
// specifies.
package oplog

import (
	"errors"
	"time"
)

// Op is one of the three recognized oplog operations.
type Op string

const (
	OpInsert Op = "i"
	OpUpdate Op = "u"
	OpDelete Op = "d"
)

// ErrUnknownOp is returned for any Op outside {i,u,d} (spec.md §6.3
// "Unknown op is rejected").
var ErrUnknownOp = errors.New("tangle: unknown oplog op")

// Entry is one oplog record: {op, ns, ts, o, o2?} per spec.md §6.3.
type Entry struct {
	Op Op
	NS string
	TS time.Time
	// O is the inserted/replacement document for i/u, or the modifier
	// document ({"$set": ...}) for a modifier update.
	O map[string]interface{}
	// O2 is the query selector identifying the target document for u/d,
	// typically {"_id": ...}. Unused for i.
	O2 map[string]interface{}
}

// ID extracts the document id the entry targets: O2["_id"] for update
// and delete, O["_id"] for insert.
func (e Entry) ID() ([]byte, error) {
	var raw interface{}
	switch e.Op {
	case OpInsert:
		raw = e.O["_id"]
	case OpUpdate, OpDelete:
		raw = e.O2["_id"]
	default:
		return nil, ErrUnknownOp
	}
	return idBytes(raw)
}

func idBytes(raw interface{}) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, errors.New("tangle: oplog entry missing _id")
	default:
		return nil, errors.New("tangle: oplog entry _id of unsupported type")
	}
}

// IsModifierUpdate reports whether every top-level key of O is
// $-prefixed, the shape spec.md §6.3 calls a "modifier update" as
// opposed to a full-document replace.
func (e Entry) IsModifierUpdate() bool {
	if e.Op != OpUpdate || len(e.O) == 0 {
		return false
	}
	for k := range e.O {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return true
}

// Validate rejects any Op outside {i,u,d} (spec.md §6.3).
func (e Entry) Validate() error {
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
		return nil
	default:
		return ErrUnknownOp
	}
}
