// Package item defines the DAG node exchanged between peers, persisted by
// a tree, and produced by the writer pipeline and reader.
package item

import "time"

// Perspective labels the origin DAG a node belongs to: one peer's view,
// or one of the two reserved trees (local, stage).
type Perspective string

const (
	// DefaultLocal is the reserved perspective name for the local tree.
	DefaultLocal Perspective = "_local"
	// DefaultStage is the reserved perspective name for the stage tree.
	DefaultStage Perspective = "_stage"

	// MaxPerspectiveLen bounds perspective names (spec.md §3).
	MaxPerspectiveLen = 254

	// MetaOriginPerspective is the Meta.Extra key the writer pipeline sets
	// on a local item cloned or merged from a remote one, recording which
	// remote perspective it last advanced from. Tree.LastByPerspective
	// reads it back as the replication watermark.
	MetaOriginPerspective = "originPerspective"
)

// Header carries the DAG-structural fields of a node (h.* in spec.md §3).
type Header struct {
	ID []byte      `bson:"id"`
	V  Version     `bson:"v,omitempty"`
	PA []Version   `bson:"pa"`
	PE Perspective `bson:"pe"`
	D  bool        `bson:"d"`
	C  bool        `bson:"c"`
	I  uint64      `bson:"i,omitempty"`
}

// Meta carries opaque, writer-managed bookkeeping (m in spec.md §3).
type Meta struct {
	Ack bool      `bson:"ack"`
	Op  time.Time `bson:"op"`
	// Extra holds collaborator-defined bookkeeping, e.g. an oplog cursor.
	Extra map[string]interface{} `bson:"extra,omitempty"`
}

// Item is one DAG node: header, metadata, and document body (b).
type Item struct {
	H Header                 `bson:"h"`
	M Meta                   `bson:"m"`
	B map[string]interface{} `bson:"b"`
}

// IsRoot reports whether the item has no parents.
func (it Item) IsRoot() bool {
	return len(it.H.PA) == 0
}

// IsMerge reports whether the item has two or more parents.
func (it Item) IsMerge() bool {
	return len(it.H.PA) >= 2
}

// HasParent reports whether v is among the item's parent versions.
func (it Item) HasParent(v Version) bool {
	for _, p := range it.H.PA {
		if p.Equal(v) {
			return true
		}
	}
	return false
}

// NormalizeMeta fills in the defaults spec.md §4.E step 2 requires:
// ack=false and op=the zero timestamp, if unset.
func (it *Item) NormalizeMeta() {
	if it.M.Op.IsZero() {
		it.M.Op = time.Time{}
	}
}

// SetOriginPerspective stamps which remote perspective a local item was
// last advanced from.
func (it *Item) SetOriginPerspective(pe Perspective) {
	if it.M.Extra == nil {
		it.M.Extra = make(map[string]interface{})
	}
	it.M.Extra[MetaOriginPerspective] = string(pe)
}

// OriginPerspective returns the perspective SetOriginPerspective last
// stamped, if any.
func (it Item) OriginPerspective() (Perspective, bool) {
	if it.M.Extra == nil {
		return "", false
	}
	v, ok := it.M.Extra[MetaOriginPerspective]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return Perspective(s), true
}
