package writer

import (
	"context"

	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/oplog"
	"github.com/tangledb/tangle/pkg/tree"
)

// ApplyOplog implements spec.md §6.3's translation of one oplog entry
// into a local-perspective write: insert and full-document replace carry
// the document straight through; a modifier update is applied against
// the last acked local item as a temporary store; delete produces a
// tombstone child of the last acked local head.
func (p *Pipeline) ApplyOplog(ctx context.Context, e oplog.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	id, err := e.ID()
	if err != nil {
		return err
	}

	switch e.Op {
	case oplog.OpInsert:
		return p.writeLocalItem(ctx, id, nil, e.O, false)

	case oplog.OpDelete:
		last, ok, err := p.lastAckedLocal(id)
		if err != nil {
			return err
		}
		var parents []item.Version
		if ok {
			parents = []item.Version{last.H.V}
		}
		return p.writeLocalItem(ctx, id, parents, nil, true)

	case oplog.OpUpdate:
		last, ok, err := p.lastAckedLocal(id)
		if err != nil {
			return err
		}
		var body map[string]interface{}
		if e.IsModifierUpdate() {
			var base map[string]interface{}
			if ok {
				base = last.B
			}
			body = oplog.ApplyModifiers(base, e.O)
		} else {
			body = e.O
		}
		var parents []item.Version
		if ok {
			parents = []item.Version{last.H.V}
		}
		return p.writeLocalItem(ctx, id, parents, body, false)

	default:
		return oplog.ErrUnknownOp
	}
}

// lastAckedLocal returns the most recently written item of id in the
// local tree with m.ack == true, the "temporary store" spec.md §6.3
// modifier updates apply against.
func (p *Pipeline) lastAckedLocal(id []byte) (item.Item, bool, error) {
	var found item.Item
	ok := false
	err := p.local.IterateInsertionOrder(tree.IterOpts{ID: id}, func(it item.Item) error {
		if it.M.Ack {
			found = it
			ok = true
		}
		return nil
	})
	if err != nil {
		return item.Item{}, false, err
	}
	return found, ok, nil
}

func (p *Pipeline) writeLocalItem(ctx context.Context, id []byte, parents []item.Version, body map[string]interface{}, deleted bool) error {
	// The change already happened in the plain store, so the item is
	// acked from the start and later oplog updates chain off it.
	it := item.Item{
		H: item.Header{ID: id, PA: parents, PE: item.DefaultLocal, D: deleted},
		M: item.Meta{Ack: true},
		B: body,
	}
	v, err := item.ContentVersion(it, p.vSize)
	if err != nil {
		return err
	}
	it.H.V = v
	_, err = p.WriteLocal(ctx, []item.Item{it})
	return err
}
