package tree

import "github.com/tangledb/tangle/pkg/item"

// StreamOpts configures CreateReadStream.
type StreamOpts struct {
	ID      []byte
	Reverse bool
}

// Stream is a bounded channel of items pulled from a tree's insertion
// order.
type Stream struct {
	items  chan item.Item
	errc   chan error
	done   chan struct{}
	closed bool
}

// Items returns the channel of emitted items, closed when the stream
// finishes or is closed.
func (s *Stream) Items() <-chan item.Item { return s.items }

// Err returns the terminal error, if any, after Items is drained.
func (s *Stream) Err() error {
	select {
	case err := <-s.errc:
		return err
	default:
		return nil
	}
}

// Close stops the stream; safe to call multiple times.
func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// CreateReadStream walks the tree's insertion order (optionally scoped
// to one id, optionally reversed) and emits items on a channel until
// exhausted or closed (spec.md §4.B).
func (t *Tree) CreateReadStream(opts StreamOpts) *Stream {
	s := &Stream{
		items: make(chan item.Item, 64),
		errc:  make(chan error, 1),
		done:  make(chan struct{}),
	}

	walk := t.IterateInsertionOrder
	if opts.Reverse {
		walk = t.iterateInsertionOrderReverse
	}

	go func() {
		defer close(s.items)
		err := walk(IterOpts{ID: opts.ID}, func(it item.Item) error {
			select {
			case <-s.done:
				return errStopIteration
			case s.items <- it:
				return nil
			}
		})
		if err != nil && err != errStopIteration {
			s.errc <- err
		}
	}()

	return s
}
