package oak

import (
	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/oak/internal"
)

type frame struct {
	node *internal.Node
	idx  int
}

// iterator walks the leaves of one root with an explicit path stack. The leaf frame
// is always on top and points at the current entry.
//
// The iterator keeps the root of its transaction at SeekRange time. Later writes of
// the same transaction copy the nodes they touch and are not visible to it.
type iterator struct {
	db      *oakDB
	tx      *tx
	root    internal.Ref
	dir     db.Direction
	start   []byte
	stack   []frame
	started bool
	key     []byte
	value   []byte
	err     error
	closed  bool
}

func (it *iterator) step() int {
	if it.dir == db.Backward {
		return -1
	}
	return 1
}

// edge returns the first index to visit in n when entering it without a start key.
func (it *iterator) edge(n *internal.Node) int {
	if it.dir == db.Backward {
		return n.Len() - 1
	}
	return 0
}

func (it *iterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if it.tx.done {
		it.err = db.ErrTxClosed
		return false
	}

	var err error
	if !it.started {
		it.started = true
		err = it.seek()
	} else if len(it.stack) > 0 {
		it.stack[len(it.stack)-1].idx += it.step()
		err = it.settle()
	}
	if err != nil {
		it.err = err
		it.stack = nil
		return false
	}
	if len(it.stack) == 0 {
		it.key, it.value = nil, nil
		return false
	}
	top := it.stack[len(it.stack)-1]
	it.key, it.value = top.node.Keys[top.idx], top.node.Values[top.idx]
	return true
}

// seek descends to the leaf that holds start (or the edge of the tree if start is nil).
func (it *iterator) seek() error {
	if it.root.IsEmpty() {
		return nil
	}
	n, err := it.db.load(it.root)
	if err != nil {
		return err
	}
	for {
		if n.Kind == internal.KindLeaf {
			idx := it.edge(n)
			if it.start != nil {
				i, found := n.Search(it.start)
				idx = i
				if it.dir == db.Backward && !found {
					idx = i - 1
				}
			}
			it.stack = append(it.stack, frame{node: n, idx: idx})
			return it.settle()
		}
		idx := it.edge(n)
		if it.start != nil {
			idx = n.ChildIndex(it.start)
		}
		it.stack = append(it.stack, frame{node: n, idx: idx})
		if n, err = it.db.load(n.Children[idx]); err != nil {
			return err
		}
	}
}

// settle moves the stack to the next valid leaf position in the iteration direction.
// An empty stack means the iteration is exhausted.
func (it *iterator) settle() error {
	for len(it.stack) > 0 {
		top := it.stack[len(it.stack)-1]
		if top.idx < 0 || top.idx >= top.node.Len() {
			it.stack = it.stack[:len(it.stack)-1]
			if len(it.stack) > 0 {
				it.stack[len(it.stack)-1].idx += it.step()
			}
			continue
		}
		if top.node.Kind == internal.KindLeaf {
			return nil
		}
		child, err := it.db.load(top.node.Children[top.idx])
		if err != nil {
			return err
		}
		it.stack = append(it.stack, frame{node: child, idx: it.edge(child)})
	}
	return nil
}

func (it *iterator) Key() []byte   { return it.key }
func (it *iterator) Value() []byte { return it.value }
func (it *iterator) Err() error    { return it.err }

func (it *iterator) Close() error {
	it.closed = true
	it.stack = nil
	return nil
}
