package oak

import (
	"slices"

	"github.com/ValentinKolb/sKV/lib/db/engines/oak/internal"
)

// The tree is a B+tree: leaves hold the sorted entries, internal nodes hold for every
// child the minimum key of its subtree. All modifications copy the path from the root
// to the touched leaf; untouched subtrees are shared with older snapshots. Nodes
// already copied by the running write transaction (Owner == tx owner id) are changed in
// place. A transaction takes a new owner id when an iterator starts sharing its nodes.

func dirtyRef(n *internal.Node) internal.Ref {
	return internal.Ref{Node: n, Count: n.Count()}
}

// own returns n itself if owner created it, otherwise a private copy.
func own(n *internal.Node, owner uint64) *internal.Node {
	if n.Owner == owner {
		return n
	}
	return n.Clone(owner)
}

func (s *oakDB) overflows(n *internal.Node) bool {
	if n.Kind == internal.KindLeaf {
		return n.Len() > s.opts.MaxLeafEntries || (n.Len() >= 2 && n.ByteSize() > s.opts.MaxNodeBytes)
	}
	return n.Len() > s.opts.MaxInternalChildren || (n.Len() >= 4 && n.ByteSize() > s.opts.MaxNodeBytes)
}

func (s *oakDB) underflows(n *internal.Node) bool {
	if n.Kind == internal.KindLeaf {
		return n.Len() < s.opts.minLeafEntries()
	}
	return n.Len() < s.opts.minInternalChildren()
}

// --------------------------------------------------------------------------
// Lookup
// --------------------------------------------------------------------------

func (s *oakDB) get(root internal.Ref, key []byte) ([]byte, bool, error) {
	if root.IsEmpty() {
		return nil, false, nil
	}
	n, err := s.load(root)
	if err != nil {
		return nil, false, err
	}
	for n.Kind == internal.KindInternal {
		if n, err = s.load(n.Children[n.ChildIndex(key)]); err != nil {
			return nil, false, err
		}
	}
	i, ok := n.Search(key)
	if !ok {
		return nil, false, nil
	}
	return n.Values[i], true, nil
}

// --------------------------------------------------------------------------
// Insert
// --------------------------------------------------------------------------

// insert stores key/value below root and returns the new root.
func (s *oakDB) insert(root internal.Ref, key, value []byte, owner uint64) (internal.Ref, error) {
	if root.IsEmpty() {
		leaf := internal.NewLeaf(owner)
		leaf.Keys = [][]byte{key}
		leaf.Values = [][]byte{value}
		return dirtyRef(leaf), nil
	}
	left, right, err := s.insertAt(root, key, value, owner)
	if err != nil {
		return root, err
	}
	if right == nil {
		return dirtyRef(left), nil
	}
	parent := &internal.Node{
		Kind:     internal.KindInternal,
		Level:    left.Level + 1,
		Owner:    owner,
		Keys:     [][]byte{left.MinKey(), right.MinKey()},
		Children: []internal.Ref{dirtyRef(left), dirtyRef(right)},
	}
	return dirtyRef(parent), nil
}

// insertAt returns the modified node and, if it had to be split, its new right sibling.
func (s *oakDB) insertAt(ref internal.Ref, key, value []byte, owner uint64) (*internal.Node, *internal.Node, error) {
	cur, err := s.load(ref)
	if err != nil {
		return nil, nil, err
	}
	n := own(cur, owner)

	if n.Kind == internal.KindLeaf {
		if i, found := n.Search(key); found {
			n.Values[i] = value
		} else {
			n.Keys = slices.Insert(n.Keys, i, key)
			n.Values = slices.Insert(n.Values, i, value)
		}
	} else {
		i := n.ChildIndex(key)
		left, right, err := s.insertAt(n.Children[i], key, value, owner)
		if err != nil {
			return nil, nil, err
		}
		n.Children[i] = dirtyRef(left)
		n.Keys[i] = left.MinKey()
		if right != nil {
			n.Keys = slices.Insert(n.Keys, i+1, right.MinKey())
			n.Children = slices.Insert(n.Children, i+1, dirtyRef(right))
		}
	}

	if s.overflows(n) {
		return n, n.Split(n.SplitPoint(), owner), nil
	}
	return n, nil, nil
}

// --------------------------------------------------------------------------
// Delete
// --------------------------------------------------------------------------

// remove deletes key below root. If the key is absent root is returned unchanged.
func (s *oakDB) remove(root internal.Ref, key []byte, owner uint64) (internal.Ref, bool, error) {
	if root.IsEmpty() {
		return root, false, nil
	}
	n, found, err := s.removeAt(root, key, owner)
	if err != nil || !found {
		return root, false, err
	}

	ref := dirtyRef(n)
	for n.Kind == internal.KindInternal && n.Len() == 1 {
		ref = n.Children[0]
		if n, err = s.load(ref); err != nil {
			return root, false, err
		}
	}
	if n.Kind == internal.KindLeaf && n.Len() == 0 {
		return internal.Ref{}, true, nil
	}
	return ref, true, nil
}

func (s *oakDB) removeAt(ref internal.Ref, key []byte, owner uint64) (*internal.Node, bool, error) {
	cur, err := s.load(ref)
	if err != nil {
		return nil, false, err
	}

	if cur.Kind == internal.KindLeaf {
		i, found := cur.Search(key)
		if !found {
			return cur, false, nil
		}
		n := own(cur, owner)
		n.Keys = slices.Delete(n.Keys, i, i+1)
		n.Values = slices.Delete(n.Values, i, i+1)
		return n, true, nil
	}

	i := cur.ChildIndex(key)
	child, found, err := s.removeAt(cur.Children[i], key, owner)
	if err != nil || !found {
		return cur, false, err
	}
	n := own(cur, owner)
	if child.Len() == 0 && n.Len() > 1 {
		n.Keys = slices.Delete(n.Keys, i, i+1)
		n.Children = slices.Delete(n.Children, i, i+1)
		return n, true, nil
	}
	n.Children[i] = dirtyRef(child)
	if child.Len() > 0 {
		n.Keys[i] = child.MinKey()
	}
	if s.underflows(child) && n.Len() > 1 {
		if err := s.rebalance(n, i, owner); err != nil {
			return nil, false, err
		}
	}
	return n, true, nil
}

// rebalance merges child i of n with a neighbour, or redistributes the entries of both
// if they do not fit into one node.
func (s *oakDB) rebalance(n *internal.Node, i int, owner uint64) error {
	j := i + 1
	if j >= n.Len() {
		j = i - 1
	}
	l, r := min(i, j), max(i, j)
	left, err := s.load(n.Children[l])
	if err != nil {
		return err
	}
	right, err := s.load(n.Children[r])
	if err != nil {
		return err
	}

	merged := internal.Concat(left, right, owner)
	if merged.Len() == 0 {
		n.Keys = slices.Delete(n.Keys, l, r+1)
		n.Children = slices.Delete(n.Children, l, r+1)
		return nil
	}
	if !s.overflows(merged) {
		n.Children[l] = dirtyRef(merged)
		n.Keys[l] = merged.MinKey()
		n.Keys = slices.Delete(n.Keys, r, r+1)
		n.Children = slices.Delete(n.Children, r, r+1)
		return nil
	}
	sibling := merged.Split(merged.SplitPoint(), owner)
	n.Children[l], n.Keys[l] = dirtyRef(merged), merged.MinKey()
	n.Children[r], n.Keys[r] = dirtyRef(sibling), sibling.MinKey()
	return nil
}
