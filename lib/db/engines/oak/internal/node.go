package internal

import (
	"bytes"
	"slices"
	"sort"
)

// Kind tags the node variant.
type Kind uint8

const (
	KindLeaf Kind = iota
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Location addresses a record inside the segment collection. Segment ids start at 1,
// so the zero Location means "not written yet".
type Location struct {
	Segment uint32
	Offset  uint64
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Segment == 0
}

// Ref points at a subtree.
//
// A persisted subtree has Loc and Size set. A subtree created by the running write
// transaction has a zero Loc and carries the node in Node. Count is the number of keys
// below the reference.
type Ref struct {
	Loc   Location
	Size  uint32
	Count uint64
	Node  *Node
}

// IsEmpty reports whether the reference denotes the empty tree.
func (r Ref) IsEmpty() bool {
	return r.Loc.IsZero() && r.Node == nil
}

// IsDirty reports whether the subtree root still has to be written.
func (r Ref) IsDirty() bool {
	return r.Loc.IsZero() && r.Node != nil
}

// Node is either a leaf holding sorted entries or an internal node holding the
// minimum key of every child subtree next to the child reference.
//
// Nodes reachable from a published snapshot are immutable. A node whose Owner equals
// the id of the running write transaction was created by it and may be changed in place.
type Node struct {
	Kind     Kind
	Level    uint8
	Keys     [][]byte
	Values   [][]byte
	Children []Ref
	Owner    uint64
}

// NewLeaf creates an empty leaf owned by owner.
func NewLeaf(owner uint64) *Node {
	return &Node{Kind: KindLeaf, Owner: owner}
}

// Len is the number of entries (leaf) or children (internal).
func (n *Node) Len() int {
	return len(n.Keys)
}

// MinKey returns the smallest key below the node.
func (n *Node) MinKey() []byte {
	if len(n.Keys) == 0 {
		return nil
	}
	return n.Keys[0]
}

// Count returns the number of keys below the node.
func (n *Node) Count() uint64 {
	if n.Kind == KindLeaf {
		return uint64(len(n.Keys))
	}
	var c uint64
	for _, ch := range n.Children {
		c += ch.Count
	}
	return c
}

// ByteSize estimates the encoded size of the node.
func (n *Node) ByteSize() int {
	size := 4
	for i, k := range n.Keys {
		size += len(k) + 2
		if n.Kind == KindLeaf {
			size += len(n.Values[i]) + 2
		} else {
			size += 20
		}
	}
	return size
}

// entrySize is the contribution of entry i to ByteSize.
func (n *Node) entrySize(i int) int {
	if n.Kind == KindLeaf {
		return len(n.Keys[i]) + len(n.Values[i]) + 4
	}
	return len(n.Keys[i]) + 22
}

// Clone returns a shallow copy owned by owner. Key and value slices are shared,
// they are never modified in place.
func (n *Node) Clone(owner uint64) *Node {
	c := &Node{Kind: n.Kind, Level: n.Level, Owner: owner}
	c.Keys = slices.Clone(n.Keys)
	if n.Kind == KindLeaf {
		c.Values = slices.Clone(n.Values)
	} else {
		c.Children = slices.Clone(n.Children)
	}
	return c
}

// Search returns the position of key in a leaf and whether it is present. If absent
// the position is where key would be inserted.
func (n *Node) Search(key []byte) (int, bool) {
	i := sort.Search(len(n.Keys), func(i int) bool {
		return bytes.Compare(n.Keys[i], key) >= 0
	})
	return i, i < len(n.Keys) && bytes.Equal(n.Keys[i], key)
}

// ChildIndex returns the child of an internal node whose key range contains key:
// the last child with a minimum key <= key, or 0.
func (n *Node) ChildIndex(key []byte) int {
	i := sort.Search(len(n.Keys), func(i int) bool {
		return bytes.Compare(n.Keys[i], key) > 0
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

// SplitPoint returns the index at which the node is divided so that both halves
// carry about the same number of bytes. It is always in [1, Len()-1].
func (n *Node) SplitPoint() int {
	total := 0
	for i := range n.Keys {
		total += n.entrySize(i)
	}
	// internal halves keep at least two children each
	lo, hi := 1, len(n.Keys)-1
	if n.Kind == KindInternal && len(n.Keys) >= 4 {
		lo, hi = 2, len(n.Keys)-2
	}
	acc := 0
	for i := range n.Keys {
		acc += n.entrySize(i)
		if acc >= total/2 {
			return min(max(i+1, lo), hi)
		}
	}
	return len(n.Keys) / 2
}

// Split moves the entries from index at onwards into a new sibling owned by owner.
func (n *Node) Split(at int, owner uint64) *Node {
	right := &Node{Kind: n.Kind, Level: n.Level, Owner: owner}
	right.Keys = slices.Clone(n.Keys[at:])
	n.Keys = slices.Clip(n.Keys[:at])
	if n.Kind == KindLeaf {
		right.Values = slices.Clone(n.Values[at:])
		n.Values = slices.Clip(n.Values[:at])
	} else {
		right.Children = slices.Clone(n.Children[at:])
		n.Children = slices.Clip(n.Children[:at])
	}
	return right
}

// Concat returns a node owned by owner holding the entries of left followed by those
// of right. Both must be of the same kind and level.
func Concat(left, right *Node, owner uint64) *Node {
	c := &Node{Kind: left.Kind, Level: left.Level, Owner: owner}
	c.Keys = append(slices.Clone(left.Keys), right.Keys...)
	if left.Kind == KindLeaf {
		c.Values = append(slices.Clone(left.Values), right.Values...)
	} else {
		c.Children = append(slices.Clone(left.Children), right.Children...)
	}
	return c
}
