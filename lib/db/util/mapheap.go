package util

import (
	"cmp"
	"container/heap"
	"fmt"
)

// HeapItem is an entry of a MapHeap.
type HeapItem[K cmp.Ordered] struct {
	Key      K
	Priority uint64
	index    int
}

func (i *HeapItem[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// MapHeap is a min-heap ordered by Priority (ties broken by Key) that also
// allows lookups and removals by key.
//
// Complexity: O(log n) for Upsert, PopMin and Remove, O(1) for Peek and Contains.
//
// Thread-safety: not safe for concurrent use, callers synchronize externally.
type MapHeap[K cmp.Ordered] struct {
	items []*HeapItem[K]
	byKey map[K]*HeapItem[K]
}

// NewMapHeap creates an empty heap.
func NewMapHeap[K cmp.Ordered]() *MapHeap[K] {
	return &MapHeap[K]{byKey: make(map[K]*HeapItem[K])}
}

// --------------------------------------------------------------------------
// heap.Interface
// --------------------------------------------------------------------------

func (h *MapHeap[K]) Len() int { return len(h.items) }

func (h *MapHeap[K]) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Key < b.Key
}

func (h *MapHeap[K]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *MapHeap[K]) Push(x any) {
	it := x.(*HeapItem[K])
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.byKey[it.Key] = it
}

func (h *MapHeap[K]) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	it.index = -1
	delete(h.byKey, it.Key)
	return it
}

// --------------------------------------------------------------------------
// Keyed operations
// --------------------------------------------------------------------------

// Upsert adds key or changes its priority.
func (h *MapHeap[K]) Upsert(key K, priority uint64) {
	if it, ok := h.byKey[key]; ok {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &HeapItem[K]{Key: key, Priority: priority})
}

// PopMin removes and returns the item with the lowest priority.
func (h *MapHeap[K]) PopMin() (*HeapItem[K], bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return heap.Pop(h).(*HeapItem[K]), true
}

// Peek returns the item with the lowest priority without removing it.
func (h *MapHeap[K]) Peek() (*HeapItem[K], bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0], true
}

// Remove deletes key and returns its priority.
func (h *MapHeap[K]) Remove(key K) (uint64, bool) {
	it, ok := h.byKey[key]
	if !ok {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// Contains reports whether key is queued.
func (h *MapHeap[K]) Contains(key K) bool {
	_, ok := h.byKey[key]
	return ok
}
