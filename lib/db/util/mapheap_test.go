package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapHeapOrder(t *testing.T) {
	h := NewMapHeap[uint32]()
	h.Upsert(3, 700)
	h.Upsert(1, 200)
	h.Upsert(2, 200)
	h.Upsert(4, 50)

	var keys []uint32
	for h.Len() > 0 {
		it, ok := h.PopMin()
		require.True(t, ok)
		keys = append(keys, it.Key)
	}
	require.Equal(t, []uint32{4, 1, 2, 3}, keys)

	_, ok := h.PopMin()
	require.False(t, ok)
}

func TestMapHeapUpsertAndRemove(t *testing.T) {
	h := NewMapHeap[uint32]()
	for i := uint32(1); i <= 10; i++ {
		h.Upsert(i, uint64(100-i))
	}
	top, _ := h.Peek()
	require.Equal(t, uint32(10), top.Key)

	// lowering an existing key moves it to the front
	h.Upsert(5, 1)
	top, _ = h.Peek()
	require.Equal(t, uint32(5), top.Key)
	require.Equal(t, 10, h.Len())

	prio, ok := h.Remove(5)
	require.True(t, ok)
	require.Equal(t, uint64(1), prio)
	require.False(t, h.Contains(5))
	_, ok = h.Remove(5)
	require.False(t, ok)

	top, _ = h.Peek()
	require.Equal(t, uint32(10), top.Key)
}
