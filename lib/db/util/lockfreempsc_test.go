package util

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMPSCDeliversInOrder(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		require.True(t, q.Push(i))
	}
	for i := 0; i < 10; i++ {
		select {
		case v := <-q.Recv():
			require.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for item %d", i)
		}
	}
	select {
	case v := <-q.Recv():
		t.Fatalf("queue should be empty, got %d", v)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestMPSCConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}

	seen := make(map[int]bool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := range q.Recv() {
			seen[v] = true
		}
	}()

	wg.Wait()
	q.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}
	require.Len(t, seen, producers*perProducer)
}

func TestMPSCClose(t *testing.T) {
	q := NewLockFreeMPSC[string]()
	require.True(t, q.Push("pending"))
	q.Close()
	require.True(t, q.IsClosed())
	require.False(t, q.Push("late"))

	v, ok := <-q.Recv()
	require.True(t, ok)
	require.Equal(t, "pending", v)
	_, ok = <-q.Recv()
	require.False(t, ok)
}
