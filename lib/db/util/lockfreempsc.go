package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// qnode is a link of the queue. The head always points at a consumed (or sentinel) node.
type qnode[T any] struct {
	value T
	next  atomic.Pointer[qnode[T]]
}

// LockFreeMPSC is an unbounded multi-producer single-consumer queue.
//
// Producers append with a CAS on the tail link and never block. A single internal
// goroutine moves items to the channel returned by Recv. Ordering between
// concurrent producers is the order in which their CAS succeeded.
//
// Thread-safety: Push and Close may be called from any goroutine. Recv must have
// exactly one reader.
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[qnode[T]]
	tail   atomic.Pointer[qnode[T]]
	out    chan T
	closed atomic.Bool
	done   sync.WaitGroup

	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates the queue and starts its forwarding goroutine.
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	q := &LockFreeMPSC[T]{out: make(chan T)}
	q.cond = sync.NewCond(&q.mu)
	sentinel := &qnode[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.done.Add(1)
	go q.forward()
	return q
}

// Push appends v. It returns false once the queue is closed.
func (q *LockFreeMPSC[T]) Push(v T) bool {
	if q.closed.Load() {
		return false
	}
	n := &qnode[T]{value: v}
	spins := 0
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(tail, n)
				q.wake()
				return true
			}
		} else {
			// another producer linked a node but has not moved the tail yet
			q.tail.CompareAndSwap(tail, next)
		}
		if spins < 10 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// wake signals the forwarder while holding the mutex so the signal cannot slip in
// between its emptiness check and Wait.
func (q *LockFreeMPSC[T]) wake() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *LockFreeMPSC[T]) forward() {
	defer q.done.Done()
	defer close(q.out)

	var zero T
	for {
		head := q.head.Load()
		next := head.next.Load()
		if next != nil {
			v := next.value
			q.head.Store(next)
			next.value = zero
			q.out <- v
			continue
		}
		if q.closed.Load() {
			return
		}
		q.mu.Lock()
		for q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// Recv returns the channel delivering queued items. It is closed after Close once
// every pending item was delivered.
func (q *LockFreeMPSC[T]) Recv() <-chan T {
	return q.out
}

// Close stops accepting items. Already queued items are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.wake()
}

// IsClosed reports whether Close was called.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len counts pending items. O(n), meant for diagnostics.
func (q *LockFreeMPSC[T]) Len() int {
	n := 0
	for cur := q.head.Load().next.Load(); cur != nil; cur = cur.next.Load() {
		n++
	}
	return n
}
