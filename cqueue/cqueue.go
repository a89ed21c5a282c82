// Package cqueue implements a concurrent blocking FIFO queue with an explicit
// close signal that wakes all blocked consumers.
//
// It is the task-handoff primitive between dispatching threads (producers)
// and worker pools (consumers): Push never blocks, Pop blocks until an item
// is available or the queue is closed, and Close is idempotent and wakes
// every goroutine currently blocked in Pop.
package cqueue

import "sync"

// Queue is a thread-safe FIFO of items of type T.
//
// The zero value is not usable, create one with New.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// New creates an empty Queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item to the queue and wakes one blocked consumer, if any.
// It never blocks. It returns false if the queue has already been closed, in
// which case the item is dropped.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// Pop removes and returns the oldest item in the queue, blocking while the
// queue is empty. Once the queue is closed and drained, Pop returns the zero
// value of T and false.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return item, false
		}
		q.cond.Wait()
	}
	item = q.items[0]
	// Clear the reference so the backing array doesn't pin the popped item.
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Close marks the queue as closed and wakes all blocked consumers.
// Pushes after Close are rejected; items already queued can still be drained
// by Pop. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
