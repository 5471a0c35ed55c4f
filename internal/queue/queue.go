// Package queue provides a small generic FIFO used by the transport layers.
package queue

// FIFO is a slice-backed first-in-first-out queue.
//
// The zero value is ready to use. FIFO is not goroutine safe; callers that
// share a queue across goroutines must provide their own locking.
type FIFO[T any] struct {
	items []T
}

// New creates a FIFO with capacity preallocated for prealloc items.
func New[T any](prealloc int) *FIFO[T] {
	return &FIFO[T]{items: make([]T, 0, prealloc)}
}

// Enqueue adds an item to the tail of the queue.
func (q *FIFO[T]) Enqueue(item T) {
	q.items = append(q.items, item)
}

// Dequeue removes and returns the item at the head of the queue.
// The second return value is false when the queue is empty.
func (q *FIFO[T]) Dequeue() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero // release the reference for the GC
	q.items = q.items[1:]

	return item, true
}

// Peek returns the item at the head of the queue without removing it.
// The second return value is false when the queue is empty.
func (q *FIFO[T]) Peek() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// Drain removes and returns all queued items in FIFO order.
func (q *FIFO[T]) Drain() []T {
	items := q.items
	q.items = nil

	return items
}

// Reset resets the queue to an empty state.
func (q *FIFO[T]) Reset() {
	q.items = nil
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *FIFO[T]) IsEmpty() bool {
	return len(q.items) == 0
}

// Length returns the number of items in the queue.
func (q *FIFO[T]) Length() int {
	return len(q.items)
}
