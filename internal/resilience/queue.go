package resilience

import "context"

// BoundedQueue is a fixed-capacity, back-pressured FIFO. Enqueue blocks
// until space is available or the context is cancelled; items are never
// dropped by the queue itself (drop is forbidden per spec.md §4.3 — only
// the consumer's own retry/dead-letter policy may give up on an item).
type BoundedQueue[T any] struct {
	ch chan T
}

// NewBoundedQueue creates a queue with the given capacity.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	return &BoundedQueue[T]{ch: make(chan T, capacity)}
}

// Enqueue blocks while the queue is full.
func (q *BoundedQueue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until an item is available, the queue is closed, or ctx
// is cancelled.
func (q *BoundedQueue[T]) Dequeue(ctx context.Context) (T, bool) {
	var zero T
	select {
	case item, ok := <-q.ch:
		return item, ok
	case <-ctx.Done():
		return zero, false
	}
}

// Len reports the number of items currently queued.
func (q *BoundedQueue[T]) Len() int { return len(q.ch) }

// Close closes the underlying channel; Dequeue callers observe ok=false
// once drained.
func (q *BoundedQueue[T]) Close() { close(q.ch) }
