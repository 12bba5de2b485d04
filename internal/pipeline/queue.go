// Package pipeline provides the bounded queues that connect the capture,
// inference and upload workers. Queues are FIFO; when full, the oldest
// element is evicted and counted, never silently discarded. Freshness wins
// over completeness.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is a bounded FIFO with a drop-oldest overflow policy.
type Queue[T any] struct {
	ch      chan T
	pushed  atomic.Uint64
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Push enqueues v without blocking. If the queue is full, the oldest queued
// element is evicted to make room; if the queue is closed, v itself is
// discarded. Both losses are counted. Returns true when an older element
// was evicted.
func (q *Queue[T]) Push(v T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.pushed.Add(1)
		q.dropped.Add(1)
		return false
	}

	q.pushed.Add(1)
	evicted := false
	for {
		select {
		case q.ch <- v:
			return evicted
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
			evicted = true
		default:
		}
	}
}

// Pop blocks until an element is available, the queue is closed and drained,
// or ctx is cancelled. The second return value is false in the latter two
// cases.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	var zero T
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, false
		}
		return v, true
	case <-ctx.Done():
		return zero, false
	}
}

// TryPop returns immediately; ok is false when the queue is empty or closed.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, false
		}
		return v, true
	default:
		return zero, false
	}
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Pushed returns the total number of elements ever pushed.
func (q *Queue[T]) Pushed() uint64 {
	return q.pushed.Load()
}

// Dropped returns the total number of elements lost: evicted under
// backpressure or rejected after Close.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops further pushes. Queued elements remain poppable until drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
