// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package thread

import (
	"context"
	"errors"
	"math"
	"sync"
)

// ErrQueueFull is returned by Put on a bounded queue that is at capacity.
var ErrQueueFull = errors.New("thread: queue full")

// Queue is a FIFO queue safe for concurrent use. Get blocks until an item is available,
// Put never blocks: on a bounded queue it fails fast with ErrQueueFull.
type Queue[T any] struct {
	maxLen int
	mu     sync.Mutex
	items  []T
	fill   *Semaphore // one unit per item in the queue
}

// NewQueue returns a queue holding at most maxLen items, 0 means unbounded.
func NewQueue[T any](maxLen int) *Queue[T] {
	max := int64(math.MaxInt64)
	if maxLen > 0 {
		max = int64(maxLen)
	}
	return &Queue[T]{maxLen: maxLen, fill: NewSemaphore(max, 0)}
}

// Put appends an item to the tail of the queue and wakes up one blocked Get.
func (q *Queue[T]) Put(item T) error {
	q.mu.Lock()
	if q.maxLen > 0 && len(q.items) >= q.maxLen {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	return q.fill.Release(1)
}

// Get removes and returns the head of the queue, blocking until there is one or ctx is done.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	if err := q.fill.Acquire(ctx, 1); err != nil {
		var zero T
		return zero, err
	}
	return q.pop(), nil
}

// TryGet removes and returns the head of the queue if there is one. It never blocks and
// an empty queue is not an error, ok is simply false.
func (q *Queue[T]) TryGet() (item T, ok bool) {
	if !q.fill.TryAcquire(1) {
		return item, false
	}
	return q.pop(), true
}

// pop must only be called after taking a unit from q.fill, which guarantees an item.
func (q *Queue[T]) pop() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item
}

// Head returns the item at the head of the queue without removing it.
func (q *Queue[T]) Head() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, false
	}
	return q.items[0], true
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
