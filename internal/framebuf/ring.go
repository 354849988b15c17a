// Package framebuf is a bounded last-writer-wins buffer between a frame
// producer and a paced consumer. When the buffer is full, publishing
// overwrites the oldest entry instead of blocking the producer.
package framebuf

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1000

type Ring[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int // index of the oldest item
	size   int
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Ring[T]{items: make([]T, capacity)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Publish appends v, overwriting the oldest entry when full. It never
// blocks and is a no-op after Close.
func (r *Ring[T]) Publish(v T) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.size == len(r.items) {
		r.items[r.head] = v
		r.head = (r.head + 1) % len(r.items)
		r.dropped.Add(1)
	} else {
		r.items[(r.head+r.size)%len(r.items)] = v
		r.size++
	}
	r.published.Add(1)
	r.cond.Signal()
	r.mu.Unlock()
}

// Next blocks until an entry is available and returns it. ok is false once
// the ring is closed and drained.
func (r *Ring[T]) Next() (v T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.size == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.size == 0 {
		return v, false
	}
	return r.popLocked(), true
}

func (r *Ring[T]) popLocked() T {
	var zero T
	v := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return v
}

// Close wakes every waiter. Entries already buffered can still be drained.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Reset discards buffered entries and returns how many were dropped. A
// closed ring stays closed.
func (r *Ring[T]) Reset() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.size
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.size = 0, 0
	return n
}

func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *Ring[T]) Cap() int { return len(r.items) }

// Stats returns how many entries were published and how many were
// overwritten before being consumed.
func (r *Ring[T]) Stats() (published, dropped uint64) {
	return r.published.Load(), r.dropped.Load()
}
