// Package ringbuf provides a bounded single-producer single-consumer ring.
//
// Push never blocks: a full ring rejects the value and counts the overflow.
// The consumer may wait on Ready instead of polling.
package ringbuf

import "sync/atomic"

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Ring is a lock-free SPSC ring buffer. Size is a power of two for fast
// bitwise modulo.
type Ring[T any] struct {
	buf  []T
	mask uint64

	// Separate cache lines to prevent false sharing between producer and consumer.
	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by consumer
	_pad2 [cacheLine]byte

	overflow atomic.Uint64
	ready    chan struct{}
}

// New creates a ring. capacity is rounded up to the next power of two.
func New[T any](capacity int) *Ring[T] {
	n := nextPow2(capacity)
	return &Ring[T]{
		buf:   make([]T, n),
		mask:  uint64(n - 1),
		ready: make(chan struct{}, 1),
	}
}

// Push appends v. Returns false, without writing, if the ring is full.
func (r *Ring[T]) Push(v T) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if head-tail >= uint64(len(r.buf)) {
		r.overflow.Add(1)
		return false
	}

	r.buf[head&r.mask] = v
	r.head.Store(head + 1)

	select {
	case r.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest value. Returns false if the ring is empty.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	tail := r.tail.Load()
	head := r.head.Load()

	if tail >= head {
		return zero, false
	}

	slot := tail & r.mask
	v := r.buf[slot]
	r.buf[slot] = zero
	r.tail.Store(tail + 1)
	return v, true
}

// Ready is signalled after a Push. One signal may cover several values, so
// the consumer drains with Pop until it reports empty.
func (r *Ring[T]) Ready() <-chan struct{} { return r.ready }

// Len returns the current number of items in the ring.
func (r *Ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Overflow returns the total number of rejected pushes.
func (r *Ring[T]) Overflow() uint64 { return r.overflow.Load() }

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
