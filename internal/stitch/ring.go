package stitch

// ring is a fixed-capacity FIFO used as the selector's look-ahead buffer.
type ring[T any] struct {
	items []T
	head  int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) Len() int   { return r.size }
func (r *ring[T]) Cap() int   { return len(r.items) }
func (r *ring[T]) Full() bool { return r.size == len(r.items) }

// Push appends v and reports false when the ring is full.
func (r *ring[T]) Push(v T) bool {
	if r.Full() {
		return false
	}
	r.items[(r.head+r.size)%len(r.items)] = v
	r.size++
	return true
}

// At returns the i-th oldest element.
func (r *ring[T]) At(i int) T {
	if i < 0 || i >= r.size {
		panic("ring: index out of range")
	}
	return r.items[(r.head+i)%len(r.items)]
}

// DropFront evicts the n oldest elements, zeroing their slots so frames can be collected.
func (r *ring[T]) DropFront(n int) {
	if n > r.size {
		n = r.size
	}
	var zero T
	for i := 0; i < n; i++ {
		r.items[r.head] = zero
		r.head = (r.head + 1) % len(r.items)
	}
	r.size -= n
	if r.size == 0 {
		r.head = 0
	}
}

func (r *ring[T]) Clear() {
	r.DropFront(r.size)
}
