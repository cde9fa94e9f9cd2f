// Package ringbuf provides a fixed-capacity, newest-first buffer that evicts
// the oldest element on overflow.
//
// Buffer is not safe for concurrent use; owners guard it with their own lock
// so that a mutation and its bookkeeping (dedup indexes, counters) are applied
// together.
package ringbuf

// Buffer is a circular buffer ordered newest-first: index 0 is the most
// recently pushed element, index Len()-1 the oldest.
type Buffer[T any] struct {
	items []T
	start int // physical index of the newest element
	size  int
}

// New creates a Buffer holding at most capacity elements. A non-positive
// capacity is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Cap returns the maximum number of elements.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Len returns the current number of elements.
func (b *Buffer[T]) Len() int { return b.size }

// PushFront inserts v as the newest element. If the buffer was full the
// oldest element is overwritten and returned with evicted == true.
func (b *Buffer[T]) PushFront(v T) (old T, evicted bool) {
	c := len(b.items)
	b.start = (b.start - 1 + c) % c
	if b.size == c {
		// The slot before the newest element is the oldest when full.
		old, evicted = b.items[b.start], true
	} else {
		b.size++
	}
	b.items[b.start] = v
	return old, evicted
}

// At returns the element at logical index i (0 = newest). It panics if i is out of range.
func (b *Buffer[T]) At(i int) T {
	b.check(i)
	return b.items[b.phys(i)]
}

// Set replaces the element at logical index i.
func (b *Buffer[T]) Set(i int, v T) {
	b.check(i)
	b.items[b.phys(i)] = v
}

// RemoveAt deletes the element at logical index i, preserving the order of
// the remaining elements.
func (b *Buffer[T]) RemoveAt(i int) T {
	b.check(i)
	removed := b.items[b.phys(i)]
	for j := i; j < b.size-1; j++ {
		b.items[b.phys(j)] = b.items[b.phys(j+1)]
	}
	var zero T
	b.items[b.phys(b.size-1)] = zero
	b.size--
	return removed
}

// Index returns the logical index of the first element (newest-first) for
// which match returns true, or -1.
func (b *Buffer[T]) Index(match func(T) bool) int {
	for i := 0; i < b.size; i++ {
		if match(b.items[b.phys(i)]) {
			return i
		}
	}
	return -1
}

// Each calls fn for every element newest-first until fn returns false.
func (b *Buffer[T]) Each(fn func(i int, v T) bool) {
	for i := 0; i < b.size; i++ {
		if !fn(i, b.items[b.phys(i)]) {
			return
		}
	}
}

// Snapshot returns a copy of the elements, newest-first.
func (b *Buffer[T]) Snapshot() []T {
	out := make([]T, b.size)
	for i := range out {
		out[i] = b.items[b.phys(i)]
	}
	return out
}

// Clear removes all elements.
func (b *Buffer[T]) Clear() {
	clear(b.items)
	b.start, b.size = 0, 0
}

func (b *Buffer[T]) phys(i int) int {
	return (b.start + i) % len(b.items)
}

func (b *Buffer[T]) check(i int) {
	if i < 0 || i >= b.size {
		panic("ringbuf: index out of range")
	}
}
