package sniffer

// ring is a fixed-capacity buffer that drops its oldest item when full.
// It is not safe for concurrent use; Filter guards it.
type ring[T any] struct {
	items []T
	head  int // next write position
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity)}
}

// push appends item, overwriting the oldest entry when the ring is full
func (r *ring[T]) push(item T) {
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// last returns the most recently pushed item
func (r *ring[T]) last() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	idx := (r.head - 1 + len(r.items)) % len(r.items)
	return r.items[idx], true
}

// each calls fn on every item from oldest to newest
func (r *ring[T]) each(fn func(T)) {
	start := (r.head - r.size + len(r.items)) % len(r.items)
	for i := 0; i < r.size; i++ {
		fn(r.items[(start+i)%len(r.items)])
	}
}

// slice returns the items from oldest to newest
func (r *ring[T]) slice() []T {
	out := make([]T, 0, r.size)
	r.each(func(item T) { out = append(out, item) })
	return out
}

func (r *ring[T]) len() int {
	return r.size
}
