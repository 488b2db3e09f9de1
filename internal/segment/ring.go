package segment

// Ring is a fixed-capacity FIFO that overwrites its oldest element once full.
// The zero value is unusable; create one with NewRing.
type Ring[T any] struct {
	buf   []T
	start int
	n     int
}

// NewRing returns an empty ring holding at most capacity elements. A
// capacity below one is raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{buf: make([]T, max(capacity, 1))}
}

// Push appends v, evicting the oldest element when the ring is full.
func (r *Ring[T]) Push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len reports the number of stored elements.
func (r *Ring[T]) Len() int { return r.n }

// Cap reports the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Items returns the stored elements oldest first, as a new slice.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Reset empties the ring and drops references to stored elements.
func (r *Ring[T]) Reset() {
	clear(r.buf)
	r.start, r.n = 0, 0
}
