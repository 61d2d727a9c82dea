// Package ringbuf provides a fixed-capacity buffer that overwrites its oldest
// entry once full.
package ringbuf

type Ring[T any] struct {
	buf   []T
	next  int
	count int
}

func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Push(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *Ring[T]) Len() int {
	return r.count
}

func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Newest returns the i'th most recent entry.  Newest(0) is the last value
// pushed.  The second return is false if fewer than i+1 entries have been
// written since the last Reset.
func (r *Ring[T]) Newest(i int) (T, bool) {
	var zero T
	if i < 0 || i >= r.count {
		return zero, false
	}
	n := len(r.buf)
	return r.buf[((r.next-1-i)%n+n)%n], true
}

// NewestFirst calls f on each entry from newest to oldest, stopping early if f
// returns false.
func (r *Ring[T]) NewestFirst(f func(T) bool) {
	for i := 0; i < r.count; i++ {
		v, _ := r.Newest(i)
		if !f(v) {
			return
		}
	}
}

// Slice returns a copy of the entries, oldest first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[r.count-1-i], _ = r.Newest(i)
	}
	return out
}

// Each calls f on every stored entry in place, oldest first.
func (r *Ring[T]) Each(f func(*T)) {
	n := len(r.buf)
	for i := r.count - 1; i >= 0; i-- {
		f(&r.buf[((r.next-1-i)%n+n)%n])
	}
}

func (r *Ring[T]) Reset() {
	clear(r.buf)
	r.next = 0
	r.count = 0
}
