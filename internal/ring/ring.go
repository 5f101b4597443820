// Package ring provides the bounded circular log backing the optimization
// history and the rollback log. Capacity is fixed at construction; once the
// log is full the oldest entry is overwritten. The saturating Len is kept
// distinct from the monotonic Total so long-running systems can tell how
// many entries were ever appended beyond the retained window.
package ring

// Ring is a fixed-capacity circular log. It is not goroutine safe; owners
// guard it with their own lock.
type Ring[T any] struct {
	entries []T
	cursor  int
	count   int
	total   uint64
}

func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{entries: make([]T, capacity)}
}

// Append writes v over the oldest entry once the ring is full.
func (r *Ring[T]) Append(v T) {
	r.entries[r.cursor] = v
	r.cursor = (r.cursor + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
	r.total++
}

// Len is the number of retained entries, saturating at capacity.
func (r *Ring[T]) Len() int {
	return r.count
}

func (r *Ring[T]) Cap() int {
	return len(r.entries)
}

// Total is the number of entries ever appended, including evicted ones.
func (r *Ring[T]) Total() uint64 {
	return r.total
}

// Snapshot returns the retained entries in chronological order, oldest
// first. The returned slice is freshly allocated; element contents are
// shallow copies.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, 0, r.count)
	r.Do(func(_ int, v *T) bool {
		out = append(out, *v)
		return true
	})
	return out
}

// Do iterates retained entries oldest first, handing the callback a pointer
// into the live buffer so owners can mutate entries in place. Returning
// false stops the iteration.
func (r *Ring[T]) Do(fn func(i int, v *T) bool) {
	start := 0
	if r.count == len(r.entries) {
		start = r.cursor
	}
	for i := 0; i < r.count; i++ {
		idx := (start + i) % len(r.entries)
		if !fn(i, &r.entries[idx]) {
			return
		}
	}
}

// DoReverse iterates newest first. Rollback-all depends on this ordering:
// later patches may assume earlier ones' effects, so reversal undoes the
// newest entry first.
func (r *Ring[T]) DoReverse(fn func(i int, v *T) bool) {
	start := 0
	if r.count == len(r.entries) {
		start = r.cursor
	}
	for i := r.count - 1; i >= 0; i-- {
		idx := (start + i) % len(r.entries)
		if !fn(i, &r.entries[idx]) {
			return
		}
	}
}
