package aggregator

// ring is a fixed-capacity FIFO buffer. It is owned by the aggregator's
// actor goroutine and does no locking of its own.
type ring[T any] struct {
	entries  []T
	capacity int
	head     int // index of the next write once full
	evicted  int64
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{entries: make([]T, 0, capacity), capacity: capacity}
}

// push appends v, overwriting the oldest entry when full. It reports
// whether an entry was evicted.
func (r *ring[T]) push(v T) bool {
	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, v)
		return false
	}
	r.entries[r.head] = v
	r.head = (r.head + 1) % r.capacity
	r.evicted++
	return true
}

func (r *ring[T]) len() int { return len(r.entries) }

// all returns the entries oldest first.
func (r *ring[T]) all() []T {
	out := make([]T, len(r.entries))
	n := copy(out, r.entries[r.head:])
	copy(out[n:], r.entries[:r.head])
	return out
}

// last returns the newest n entries, oldest first.
func (r *ring[T]) last(n int) []T {
	all := r.all()
	if n >= len(all) {
		return all
	}
	if n <= 0 {
		return nil
	}
	return all[len(all)-n:]
}

// keepLast drops everything but the newest n entries and returns how many
// were removed.
func (r *ring[T]) keepLast(n int) int {
	kept := r.last(n)
	removed := len(r.entries) - len(kept)
	r.entries = append(make([]T, 0, r.capacity), kept...)
	r.head = 0
	return removed
}

func (r *ring[T]) reset() {
	r.entries = make([]T, 0, r.capacity)
	r.head = 0
}
