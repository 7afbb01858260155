// Package telringbuf provides a fixed-capacity FIFO ring buffer.
package telringbuf

// RingBuffer is a fixed-size collection of recent items. When full, adding an
// item overwrites, and returns, the oldest item.
//
// RingBuffer is not safe for concurrent use. Callers are expected to guard it
// together with whatever indexes they maintain alongside it.
type RingBuffer[T any] struct {
	buf []T // fully allocated at construction
	cur int // index for next write
	len int // count of actual values
}

// NewRingBuffer returns an empty ring buffer, pre-allocated with the given
// capacity. A capacity of zero or less produces a buffer which drops every
// value added to it.
func NewRingBuffer[T any](cap int) *RingBuffer[T] {
	if cap < 0 {
		cap = 0
	}
	return &RingBuffer[T]{
		buf: make([]T, cap),
	}
}

// Add the value to the ring buffer. If the buffer was full, the oldest value is
// overwritten and returned with true. A zero capacity buffer returns the given
// value itself as dropped.
func (rb *RingBuffer[T]) Add(val T) (dropped T, ok bool) {
	if len(rb.buf) <= 0 {
		return val, true
	}

	// The write cursor points at the oldest value when the buffer is full.
	if rb.len >= len(rb.buf) {
		dropped, ok = rb.buf[rb.cur], true
	}

	rb.buf[rb.cur] = val

	if rb.len < len(rb.buf) {
		rb.len += 1
	}

	rb.cur += 1
	if rb.cur >= len(rb.buf) {
		rb.cur -= len(rb.buf)
	}

	return dropped, ok
}

// Resize changes the capacity of the ring buffer. If the new capacity is
// smaller than the current length, the oldest values are dropped and returned,
// oldest first. A capacity of zero or less is ignored.
func (rb *RingBuffer[T]) Resize(cap int) (dropped []T) {
	if cap <= 0 || cap == len(rb.buf) {
		return nil
	}

	values := rb.Values() // oldest first
	if excess := len(values) - cap; excess > 0 {
		dropped, values = values[:excess], values[excess:]
	}

	buf := make([]T, cap)
	n := copy(buf, values)

	rb.buf = buf
	rb.len = n
	rb.cur = n
	if rb.cur >= cap {
		rb.cur -= cap
	}

	return dropped
}

// Walk calls fn for each value in the ring buffer, starting with the most
// recent value and ending with the oldest. If fn returns false, the walk stops.
func (rb *RingBuffer[T]) Walk(fn func(T) bool) {
	for i := 0; i < rb.len; i++ {
		// Reads go backwards from one before the write cursor.
		cur := rb.cur - 1 - i
		if cur < 0 {
			cur += len(rb.buf)
		}
		if !fn(rb.buf[cur]) {
			return
		}
	}
}

// Values returns a copy of every value in the ring buffer, oldest first.
func (rb *RingBuffer[T]) Values() []T {
	values := make([]T, rb.len)
	i := rb.len - 1
	rb.Walk(func(val T) bool {
		values[i] = val
		i--
		return true
	})
	return values
}

// Newest returns the n most recent values, oldest first. If n is zero or less,
// or greater than the length of the buffer, every value is returned.
func (rb *RingBuffer[T]) Newest(n int) []T {
	if n <= 0 || n > rb.len {
		n = rb.len
	}
	values := make([]T, n)
	i := n - 1
	rb.Walk(func(val T) bool {
		if i < 0 {
			return false
		}
		values[i] = val
		i--
		return true
	})
	return values
}

// Len returns the number of values currently stored.
func (rb *RingBuffer[T]) Len() int {
	return rb.len
}

// Cap returns the capacity of the ring buffer.
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.buf)
}

// Reset drops every value, keeping the capacity.
func (rb *RingBuffer[T]) Reset() {
	var zero T
	for i := range rb.buf {
		rb.buf[i] = zero
	}
	rb.cur, rb.len = 0, 0
}
