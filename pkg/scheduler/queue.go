// Package scheduler is the single cooperative driver shared by every
// subsystem: a fixed set of periodic tasks advanced by
// github.com/go-co-op/gocron/v2, plus the lock-free single-producer/
// single-consumer queue that funnels interrupt-time input (framing UART
// bytes) into the main loop.
package scheduler

import "sync/atomic"

// Event is one unit of interrupt-time input queued for the main loop to
// drain. Source identifies which bus or subsystem produced it; Data is
// the raw bytes read off the wire.
type Event struct {
	Source byte
	Data   []byte
}

// EventQueue is a lock-free SPSC ring buffer. Exactly one goroutine may
// call Push (the serial reader) and exactly one may call Pop/Drain (the
// scheduler's own tick); using it any other way is undefined. Built
// directly on sync/atomic since the single-producer/single-consumer
// contract needs neither a mutex nor channel overhead.
type EventQueue struct {
	buf  []Event
	mask uint64
	head uint64
	tail uint64
}

// NewEventQueue allocates a queue whose capacity is rounded up to the
// next power of two.
func NewEventQueue(capacity int) *EventQueue {
	size := nextPowerOfTwo(capacity)
	return &EventQueue{buf: make([]Event, size), mask: uint64(size - 1)}
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Push enqueues e. It returns false and drops e if the queue is full
// rather than blocking.
func (q *EventQueue) Push(e Event) bool {
	head := atomic.LoadUint64(&q.head)
	tail := atomic.LoadUint64(&q.tail)
	if head-tail >= uint64(len(q.buf)) {
		return false
	}
	q.buf[head&q.mask] = e
	atomic.StoreUint64(&q.head, head+1)
	return true
}

// Pop dequeues the oldest event, if any.
func (q *EventQueue) Pop() (Event, bool) {
	tail := atomic.LoadUint64(&q.tail)
	head := atomic.LoadUint64(&q.head)
	if tail == head {
		return Event{}, false
	}
	e := q.buf[tail&q.mask]
	atomic.StoreUint64(&q.tail, tail+1)
	return e, true
}

// Drain pops every pending event, invoking fn for each, in order. Used
// once per scheduler tick so interrupt-time input never backs up
// indefinitely.
func (q *EventQueue) Drain(fn func(Event)) {
	for {
		e, ok := q.Pop()
		if !ok {
			return
		}
		fn(e)
	}
}

// Len reports the number of events currently queued. Approximate under
// concurrent Push, exact once the producer is quiesced (used at
// shutdown).
func (q *EventQueue) Len() int {
	return int(atomic.LoadUint64(&q.head) - atomic.LoadUint64(&q.tail))
}
