package outline

import "sync"

// DefaultQueueCapacity bounds the number of undrained outlines.
const DefaultQueueCapacity = 4096

// Queue is a thread-safe FIFO of pending outlines.
//
// Commits enqueue under the instance lock while the paint collaborator
// drains on its own schedule (typically once per frame). The queue is
// bounded: when the painter falls behind, the oldest outlines are dropped,
// since a stale highlight has no value.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in a paint loop.
type Queue struct {
	mu       sync.Mutex
	items    []Pending
	capacity int
	dropped  int
	closed   bool
	signal   chan struct{} // Signals availability (buffered, size 1)
}

// NewQueue creates an empty queue. A capacity <= 0 selects
// DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		items:    make([]Pending, 0, 64),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds outlines to the back of the queue.
// Returns false if the queue is closed.
func (q *Queue) Enqueue(ps ...Pending) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(ps) == 0 {
		return true
	}

	q.items = append(q.items, ps...)
	if over := len(q.items) - q.capacity; over > 0 {
		clear(q.items[:over])
		q.items = q.items[over:]
		q.dropped += over
	}

	// Non-blocking: a buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front outline without blocking.
// Returns (Pending{}, false) if the queue is empty.
func (q *Queue) TryDequeue() (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Pending{}, false
	}
	p := q.items[0]
	// Nil out the slot so the node pointers can be collected.
	q.items[0] = Pending{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return p, true
}

// Drain removes and returns every queued outline in FIFO order.
func (q *Queue) Drain() []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := make([]Pending, len(q.items))
	copy(out, q.items)
	clear(q.items)
	q.items = q.items[:0]
	return out
}

// Wait returns a channel that signals when outlines may be available.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    paint(q.Drain())
//	}
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many outlines were discarded for capacity.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close signals that no more outlines will be enqueued and wakes waiters.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
