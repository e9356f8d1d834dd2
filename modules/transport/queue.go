package transport

import (
	"sync"
	"sync/atomic"

	"github.com/example/collab-realtime/domain/collab"
)

// DefaultQueueSize is the per-connection send buffer.
const DefaultQueueSize = 256

// queue is a bounded FIFO of outbound envelopes with a high-water mark for
// ephemeral frames.
type queue struct {
	mu        sync.Mutex
	items     []collab.Envelope
	capacity  int
	highWater int
	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	highWater := capacity * 3 / 4
	if highWater == 0 {
		highWater = 1
	}
	return &queue{
		items:     make([]collab.Envelope, 0, capacity),
		capacity:  capacity,
		highWater: highWater,
		ready:     make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

func (q *queue) push(env collab.Envelope, class Class) error {
	q.mu.Lock()
	select {
	case <-q.closed:
		q.mu.Unlock()
		return ErrClosed
	default:
	}

	n := len(q.items)
	switch {
	case class == ClassEphemeral && n >= q.highWater:
		q.mu.Unlock()
		q.dropped.Add(1)
		return ErrDropped
	case n >= q.capacity:
		q.mu.Unlock()
		q.dropped.Add(1)
		return ErrQueueFull
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// drain removes up to max envelopes (all when max <= 0) in FIFO order.
func (q *queue) drain(max int) []collab.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}
	out := make([]collab.Envelope, n)
	copy(out, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	if len(q.items) > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	} else {
		// Nothing left to signal; a stale token would wake the next waiter
		// on an empty queue.
		select {
		case <-q.ready:
		default:
		}
	}
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

func (q *queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
