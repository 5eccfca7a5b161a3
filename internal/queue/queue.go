// Package queue provides the bounded packet FIFOs between the CAN buses and
// the host transcoders.
package queue

import (
	"sync"

	"github.com/kstaniek/go-can-comms/internal/can"
	"github.com/kstaniek/go-can-comms/internal/metrics"
)

// Queue is a fixed-capacity ring of packets. Push and Pop are safe to call
// from different goroutines.
type Queue struct {
	mu     sync.Mutex
	name   string
	buf    []can.Packet
	head   int
	size   int
	notify chan struct{}
}

// New returns a queue holding up to capacity packets. name labels overflow metrics.
func New(name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{name: name, buf: make([]can.Packet, capacity), notify: make(chan struct{}, 1)}
}

// Push appends p. It returns false and counts an overflow when the queue is full.
func (q *Queue) Push(p can.Packet) bool {
	q.mu.Lock()
	if q.size == len(q.buf) {
		q.mu.Unlock()
		metrics.IncQueueOverflow(q.name)
		return false
	}
	q.buf[(q.head+q.size)%len(q.buf)] = p
	q.size++
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest packet into p.
func (q *Queue) Pop(p *can.Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return false
	}
	*p = q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return true
}

// Len returns the number of queued packets.
func (q *Queue) Len() int { q.mu.Lock(); n := q.size; q.mu.Unlock(); return n }

// Cap returns the capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Free returns the number of empty slots.
func (q *Queue) Free() int { return q.Cap() - q.Len() }

// MinSlotsFree reports whether at least n slots are empty.
func (q *Queue) MinSlotsFree(n int) bool { return q.Free() >= n }

// Notify is signalled (coalesced) after each successful Push.
func (q *Queue) Notify() <-chan struct{} { return q.notify }

// Reset drops all queued packets.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.head, q.size = 0, 0
	q.mu.Unlock()
}
