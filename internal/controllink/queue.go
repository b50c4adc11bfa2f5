package controllink

import (
	"sync"
	"time"
)

// OutboundMessage is one queued command datagram.
type OutboundMessage struct {
	Payload    []byte
	EnqueuedAt time.Time // diagnostics only
}

// OutboundQueue is a bounded, thread-safe FIFO of outgoing datagrams with a
// single consumer (the link tick loop). Push never blocks: when the queue is
// full the oldest pending message is discarded, since rover commands are
// latest-value. Storage is a fixed ring allocated once.
type OutboundQueue struct {
	mu      sync.Mutex
	items   []OutboundMessage // ring, len == capacity
	head    int               // oldest pending
	size    int
	closed  bool
	dropped uint64
	now     func() time.Time
}

// DefaultQueueCapacity bounds pending commands between ticks.
const DefaultQueueCapacity = 256

// NewOutboundQueue creates a queue holding at most capacity messages
// (DefaultQueueCapacity when capacity <= 0).
func NewOutboundQueue(capacity int) *OutboundQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &OutboundQueue{items: make([]OutboundMessage, capacity), now: time.Now}
}

// Push copies payload onto the tail. Returns false when the queue is closed.
func (q *OutboundQueue) Push(payload []byte) bool {
	msg := OutboundMessage{Payload: append([]byte(nil), payload...)}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.dropped++
		return false
	}
	msg.EnqueuedAt = q.now()

	if q.size == len(q.items) {
		// overwrite the oldest
		q.items[q.head] = msg
		q.head = (q.head + 1) % len(q.items)
		q.dropped++
		return true
	}
	q.items[(q.head+q.size)%len(q.items)] = msg
	q.size++
	return true
}

// TryPop removes and returns the head message without blocking.
func (q *OutboundQueue) TryPop() (OutboundMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return OutboundMessage{}, false
	}
	msg := q.items[q.head]
	q.items[q.head] = OutboundMessage{}
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return msg, true
}

// Len returns the number of pending messages.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns how many messages were discarded (overflow or closed).
func (q *OutboundQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close discards pending messages and rejects further pushes. Idempotent.
func (q *OutboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.dropped += uint64(q.size)
	clear(q.items)
	q.head, q.size = 0, 0
}
