package capture

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrSubscriberExists is returned by Subscribe for a duplicate id.
	ErrSubscriberExists = errors.New("subscriber id already exists")
	// ErrSubscriberNotFound is returned by Unsubscribe for an unknown id.
	ErrSubscriberNotFound = errors.New("subscriber id not found")
	// ErrBusClosed is returned once the bus is closed.
	ErrBusClosed = errors.New("bus is closed")
)

// Frame is one converted image. Published frames are immutable; the worker
// allocates a fresh image every cycle.
type Frame struct {
	StreamID   string
	Seq        uint64
	Image      image.Image
	CapturedAt time.Time
}

// EventKind tags an Event.
type EventKind int

const (
	// FrameReady carries one frame (per-stream strategy).
	FrameReady EventKind = iota
	// BatchReady carries every frame read in one synchronized tick.
	BatchReady
	// StreamFinished reports that a source is exhausted and will not reopen on its own.
	StreamFinished
)

func (k EventKind) String() string {
	switch k {
	case FrameReady:
		return "frame"
	case BatchReady:
		return "batch"
	case StreamFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event is what subscribers receive.
type Event struct {
	Kind     EventKind
	StreamID string           // FrameReady, StreamFinished
	Frame    Frame            // FrameReady
	Batch    map[string]Frame // BatchReady; keyed by stream id
	At       time.Time
}

// Frames returns the frames carried by ev regardless of kind.
func (ev Event) Frames() []Frame {
	switch ev.Kind {
	case FrameReady:
		return []Frame{ev.Frame}
	case BatchReady:
		out := make([]Frame, 0, len(ev.Batch))
		for _, f := range ev.Batch {
			out = append(out, f)
		}
		return out
	default:
		return nil
	}
}

// BusStats are cumulative delivery counters.
type BusStats struct {
	Published   uint64                     `json:"published"`
	Sent        uint64                     `json:"sent"`
	Dropped     uint64                     `json:"dropped"`
	Subscribers map[string]SubscriberStats `json:"subscribers"`
}

type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

type subscriberStats struct {
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus fans events out to subscriber channels without ever blocking the
// publisher. A subscriber whose channel is full misses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan<- Event
	stats       map[string]*subscriberStats
	closed      bool

	published atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]chan<- Event),
		stats:       make(map[string]*subscriberStats),
	}
}

// Subscribe registers ch under id.
func (b *Bus) Subscribe(id string, ch chan<- Event) error {
	if ch == nil {
		return errors.New("subscriber channel cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = ch
	b.stats[id] = &subscriberStats{}
	return nil
}

// Unsubscribe removes id. The channel is not closed.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	delete(b.stats, id)
	return nil
}

// Publish delivers ev to every subscriber with room in its channel. Publishing
// on a closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
			b.stats[id].sent.Add(1)
		default:
			b.stats[id].dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := BusStats{
		Published:   b.published.Load(),
		Subscribers: make(map[string]SubscriberStats, len(b.stats)),
	}
	for id, s := range b.stats {
		sent, dropped := s.sent.Load(), s.dropped.Load()
		out.Sent += sent
		out.Dropped += dropped
		out.Subscribers[id] = SubscriberStats{Sent: sent, Dropped: dropped}
	}
	return out
}

// Close stops delivery. Subscriber channels are left to their owners.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
