package telemetry

import (
	"sync"
	"sync/atomic"

	domain "github.com/edirooss/groundstation/internal/domain/telemetry"
	"go.uber.org/zap"
)

// Dispatcher fans decoded events out to the configured sinks and remembers
// the latest event of every category.
type Dispatcher struct {
	log   *zap.Logger
	sinks []*AsyncSink

	received atomic.Uint64

	mu     sync.RWMutex
	latest map[string]domain.Event
}

func NewDispatcher(log *zap.Logger, sinks ...*AsyncSink) *Dispatcher {
	return &Dispatcher{
		log:    log.Named("telemetry_dispatcher"),
		sinks:  sinks,
		latest: make(map[string]domain.Event),
	}
}

// Handle never blocks; it is installed as the link's telemetry handler.
func (d *Dispatcher) Handle(ev domain.Event) {
	d.received.Add(1)

	d.mu.Lock()
	d.latest[ev.Category] = ev
	d.mu.Unlock()

	for _, s := range d.sinks {
		s.Submit(ev)
	}
}

// Latest returns the newest event per category.
func (d *Dispatcher) Latest() map[string]domain.Event {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]domain.Event, len(d.latest))
	for k, v := range d.latest {
		out[k] = v
	}
	return out
}

// DispatchStats summarize the dispatcher and its sinks.
type DispatchStats struct {
	Received uint64               `json:"received"`
	Sinks    map[string]SinkStats `json:"sinks"`
}

func (d *Dispatcher) Stats() DispatchStats {
	st := DispatchStats{Received: d.received.Load(), Sinks: make(map[string]SinkStats, len(d.sinks))}
	for _, s := range d.sinks {
		st.Sinks[s.Name()] = s.Stats()
	}
	return st
}
