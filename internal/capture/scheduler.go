// Package capture pulls frames from the configured video streams, converts
// them and publishes them on a Bus.
//
// Runtime model
//   - Registry holds the stream configurations; it is the only shared mutable
//     structure.
//   - Workers own the open capture and recorder handles. Under the per-stream
//     strategy each enabled stream has its own worker; under the synchronized
//     strategy one worker visits every stream per tick and publishes a batch.
//   - Scheduler starts and stops workers as streams come and go, and swaps
//     strategies by stopping every worker before starting the new set.
package capture

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Strategy selects how streams map to workers.
type Strategy int

const (
	PerStream Strategy = iota
	Synchronized
)

func (s Strategy) String() string {
	switch s {
	case PerStream:
		return "per_stream"
	case Synchronized:
		return "synchronized"
	default:
		return "unknown"
	}
}

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStrategy accepts "per_stream" or "synchronized".
func ParseStrategy(raw string) (Strategy, error) {
	switch raw {
	case "per_stream":
		return PerStream, nil
	case "synchronized":
		return Synchronized, nil
	default:
		return PerStream, fmt.Errorf("invalid capture strategy: '%s'", raw)
	}
}

// DefaultIdleInterval is the pause after a tick that produced nothing.
const DefaultIdleInterval = time.Second

// Options configure a Scheduler.
type Options struct {
	Strategy     Strategy
	IdleInterval time.Duration
	Recorders    RecorderFactory // nil disables recording
	Now          func() time.Time
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Strategy Strategy                `json:"strategy"`
	Running  bool                    `json:"running"`
	Workers  int                     `json:"workers"`
	Streams  map[string]StreamStatus `json:"streams"`
	Bus      BusStats                `json:"bus"`
}

// Scheduler orchestrates workers for the streams in a Registry.
type Scheduler struct {
	log  *zap.Logger
	reg  *Registry
	bus  *Bus
	pipe *pipeline

	// serializes worker lifecycle changes
	mu       sync.Mutex
	strategy Strategy
	idle     time.Duration
	running  bool
	workers  map[string]*Worker // per-stream: stream id → worker
	shared   *Worker            // synchronized

	fileMu  sync.Mutex
	fileIDs map[string]struct{} // streams that came from the settings file
}

// NewScheduler wires a scheduler to reg. Call Start to launch workers.
func NewScheduler(log *zap.Logger, reg *Registry, bus *Bus, opener Opener, opts Options) *Scheduler {
	log = log.Named("capture_scheduler")
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = DefaultIdleInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Scheduler{
		log: log,
		reg: reg,
		bus: bus,
		pipe: &pipeline{
			log:       log,
			opener:    opener,
			recorders: opts.Recorders,
			now:       opts.Now,
		},
		strategy: opts.Strategy,
		idle:     opts.IdleInterval,
		workers:  make(map[string]*Worker),
		fileIDs:  make(map[string]struct{}),
	}
	reg.listen(s.onRegistryChange)
	return s
}

// Registry returns the registry the scheduler serves.
func (s *Scheduler) Registry() *Registry { return s.reg }

// Bus returns the bus frames are published on.
func (s *Scheduler) Bus() *Bus { return s.bus }

// Start launches workers for the current registry contents.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.reconcileLocked()
	s.log.Info("capture started", zap.Stringer("strategy", s.strategy))
}

// Stop synchronously stops every worker. Start may be called again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.stopAllLocked()
	s.running = false
	s.log.Info("capture stopped")
}

// Strategy returns the active strategy.
func (s *Scheduler) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// SetStrategy stops every worker, then starts the worker set for next. Stream
// configurations, including recording flags, live in the registry and are
// untouched.
func (s *Scheduler) SetStrategy(next Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next == s.strategy {
		return
	}
	prev := s.strategy
	if s.running {
		s.stopAllLocked()
	}
	s.strategy = next
	if s.running {
		s.reconcileLocked()
	}
	s.log.Info("capture strategy switched", zap.Stringer("from", prev), zap.Stringer("to", next))
}

// SetIdleInterval applies to workers started afterwards.
func (s *Scheduler) SetIdleInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.idle = d
	s.mu.Unlock()
}

// Status collects every worker's view.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.workers)+1)
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	if s.shared != nil {
		workers = append(workers, s.shared)
	}
	st := Status{Strategy: s.strategy, Running: s.running, Workers: len(workers)}
	s.mu.Unlock()

	st.Streams = make(map[string]StreamStatus)
	for _, w := range workers {
		for id, ss := range w.Status() {
			st.Streams[id] = ss
		}
	}
	st.Bus = s.bus.Stats()
	return st
}

// StreamStatus returns the runtime view of one stream.
func (s *Scheduler) StreamStatus(id string) (StreamStatus, bool) {
	st, ok := s.Status().Streams[id]
	return st, ok
}

// onRegistryChange runs on the goroutine that mutated the registry.
func (s *Scheduler) onRegistryChange(id string, kind ChangeKind) {
	s.log.Debug("registry changed", zap.String("stream_id", id), zap.Stringer("change", kind))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.reconcileLocked()
	}
}

// reconcileLocked makes the worker set match the registry.
func (s *Scheduler) reconcileLocked() {
	switch s.strategy {
	case Synchronized:
		for id, w := range s.workers {
			w.Stop()
			delete(s.workers, id)
		}
		if s.shared == nil {
			s.shared = newWorker(s.log, "synchronized", s.reg, s.pipe, s.bus, s.idle, true, s.reg.ids)
			s.shared.start()
		}

	default:
		if s.shared != nil {
			s.shared.Stop()
			s.shared = nil
		}
		want := make(map[string]struct{})
		for _, cfg := range s.reg.Snapshot() {
			if cfg.Enabled {
				want[cfg.ID] = struct{}{}
			}
		}
		for id, w := range s.workers {
			if _, ok := want[id]; !ok {
				w.Stop()
				delete(s.workers, id)
			}
		}
		ids := make([]string, 0, len(want))
		for id := range want {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if _, ok := s.workers[id]; ok {
				continue
			}
			only := []string{id}
			w := newWorker(s.log, "stream:"+id, s.reg, s.pipe, s.bus, s.idle, false,
				func() []string { return only })
			s.workers[id] = w
			w.start()
		}
	}
}

func (s *Scheduler) stopAllLocked() {
	var wg sync.WaitGroup
	for id, w := range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Stop()
		}()
		delete(s.workers, id)
	}
	wg.Wait()
	if s.shared != nil {
		s.shared.Stop()
		s.shared = nil
	}
}
