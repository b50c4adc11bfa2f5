package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edirooss/groundstation/internal/domain/stream"
	"go.uber.org/zap"
)

var (
	// ErrStreamExists is returned when adding a duplicate id.
	ErrStreamExists = errors.New("stream already exists")
	// ErrStreamNotFound is returned for an unknown id.
	ErrStreamNotFound = errors.New("stream not found")
)

// Persister stores stream configurations outside the process. Calls are made
// without the registry lock held.
type Persister interface {
	SaveStream(ctx context.Context, cfg stream.Config) error
	DeleteStream(ctx context.Context, id string) error
}

// owner is the worker currently holding a stream's runtime state. release
// must return only after that state is closed.
type owner interface {
	release(id string)
}

// ChangeKind tags a registry notification.
type ChangeKind int

const (
	Added ChangeKind = iota
	Updated
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

type entry struct {
	cfg     stream.Config
	refresh bool
	removed bool // set while Remove waits for the owner
	owner   owner
}

// Registry is the lock-protected map of stream configurations, keyed by id.
// It is the only capture structure mutated from several goroutines.
type Registry struct {
	log     *zap.Logger
	persist Persister

	mu       sync.Mutex
	entries  map[string]*entry
	order    []string // insertion order
	onChange func(id string, kind ChangeKind)
}

// NewRegistry returns an empty registry. persist may be nil.
func NewRegistry(log *zap.Logger, persist Persister) *Registry {
	return &Registry{
		log:     log.Named("stream_registry"),
		persist: persist,
		entries: make(map[string]*entry),
	}
}

// listen installs the change hook. The hook runs on the mutating caller's
// goroutine after the lock is released.
func (r *Registry) listen(fn func(id string, kind ChangeKind)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Add inserts cfg. It returns false, with no side effect, when the id exists.
func (r *Registry) Add(cfg stream.Config) bool {
	r.mu.Lock()
	if _, exists := r.entries[cfg.ID]; exists {
		r.mu.Unlock()
		return false
	}
	r.entries[cfg.ID] = &entry{cfg: cfg}
	r.order = append(r.order, cfg.ID)
	hook := r.onChange
	r.mu.Unlock()

	r.log.Info("stream added", zap.String("stream_id", cfg.ID), zap.Bool("enabled", cfg.Enabled))
	r.save(cfg)
	if hook != nil {
		hook(cfg.ID, Added)
	}
	return true
}

// Remove tears down the owner's runtime state for id, then erases the entry.
// It returns false when id is absent.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.removed {
		r.mu.Unlock()
		return false
	}
	e.removed = true
	o := e.owner
	r.mu.Unlock()

	// no lock held: the owner's loop needs it to finish its current step
	if o != nil {
		o.release(id)
	}

	r.mu.Lock()
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	hook := r.onChange
	r.mu.Unlock()

	r.log.Info("stream removed", zap.String("stream_id", id))
	r.delete(id)
	if hook != nil {
		hook(id, Removed)
	}
	return true
}

// Update applies mutate to a copy of the config and stores it, then asks the
// owning worker to reopen on its next iteration. The id cannot change. It
// returns false when id is absent.
func (r *Registry) Update(id string, mutate func(*stream.Config)) bool {
	cfg, ok := r.modify(id, mutate, true)
	if !ok {
		return false
	}
	r.log.Info("stream updated", zap.String("stream_id", id))
	r.save(cfg)
	r.notify(id, Updated)
	return true
}

// Patch derives the next config from the current one while holding the
// registry lock, so writes landing between read and store are not lost. fn
// reports whether anything changed; an error or no change leaves the entry
// untouched. A change reopens the source like Update. It returns
// ErrStreamNotFound when id is absent.
func (r *Registry) Patch(id string, fn func(cur stream.Config) (stream.Config, bool, error)) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.removed {
		r.mu.Unlock()
		return false, ErrStreamNotFound
	}
	next, changed, err := fn(e.cfg)
	if err != nil || !changed {
		r.mu.Unlock()
		return false, err
	}
	next.ID = id
	e.cfg = next
	e.refresh = true
	r.mu.Unlock()

	r.log.Info("stream patched", zap.String("stream_id", id))
	r.save(next)
	r.notify(id, Updated)
	return true, nil
}

// SetRecording toggles recording without reopening the source.
func (r *Registry) SetRecording(id string, on bool) bool {
	cfg, ok := r.modify(id, func(c *stream.Config) { c.Recording = on }, false)
	if !ok {
		return false
	}
	r.log.Info("stream recording toggled", zap.String("stream_id", id), zap.Bool("recording", on))
	r.save(cfg)
	return true
}

// Refresh asks the owning worker to reopen id, which also revives a finished
// source.
func (r *Registry) Refresh(id string) bool {
	_, ok := r.modify(id, nil, true)
	return ok
}

func (r *Registry) modify(id string, mutate func(*stream.Config), refresh bool) (stream.Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.removed {
		return stream.Config{}, false
	}
	if mutate != nil {
		next := e.cfg
		mutate(&next)
		next.ID = id
		e.cfg = next
	}
	if refresh {
		e.refresh = true
	}
	return e.cfg, true
}

// Get returns the config for id.
func (r *Registry) Get(id string) (stream.Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.removed {
		return stream.Config{}, false
	}
	return e.cfg, true
}

// Snapshot returns a copy of every config in insertion order.
func (r *Registry) Snapshot() []stream.Config {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]stream.Config, 0, len(r.order))
	for _, id := range r.order {
		if e := r.entries[id]; !e.removed {
			out = append(out, e.cfg)
		}
	}
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ids returns the current ids in insertion order.
func (r *Registry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// checkout hands the current config to o for one iteration, binds o as the
// owner and consumes the refresh flag. ok is false when the entry is gone or
// being removed.
func (r *Registry) checkout(id string, o owner) (cfg stream.Config, refresh, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists || e.removed {
		return stream.Config{}, false, false
	}
	e.owner = o
	refresh = e.refresh
	e.refresh = false
	return e.cfg, refresh, true
}

// unbind clears o from every entry it owns.
func (r *Registry) unbind(o owner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.owner == o {
			e.owner = nil
		}
	}
}

func (r *Registry) notify(id string, kind ChangeKind) {
	r.mu.Lock()
	hook := r.onChange
	r.mu.Unlock()
	if hook != nil {
		hook(id, kind)
	}
}

func (r *Registry) save(cfg stream.Config) {
	if r.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.persist.SaveStream(ctx, cfg); err != nil {
		r.log.Warn("persist stream failed", zap.String("stream_id", cfg.ID), zap.Error(err))
	}
}

func (r *Registry) delete(id string) {
	if r.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.persist.DeleteStream(ctx, id); err != nil {
		r.log.Warn("delete persisted stream failed", zap.String("stream_id", id), zap.Error(err))
	}
}
