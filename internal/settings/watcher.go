package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Observer is notified with every successfully reloaded snapshot. Observers
// are called sequentially on the watcher goroutine, in registration order.
type Observer interface {
	OnConfigChanged(s *Settings)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(s *Settings)

func (f ObserverFunc) OnConfigChanged(s *Settings) { f(s) }

// Watcher owns the current settings snapshot and reloads it when the file
// changes on disk. A reload that fails to parse or validate is logged and the
// previous snapshot stays in effect.
type Watcher struct {
	log      *zap.Logger
	path     string
	debounce time.Duration

	mu        sync.Mutex
	current   *Settings
	observers map[int]Observer
	nextID    int
}

// NewWatcher loads path once. The initial load must succeed.
func NewWatcher(log *zap.Logger, path string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 750 * time.Millisecond
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	s, err := Load(abs)
	if err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}
	return &Watcher{
		log:       log.Named("settings_watcher"),
		path:      abs,
		debounce:  debounce,
		current:   s,
		observers: make(map[int]Observer),
	}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Current returns the snapshot in effect.
func (w *Watcher) Current() *Settings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Register adds o and returns the function that removes it again.
func (w *Watcher) Register(o Observer) (unregister func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.observers[id] = o
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.observers, id)
			w.mu.Unlock()
		})
	}
}

// Reload re-reads the file and notifies observers on success.
func (w *Watcher) Reload() error {
	s, err := Load(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.current = s
	ids := make([]int, 0, len(w.observers))
	for id := range w.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	obs := make([]Observer, 0, len(ids))
	for _, id := range ids {
		obs = append(obs, w.observers[id])
	}
	w.mu.Unlock()

	w.log.Info("settings reloaded",
		zap.String("path", w.path),
		zap.Int("streams", len(s.Streams)),
		zap.Int("observers", len(obs)))
	for _, o := range obs {
		o.OnConfigChanged(s)
	}
	return nil
}

// Run watches the file's directory until ctx is cancelled. Bursts of editor
// writes are coalesced into one reload.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher init: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch add dir '%s': %w", dir, err)
	}

	// reloads are serialized through this channel so observers never run concurrently
	fire := make(chan struct{}, 1)
	var t *time.Timer
	reset := func() {
		if t != nil {
			t.Stop()
		}
		t = time.AfterFunc(w.debounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		if t != nil {
			t.Stop()
		}
	}()

	w.log.Info("watching settings", zap.String("path", w.path), zap.Duration("debounce", w.debounce))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fire:
			if err := w.Reload(); err != nil {
				w.log.Warn("reload failed; keeping previous settings", zap.Error(err))
			}
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Name != w.path {
				continue
			}
			// Remove means the file is gone; wait for it to reappear.
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				reset()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

// DefaultPath returns the first existing candidate, or "" when none exists.
func DefaultPath(candidates ...string) string {
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
