package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edirooss/groundstation/internal/domain/stream"
)

// fakeSource yields solid frames. frames < 0 never runs out.
type fakeSource struct {
	frames  int
	delay   time.Duration
	readErr error // returned by the first Read when set
	stall   bool  // reads after the first block until the open ctx ends

	ctx context.Context

	reads  atomic.Int64
	closed atomic.Bool
}

func (s *fakeSource) Read() (image.Image, error) {
	n := s.reads.Add(1)
	if s.readErr != nil && n == 1 {
		return nil, s.readErr
	}
	if s.stall && n > 1 {
		<-s.ctx.Done()
		return nil, s.ctx.Err()
	}
	if s.frames >= 0 && n > int64(s.frames) {
		return nil, ErrSourceExhausted
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return img, nil
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeOpener hands out sources built by mk and remembers them per stream.
type fakeOpener struct {
	mu     sync.Mutex
	mk     func(cfg stream.Config) *fakeSource
	fail   map[string]bool
	opened map[string][]*fakeSource
}

func newFakeOpener(mk func(cfg stream.Config) *fakeSource) *fakeOpener {
	if mk == nil {
		mk = func(stream.Config) *fakeSource { return &fakeSource{frames: -1, delay: 2 * time.Millisecond} }
	}
	return &fakeOpener{mk: mk, fail: make(map[string]bool), opened: make(map[string][]*fakeSource)}
}

func (o *fakeOpener) Open(ctx context.Context, cfg stream.Config) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail[cfg.ID] {
		return nil, errors.New("connection refused")
	}
	src := o.mk(cfg)
	src.ctx = ctx
	o.opened[cfg.ID] = append(o.opened[cfg.ID], src)
	return src, nil
}

func (o *fakeOpener) setFail(id string, fail bool) {
	o.mu.Lock()
	o.fail[id] = fail
	o.mu.Unlock()
}

func (o *fakeOpener) sources(id string) []*fakeSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeSource(nil), o.opened[id]...)
}

// allClosed reports whether every source ever opened for id is closed.
func (o *fakeOpener) allClosed(id string) bool {
	for _, s := range o.sources(id) {
		if !s.closed.Load() {
			return false
		}
	}
	return true
}

type fakeRecorder struct {
	path   string
	writes atomic.Int64
	closed atomic.Bool
}

func (r *fakeRecorder) Write(image.Image) error { r.writes.Add(1); return nil }
func (r *fakeRecorder) Path() string            { return r.path }
func (r *fakeRecorder) Close() error            { r.closed.Store(true); return nil }

type fakeRecorders struct {
	mu      sync.Mutex
	created []*fakeRecorder
}

func (f *fakeRecorders) Create(cfg stream.Config, at time.Time) (Recorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &fakeRecorder{path: RecordingPath("videos", cfg.ID, at)}
	f.created = append(f.created, r)
	return r, nil
}

func (f *fakeRecorders) all() []*fakeRecorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeRecorder(nil), f.created...)
}

// fakePersister records persistence calls.
type fakePersister struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePersister) SaveStream(_ context.Context, cfg stream.Config) error {
	p.mu.Lock()
	p.calls = append(p.calls, "save "+cfg.ID)
	p.mu.Unlock()
	return nil
}

func (p *fakePersister) DeleteStream(_ context.Context, id string) error {
	p.mu.Lock()
	p.calls = append(p.calls, "delete "+id)
	p.mu.Unlock()
	return nil
}

func (p *fakePersister) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func enabledStream(id string) stream.Config {
	return stream.Config{ID: id, SourceURI: "rtsp://10.0.0.5/" + id, Enabled: true}
}

// eventually polls cond until it holds or d elapses.
func eventually(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
