package capture

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StreamStatus is a worker's view of one stream.
type StreamStatus struct {
	Open        bool      `json:"open"`
	Finished    bool      `json:"finished"`
	Recording   string    `json:"recording,omitempty"` // output path while recording
	Frames      uint64    `json:"frames"`
	LastFrameAt time.Time `json:"last_frame_at,omitempty"`
	Worker      string    `json:"worker"`
}

type releaseReq struct {
	id   string
	done chan struct{}
}

// Worker runs the capture loop for the streams it owns: a single stream under
// the per-stream strategy, or every registered stream under the synchronized
// strategy. Handles are touched only by the loop goroutine; after the loop
// exits, Stop closes them.
type Worker struct {
	log   *zap.Logger
	name  string
	reg   *Registry
	pipe  *pipeline
	bus   *Bus
	idle  time.Duration
	batch bool

	// streams lists the ids to visit this tick
	streams func() []string

	states    map[string]*runtimeState // loop-owned
	releaseCh chan releaseReq

	// per-stream cancel of the context handed to the opener; lets release
	// interrupt an open or read in flight
	abortMu sync.Mutex
	aborts  map[string]context.CancelFunc

	statusMu sync.Mutex
	status   map[string]StreamStatus

	cancel  context.CancelFunc
	done    chan struct{} // loop exited
	stopped chan struct{} // handles closed
	once    sync.Once
}

func newWorker(log *zap.Logger, name string, reg *Registry, pipe *pipeline, bus *Bus, idle time.Duration, batch bool, streams func() []string) *Worker {
	return &Worker{
		log:       log.With(zap.String("worker", name)),
		name:      name,
		reg:       reg,
		pipe:      pipe,
		bus:       bus,
		idle:      idle,
		batch:     batch,
		streams:   streams,
		states:    make(map[string]*runtimeState),
		releaseCh: make(chan releaseReq),
		aborts:    make(map[string]context.CancelFunc),
		status:    make(map[string]StreamStatus),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// start launches the loop.
func (w *Worker) start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
	w.log.Debug("worker started")
}

// Stop cancels the loop, waits for it to exit, then closes every handle.
// Nothing is in flight when it returns. Idempotent.
func (w *Worker) Stop() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.done
		}
		for id, rt := range w.states {
			w.pipe.release(rt)
			delete(w.states, id)
		}
		w.abortMu.Lock()
		for id, abort := range w.aborts {
			abort()
			delete(w.aborts, id)
		}
		w.abortMu.Unlock()
		w.reg.unbind(w)
		w.statusMu.Lock()
		w.status = make(map[string]StreamStatus)
		w.statusMu.Unlock()
		close(w.stopped)
		w.log.Debug("worker stopped")
	})
	<-w.stopped
}

// release closes id's handles on the loop goroutine and returns once they
// are closed. An open or read of id in flight is cancelled first.
func (w *Worker) release(id string) {
	w.abortMu.Lock()
	if abort, ok := w.aborts[id]; ok {
		abort()
	}
	w.abortMu.Unlock()

	req := releaseReq{id: id, done: make(chan struct{})}
	select {
	case w.releaseCh <- req:
		select {
		case <-req.done:
		case <-w.stopped:
		}
	case <-w.stopped:
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	for {
		if ctx.Err() != nil {
			return
		}
		if w.tick(ctx) {
			w.serveReleases()
			continue
		}

		// nothing this tick: back off, still serving releases
		t := time.NewTimer(w.idle)
	wait:
		for {
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case req := <-w.releaseCh:
				w.drop(req.id)
				close(req.done)
			case <-t.C:
				break wait
			}
		}
	}
}

// tick visits every owned stream once. It reports whether any frame was
// produced.
func (w *Worker) tick(ctx context.Context) bool {
	ids := w.streams()
	var batch map[string]Frame
	if w.batch {
		batch = make(map[string]Frame, len(ids))
	}
	got := false

	for _, id := range ids {
		w.serveReleases()
		if ctx.Err() != nil {
			return got
		}

		cfg, refresh, ok := w.reg.checkout(id, w)
		if !ok {
			w.drop(id)
			continue
		}
		rt := w.state(ctx, id)

		frame, out := w.pipe.step(ctx, rt, cfg, refresh)
		switch out {
		case produced:
			got = true
			if w.batch {
				batch[id] = frame
			} else {
				w.bus.Publish(Event{Kind: FrameReady, StreamID: id, Frame: frame, At: frame.CapturedAt})
			}
		case finished:
			w.bus.Publish(Event{Kind: StreamFinished, StreamID: id, At: w.pipe.now()})
		case interrupted:
			return got
		}
		w.setStatus(rt, frame, out)
	}

	if w.batch && len(batch) > 0 {
		w.bus.Publish(Event{Kind: BatchReady, Batch: batch, At: w.pipe.now()})
	}
	return got
}

// serveReleases handles pending release requests without blocking.
func (w *Worker) serveReleases() {
	for {
		select {
		case req := <-w.releaseCh:
			w.drop(req.id)
			close(req.done)
		default:
			return
		}
	}
}

func (w *Worker) state(ctx context.Context, id string) *runtimeState {
	rt, ok := w.states[id]
	if !ok {
		sctx, abort := context.WithCancel(ctx)
		rt = &runtimeState{id: id, ctx: sctx}
		w.states[id] = rt
		w.abortMu.Lock()
		w.aborts[id] = abort
		w.abortMu.Unlock()
	}
	return rt
}

// drop closes and forgets id's state. Loop-owned.
func (w *Worker) drop(id string) {
	if rt, ok := w.states[id]; ok {
		w.pipe.release(rt)
		delete(w.states, id)
	}
	w.abortMu.Lock()
	if abort, ok := w.aborts[id]; ok {
		abort()
		delete(w.aborts, id)
	}
	w.abortMu.Unlock()
	w.statusMu.Lock()
	delete(w.status, id)
	w.statusMu.Unlock()
}

func (w *Worker) setStatus(rt *runtimeState, frame Frame, out outcome) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()

	st := w.status[rt.id]
	st.Worker = w.name
	st.Open = rt.src != nil
	st.Finished = rt.finished
	st.Recording = ""
	if rt.rec != nil {
		st.Recording = rt.rec.Path()
	}
	if out == produced {
		st.Frames++
		st.LastFrameAt = frame.CapturedAt
	}
	w.status[rt.id] = st
}

// Status returns the worker's per-stream view.
func (w *Worker) Status() map[string]StreamStatus {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()

	out := make(map[string]StreamStatus, len(w.status))
	for id, st := range w.status {
		out[id] = st
	}
	return out
}
