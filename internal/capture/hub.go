package capture

import (
	"bytes"
	"context"
	"image/jpeg"
	"sync"
	"time"

	"go.uber.org/zap"
)

// hubSubscriber is the FrameHub's bus subscription id.
const hubSubscriber = "frame_hub"

// Snapshot is the latest encoded frame of a stream.
type Snapshot struct {
	JPEG       []byte
	Seq        uint64
	CapturedAt time.Time
	Finished   bool
}

type hubSlot struct {
	snap    Snapshot
	changed chan struct{} // closed and replaced on every update
}

// FrameHub keeps the newest frame of every stream, JPEG-encoded once, for
// HTTP consumers.
type FrameHub struct {
	log     *zap.Logger
	quality int
	events  chan Event
	known   func(id string) bool // nil accepts every id

	mu    sync.Mutex
	slots map[string]*hubSlot
}

// NewFrameHub subscribes to bus. Run must be called to consume events.
// Frames of ids that known rejects are dropped, so a frame still queued when
// its stream is deleted does not bring the slot back.
func NewFrameHub(log *zap.Logger, bus *Bus, quality int, known func(id string) bool) (*FrameHub, error) {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	h := &FrameHub{
		log:     log.Named("frame_hub"),
		quality: quality,
		events:  make(chan Event, 16),
		known:   known,
		slots:   make(map[string]*hubSlot),
	}
	if err := bus.Subscribe(hubSubscriber, h.events); err != nil {
		return nil, err
	}
	return h, nil
}

// Run consumes bus events until ctx is done.
func (h *FrameHub) Run(ctx context.Context) error {
	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.events:
			switch ev.Kind {
			case FrameReady, BatchReady:
				for _, f := range ev.Frames() {
					buf.Reset()
					if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: h.quality}); err != nil {
						h.log.Debug("encode frame failed", zap.String("stream_id", f.StreamID), zap.Error(err))
						continue
					}
					h.put(f.StreamID, Snapshot{
						JPEG:       bytes.Clone(buf.Bytes()),
						Seq:        f.Seq,
						CapturedAt: f.CapturedAt,
					})
				}
			case StreamFinished:
				h.markFinished(ev.StreamID)
			}
		}
	}
}

func (h *FrameHub) slot(id string) *hubSlot {
	s, ok := h.slots[id]
	if !ok {
		s = &hubSlot{changed: make(chan struct{})}
		h.slots[id] = s
	}
	return s
}

// live must be called with h.mu held; Forget then cannot slip between the
// check and the write.
func (h *FrameHub) live(id string) bool {
	return h.known == nil || h.known(id)
}

func (h *FrameHub) put(id string, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live(id) {
		return
	}

	s := h.slot(id)
	s.snap = snap
	close(s.changed)
	s.changed = make(chan struct{})
}

func (h *FrameHub) markFinished(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live(id) {
		return
	}

	s := h.slot(id)
	s.snap.Finished = true
	close(s.changed)
	s.changed = make(chan struct{})
}

// Latest returns the newest frame of id.
func (h *FrameHub) Latest(id string) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.slots[id]
	if !ok || s.snap.JPEG == nil {
		return Snapshot{}, false
	}
	return s.snap, true
}

// Next blocks until id has a frame newer than afterSeq, the stream finishes,
// or ctx is done. It returns ErrStreamNotFound once id is deleted.
func (h *FrameHub) Next(ctx context.Context, id string, afterSeq uint64) (Snapshot, error) {
	for {
		h.mu.Lock()
		if !h.live(id) {
			h.mu.Unlock()
			return Snapshot{}, ErrStreamNotFound
		}
		s := h.slot(id)
		snap, changed := s.snap, s.changed
		h.mu.Unlock()

		if snap.JPEG != nil && (snap.Seq != afterSeq || snap.Finished) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-changed:
		}
	}
}

// Forget drops id's frame.
func (h *FrameHub) Forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.slots[id]; ok {
		close(s.changed)
		delete(h.slots, id)
	}
}
