// Package telemetry persists and relays decoded rover telemetry.
//
// The control link hands every decoded event to a Dispatcher on its tick
// goroutine. The Dispatcher never blocks: each destination sits behind an
// AsyncSink with a bounded queue, and a full queue drops the event.
package telemetry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	domain "github.com/edirooss/groundstation/internal/domain/telemetry"
	"go.uber.org/zap"
)

// ErrStoreNotConfigured is returned by queries when no event store is wired.
var ErrStoreNotConfigured = errors.New("telemetry store not configured")

// Writer is a batch destination for events. The slice is reused after Write
// returns.
type Writer interface {
	Write(ctx context.Context, events []domain.Event) error
}

// SinkOptions tune an AsyncSink.
type SinkOptions struct {
	Capacity      int           // queue length; default 1024
	BatchSize     int           // max events per Write; default 64
	FlushInterval time.Duration // max age of a partial batch; default 500ms
	WriteTimeout  time.Duration // per Write; default 3s
}

func (o *SinkOptions) setDefaults() {
	if o.Capacity <= 0 {
		o.Capacity = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
}

// SinkStats are cumulative counters.
type SinkStats struct {
	Submitted uint64 `json:"submitted"`
	Dropped   uint64 `json:"dropped"`
	Written   uint64 `json:"written"`
	Failed    uint64 `json:"failed"`
	Queued    int    `json:"queued"`
}

// AsyncSink batches events to a Writer on its own goroutine.
type AsyncSink struct {
	log  *zap.Logger
	name string
	w    Writer
	opts SinkOptions
	ch   chan domain.Event

	submitted atomic.Uint64
	dropped   atomic.Uint64
	written   atomic.Uint64
	failed    atomic.Uint64
}

func NewAsyncSink(log *zap.Logger, name string, w Writer, opts SinkOptions) *AsyncSink {
	opts.setDefaults()
	return &AsyncSink{
		log:  log.Named("sink").With(zap.String("sink", name)),
		name: name,
		w:    w,
		opts: opts,
		ch:   make(chan domain.Event, opts.Capacity),
	}
}

// Name identifies the sink in logs and stats.
func (s *AsyncSink) Name() string { return s.name }

// Submit queues ev without blocking. It reports false when the queue is full
// and the event was dropped.
func (s *AsyncSink) Submit(ev domain.Event) bool {
	s.submitted.Add(1)
	select {
	case s.ch <- ev:
		return true
	default:
		if s.dropped.Add(1)%100 == 1 {
			s.log.Warn("queue full; dropping events", zap.Uint64("dropped_total", s.dropped.Load()))
		}
		return false
	}
}

// Run writes batches until ctx is done, then flushes what is queued.
func (s *AsyncSink) Run(ctx context.Context) error {
	batch := make([]domain.Event, 0, s.opts.BatchSize)
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.ch:
					batch = append(batch, ev)
					if len(batch) == s.opts.BatchSize {
						batch = s.flush(batch)
					}
				default:
					s.flush(batch)
					return nil
				}
			}
		case ev := <-s.ch:
			batch = append(batch, ev)
			if len(batch) == s.opts.BatchSize {
				batch = s.flush(batch)
			}
		case <-ticker.C:
			batch = s.flush(batch)
		}
	}
}

// flush writes batch and returns it emptied. The write runs on a fresh
// context so a final flush still completes after shutdown starts.
func (s *AsyncSink) flush(batch []domain.Event) []domain.Event {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()

	if err := s.w.Write(ctx, batch); err != nil {
		s.failed.Add(uint64(len(batch)))
		s.log.Warn("write failed", zap.Int("events", len(batch)), zap.Error(err))
	} else {
		s.written.Add(uint64(len(batch)))
	}
	return batch[:0]
}

func (s *AsyncSink) Stats() SinkStats {
	return SinkStats{
		Submitted: s.submitted.Load(),
		Dropped:   s.dropped.Load(),
		Written:   s.written.Load(),
		Failed:    s.failed.Load(),
		Queued:    len(s.ch),
	}
}
