package capture

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/edirooss/groundstation/internal/domain/stream"
	"go.uber.org/zap"
)

// recorderRetry is how long a stream waits before retrying a failed recorder.
const recorderRetry = 5 * time.Second

// runtimeState is a stream's open handles. It belongs to exactly one worker
// and is never touched from another goroutine.
type runtimeState struct {
	id       string
	ctx      context.Context // cancelled when the stream is released
	src      Source
	rec      Recorder
	finished bool
	seq      uint64

	recRetryAt time.Time
	openFailed bool // last open attempt failed; quiets repeat warnings
}

// outcome of one step.
type outcome int

const (
	skipped outcome = iota
	openFailed
	produced
	finished
	interrupted // the worker is stopping
)

// pipeline is the per-stream step shared by both strategies.
type pipeline struct {
	log       *zap.Logger
	opener    Opener
	recorders RecorderFactory // nil disables recording
	now       func() time.Time
}

// step runs refresh → skip → open → read → record → convert for one stream.
func (p *pipeline) step(ctx context.Context, rt *runtimeState, cfg stream.Config, refresh bool) (Frame, outcome) {
	log := p.log.With(zap.String("stream_id", rt.id))

	// 1. refresh: drop handles, forget finished
	if refresh {
		if rt.src != nil || rt.rec != nil || rt.finished {
			log.Debug("refresh requested; releasing handles")
		}
		p.release(rt)
		rt.finished = false
		rt.openFailed = false
	}

	// 2. nothing to do
	if rt.finished || !cfg.Enabled || cfg.SourceURI == "" {
		return Frame{}, skipped
	}

	// 3. lazy open
	if rt.src == nil {
		src, err := p.opener.Open(rt.ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return Frame{}, interrupted
			}
			if rt.ctx.Err() != nil {
				return Frame{}, skipped // being released
			}
			if !rt.openFailed {
				log.Warn("open source failed; will retry", zap.Error(err))
			} else {
				log.Debug("open source failed", zap.Error(err))
			}
			rt.openFailed = true
			return Frame{}, openFailed
		}
		rt.src = src
		rt.openFailed = false
		log.Info("source opened")
	}

	// 4. read; any failure ends the source
	img, err := rt.src.Read()
	if err != nil {
		if ctx.Err() != nil {
			return Frame{}, interrupted
		}
		if rt.ctx.Err() != nil {
			return Frame{}, skipped // being released
		}
		if errors.Is(err, ErrSourceUnavailable) {
			if !rt.openFailed {
				log.Warn("source unavailable; will retry", zap.Error(err))
			}
			p.release(rt)
			rt.openFailed = true
			return Frame{}, openFailed
		}
		if errors.Is(err, ErrSourceExhausted) {
			log.Info("source finished")
		} else {
			log.Warn("read failed; source finished", zap.Error(err))
		}
		p.release(rt)
		rt.finished = true
		return Frame{}, finished
	}
	now := p.now()

	// 5. recording follows the flag
	p.record(log, rt, cfg, img, now)

	// 6. convert; the source image is not reused after this point
	rt.seq++
	return Frame{
		StreamID:   rt.id,
		Seq:        rt.seq,
		Image:      Convert(img, cfg.Color, cfg.Scaling),
		CapturedAt: now,
	}, produced
}

func (p *pipeline) record(log *zap.Logger, rt *runtimeState, cfg stream.Config, img image.Image, now time.Time) {
	if !cfg.Recording || p.recorders == nil {
		if rt.rec != nil {
			p.closeRecorder(log, rt)
		}
		return
	}

	if rt.rec == nil {
		if now.Before(rt.recRetryAt) {
			return
		}
		rec, err := p.recorders.Create(cfg, now)
		if err != nil {
			log.Warn("create recorder failed", zap.Error(err))
			rt.recRetryAt = now.Add(recorderRetry)
			return
		}
		rt.rec = rec
		log.Info("recording started", zap.String("path", rec.Path()))
	}

	if err := rt.rec.Write(img); err != nil {
		log.Warn("recorder write failed; closing", zap.String("path", rt.rec.Path()), zap.Error(err))
		p.closeRecorder(log, rt)
		rt.recRetryAt = now.Add(recorderRetry)
	}
}

func (p *pipeline) closeRecorder(log *zap.Logger, rt *runtimeState) {
	path := rt.rec.Path()
	if err := rt.rec.Close(); err != nil {
		log.Warn("close recorder failed", zap.String("path", path), zap.Error(err))
	} else {
		log.Info("recording stopped", zap.String("path", path))
	}
	rt.rec = nil
}

// release closes every handle of rt.
func (p *pipeline) release(rt *runtimeState) {
	if rt.rec != nil {
		p.closeRecorder(p.log.With(zap.String("stream_id", rt.id)), rt)
	}
	if rt.src != nil {
		if err := rt.src.Close(); err != nil {
			p.log.Debug("close source failed", zap.String("stream_id", rt.id), zap.Error(err))
		}
		rt.src = nil
	}
}
