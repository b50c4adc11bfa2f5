package capture

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/edirooss/groundstation/internal/domain/stream"
)

var (
	// ErrSourceExhausted is returned by Source.Read at the end of a finite source.
	ErrSourceExhausted = errors.New("source exhausted")
	// ErrSourceUnavailable is returned by Source.Read when the source failed
	// before delivering its first frame. The stream is retried like a failed
	// open instead of being marked finished.
	ErrSourceUnavailable = errors.New("source unavailable")
)

// Source is an open capture handle. It is used by exactly one worker
// goroutine at a time.
type Source interface {
	// Read blocks until the next frame is decoded. Any error ends the source.
	Read() (image.Image, error)
	Close() error
}

// Opener opens capture handles. ctx is cancelled when the worker stops or the
// stream is removed; cancelling it must unblock a pending Read.
type Opener interface {
	Open(ctx context.Context, cfg stream.Config) (Source, error)
}

// Recorder writes raw frames to a file.
type Recorder interface {
	Write(img image.Image) error
	Path() string
	Close() error
}

// RecorderFactory creates a recorder for a stream. at stamps the output name.
type RecorderFactory interface {
	Create(cfg stream.Config, at time.Time) (Recorder, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, cfg stream.Config) (Source, error)

func (f OpenerFunc) Open(ctx context.Context, cfg stream.Config) (Source, error) { return f(ctx, cfg) }
