package dto

import (
	"github.com/edirooss/groundstation/internal/capture"
	"github.com/edirooss/groundstation/internal/domain/stream"
)

// StreamView is one stream as returned by the API: its configuration plus
// the live capture status when a worker serves it.
type StreamView struct {
	stream.Config
	Status *capture.StreamStatus `json:"status"`
}

// StreamRecording is the body of PUT /api/streams/:id/recording.
type StreamRecording struct {
	Recording *bool `json:"recording"` // required; bool
}

// CaptureStrategy is the body of PUT /api/capture/strategy.
type CaptureStrategy struct {
	Strategy string `json:"strategy"` // required; per_stream | synchronized
}
