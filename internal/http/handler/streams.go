package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/edirooss/groundstation/internal/capture"
	"github.com/edirooss/groundstation/internal/domain/stream"
	"github.com/edirooss/groundstation/internal/http/dto"
	"github.com/edirooss/groundstation/pkg/jsonx"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultLogLines = 100
	maxLogLines     = 500
)

// StatusSource reports live capture state per stream.
type StatusSource interface {
	StreamStatus(id string) (capture.StreamStatus, bool)
}

// LogSource exposes captured process output per owner, newest line first.
type LogSource interface {
	Logs(owner string, lines int) ([]string, bool)
	Forget(owner string)
}

// StreamsHandler provides RESTful HTTP handlers for stream resources.
//
// Supported operations:
//   - GET    /streams                → List all streams
//   - POST   /streams                → Create a new stream
//   - GET    /streams/{id}           → Retrieve a stream
//   - PUT    /streams/{id}           → Replace a stream (full update)
//   - PATCH  /streams/{id}           → Modify a stream (RFC 7396 merge patch)
//   - DELETE /streams/{id}           → Remove a stream
//   - PUT    /streams/{id}/recording → Toggle recording
//   - POST   /streams/{id}/refresh   → Reopen the source
//   - GET    /streams/{id}/logs      → Tail ffmpeg stderr
//
// Frames are served by FramesHandler.
type StreamsHandler struct {
	log    *zap.Logger
	reg    *capture.Registry
	status StatusSource
	logs   LogSource
	hub    *capture.FrameHub
}

// NewStreamsHandler constructs a StreamsHandler. status, logs and hub may be
// nil.
func NewStreamsHandler(log *zap.Logger, reg *capture.Registry, status StatusSource, logs LogSource, hub *capture.FrameHub) *StreamsHandler {
	return &StreamsHandler{
		log:    log.Named("streams"),
		reg:    reg,
		status: status,
		logs:   logs,
		hub:    hub,
	}
}

func (h *StreamsHandler) view(cfg stream.Config) dto.StreamView {
	v := dto.StreamView{Config: cfg}
	if h.status != nil {
		if st, ok := h.status.StreamStatus(cfg.ID); ok {
			v.Status = &st
		}
	}
	return v
}

// GetStreamList handles GET /streams.
//
// Behavior:
//   - Returns all streams in registry order.
//   - Adds `X-Total-Count` header.
//
// Status Codes:
//   - 200 OK → JSON array of streams
func (h *StreamsHandler) GetStreamList(c *gin.Context) {
	cfgs := h.reg.Snapshot()
	views := make([]dto.StreamView, len(cfgs))
	for i, cfg := range cfgs {
		views[i] = h.view(cfg)
	}
	c.Header("X-Total-Count", strconv.Itoa(len(views)))
	c.JSON(http.StatusOK, views)
}

// CreateStream handles POST /streams.
//
// Behavior:
//   - Validates request body.
//   - Adds the stream with defaults applied.
//   - Responds with resource location in `Location` header.
//
// Status Codes:
//   - 201 Created → JSON of created stream
//   - 400 Bad Request → Invalid JSON or schema
//   - 409 Conflict → A stream with that id exists
//   - 422 Unprocessable Entity → Validation failed
func (h *StreamsHandler) CreateStream(c *gin.Context) {
	var req dto.StreamCreate
	if err := bind(c.Request, &req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	cfg, err := req.ToConfig()
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, err)
		return
	}

	if !h.reg.Add(cfg) {
		abort(c, http.StatusConflict, fmt.Errorf("%w: '%s'", capture.ErrStreamExists, cfg.ID))
		return
	}

	c.Header("Location", "/api/streams/"+url.PathEscape(cfg.ID))
	c.JSON(http.StatusCreated, h.view(cfg))
}

// GetStream handles GET /streams/{id}.
//
// Status Codes:
//   - 200 OK → JSON of stream
//   - 404 Not Found
func (h *StreamsHandler) GetStream(c *gin.Context) {
	cfg, ok := h.reg.Get(c.Param("id"))
	if !ok {
		abort(c, http.StatusNotFound, capture.ErrStreamNotFound)
		return
	}
	c.JSON(http.StatusOK, h.view(cfg))
}

// ReplaceStream handles PUT /streams/{id}.
//
// Behavior:
//   - Replaces every field of the stream. The id in the body, when given,
//     must match the path.
//   - The capture worker reopens the source on its next iteration.
//
// Status Codes:
//   - 200 OK → JSON of updated stream
//   - 400 Bad Request → Invalid JSON or schema
//   - 404 Not Found
//   - 422 Unprocessable Entity → Validation failed
func (h *StreamsHandler) ReplaceStream(c *gin.Context) {
	id := c.Param("id")

	var cfg stream.Config
	if err := bind(c.Request, &cfg); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if cfg.ID != "" && cfg.ID != id {
		abort(c, http.StatusUnprocessableEntity, errors.New("id cannot be changed"))
		return
	}
	cfg.ID = id
	if err := cfg.Validate(); err != nil {
		abort(c, http.StatusUnprocessableEntity, err)
		return
	}

	if !h.reg.Update(id, func(cur *stream.Config) { *cur = cfg }) {
		abort(c, http.StatusNotFound, capture.ErrStreamNotFound)
		return
	}
	c.JSON(http.StatusOK, h.view(cfg))
}

// ModifyStream handles PATCH /streams/{id}.
//
// Behavior:
//   - Applies an RFC 7396 merge patch to the current stream.
//   - A patch that changes nothing is answered with 204 and does not reopen
//     the source.
//
// Status Codes:
//   - 200 OK → JSON of updated stream
//   - 204 No Content → No-op patch
//   - 400 Bad Request → Invalid JSON, schema or patch
//   - 404 Not Found
//   - 415 Unsupported Media Type → Not application/merge-patch+json
//   - 422 Unprocessable Entity → Validation failed
func (h *StreamsHandler) ModifyStream(c *gin.Context) {
	id := c.Param("id")

	mt, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mt != "application/merge-patch+json" {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"message": "only application/merge-patch+json is supported for PATCH",
		})
		return
	}

	patch, err := io.ReadAll(io.LimitReader(c.Request.Body, jsonx.MaxBodyBytes))
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if len(bytes.TrimSpace(patch)) == 0 {
		abort(c, http.StatusBadRequest, jsonx.ErrEmptyBody)
		return
	}
	if !json.Valid(patch) {
		abort(c, http.StatusBadRequest, errors.New("malformed JSON"))
		return
	}

	// the patch is applied against the config current at write time
	var (
		status  = http.StatusBadRequest
		patched stream.Config
	)
	changed, err := h.reg.Patch(id, func(cur stream.Config) (stream.Config, bool, error) {
		candidate, changed, err := applyMergePatch(cur, patch)
		if err != nil {
			return cur, false, err
		}
		if candidate.ID != id {
			status = http.StatusUnprocessableEntity
			return cur, false, errors.New("id cannot be changed")
		}
		if err := candidate.Validate(); err != nil {
			status = http.StatusUnprocessableEntity
			return cur, false, err
		}
		patched = candidate
		return candidate, changed, nil
	})
	switch {
	case errors.Is(err, capture.ErrStreamNotFound):
		abort(c, http.StatusNotFound, err)
	case err != nil:
		abort(c, status, err)
	case !changed:
		c.Status(http.StatusNoContent)
	default:
		c.JSON(http.StatusOK, h.view(patched))
	}
}

func applyMergePatch(current stream.Config, patch []byte) (stream.Config, bool, error) {
	orig, err := json.Marshal(current)
	if err != nil {
		return current, false, fmt.Errorf("encode current: %w", err)
	}
	patched, err := jsonpatch.MergePatch(orig, patch)
	if err != nil {
		return current, false, fmt.Errorf("invalid merge patch: %w", err)
	}
	var candidate stream.Config
	if err := jsonx.DecodeStrict(patched, &candidate); err != nil {
		return current, false, fmt.Errorf("patched stream: %w", err)
	}
	return candidate, candidate != current, nil
}

// DeleteStream handles DELETE /streams/{id}.
//
// Behavior:
//   - Removes the stream. The capture worker closes the source before the
//     response is sent.
//
// Status Codes:
//   - 204 No Content
//   - 404 Not Found
func (h *StreamsHandler) DeleteStream(c *gin.Context) {
	id := c.Param("id")
	if !h.reg.Remove(id) {
		abort(c, http.StatusNotFound, capture.ErrStreamNotFound)
		return
	}
	if h.hub != nil {
		h.hub.Forget(id)
	}
	if h.logs != nil {
		h.logs.Forget(id)
		h.logs.Forget(id + capture.RecorderSuffix)
	}
	c.Status(http.StatusNoContent)
}

// SetRecording handles PUT /streams/{id}/recording.
//
// Behavior:
//   - Starts or stops recording without reopening the source.
//
// Status Codes:
//   - 200 OK → JSON of stream
//   - 400 Bad Request → Invalid JSON or missing `recording`
//   - 404 Not Found
//   - 422 Unprocessable Entity → Stream has no source to record
func (h *StreamsHandler) SetRecording(c *gin.Context) {
	id := c.Param("id")

	var req dto.StreamRecording
	if err := bind(c.Request, &req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if req.Recording == nil {
		abort(c, http.StatusBadRequest, errors.New("recording is required"))
		return
	}

	cfg, ok := h.reg.Get(id)
	if !ok {
		abort(c, http.StatusNotFound, capture.ErrStreamNotFound)
		return
	}
	if *req.Recording && cfg.SourceURI == "" {
		abort(c, http.StatusUnprocessableEntity, errors.New("recording requires source_uri"))
		return
	}

	if !h.reg.SetRecording(id, *req.Recording) {
		abort(c, http.StatusNotFound, capture.ErrStreamNotFound)
		return
	}
	cfg.Recording = *req.Recording
	c.JSON(http.StatusOK, h.view(cfg))
}

// RefreshStream handles POST /streams/{id}/refresh.
//
// Behavior:
//   - Asks the capture worker to reopen the source, reviving a finished one.
//
// Status Codes:
//   - 202 Accepted
//   - 404 Not Found
func (h *StreamsHandler) RefreshStream(c *gin.Context) {
	if !h.reg.Refresh(c.Param("id")) {
		abort(c, http.StatusNotFound, capture.ErrStreamNotFound)
		return
	}
	c.Status(http.StatusAccepted)
}

// GetStreamLogs handles GET /streams/{id}/logs?lines=N&process=capture|recorder.
//
// Status Codes:
//   - 200 OK → {"lines": [...]} oldest first
//   - 400 Bad Request → Invalid query
//   - 404 Not Found
func (h *StreamsHandler) GetStreamLogs(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.reg.Get(id); !ok {
		abort(c, http.StatusNotFound, capture.ErrStreamNotFound)
		return
	}

	n := defaultLogLines
	if raw := c.Query("lines"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			abort(c, http.StatusBadRequest, fmt.Errorf("invalid lines: '%s'", raw))
			return
		}
		n = min(v, maxLogLines)
	}

	owner := id
	switch c.DefaultQuery("process", "capture") {
	case "capture":
	case "recorder":
		owner = id + capture.RecorderSuffix
	default:
		abort(c, http.StatusBadRequest, fmt.Errorf("invalid process: '%s'", c.Query("process")))
		return
	}

	lines := []string{}
	if h.logs != nil {
		if got, ok := h.logs.Logs(owner, n); ok && len(got) > 0 {
			lines = got
			slices.Reverse(lines)
		}
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}
