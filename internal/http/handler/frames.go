package handler

import (
	"errors"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/edirooss/groundstation/internal/capture"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const mjpegBoundary = "groundstationframe"

// FramesHandler serves the newest converted frames of each stream.
//
// Supported operations:
//   - GET /streams/{id}/frame.jpg → Latest frame as JPEG
//   - GET /streams/{id}/mjpeg     → multipart/x-mixed-replace live view
type FramesHandler struct {
	log *zap.Logger
	reg *capture.Registry
	hub *capture.FrameHub
}

// NewFramesHandler constructs a FramesHandler.
func NewFramesHandler(log *zap.Logger, reg *capture.Registry, hub *capture.FrameHub) *FramesHandler {
	return &FramesHandler{log: log.Named("frames"), reg: reg, hub: hub}
}

// GetFrame handles GET /streams/{id}/frame.jpg.
//
// Status Codes:
//   - 200 OK → image/jpeg, `X-Frame-Seq` header
//   - 404 Not Found → Unknown stream or no frame captured yet
func (h *FramesHandler) GetFrame(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.reg.Get(id); !ok {
		abort(c, http.StatusNotFound, capture.ErrStreamNotFound)
		return
	}
	snap, ok := h.hub.Latest(id)
	if !ok {
		abort(c, http.StatusNotFound, errors.New("no frame captured yet"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Frame-Seq", strconv.FormatUint(snap.Seq, 10))
	c.Header("X-Frame-Captured-At", snap.CapturedAt.UTC().Format(time.RFC3339Nano))
	c.Data(http.StatusOK, "image/jpeg", snap.JPEG)
}

// GetMJPEG handles GET /streams/{id}/mjpeg.
//
// Behavior:
//   - Writes every new frame as one multipart part until the client goes
//     away or the stream finishes.
//
// Status Codes:
//   - 200 OK → multipart/x-mixed-replace
//   - 404 Not Found
func (h *FramesHandler) GetMJPEG(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.reg.Get(id); !ok {
		abort(c, http.StatusNotFound, capture.ErrStreamNotFound)
		return
	}

	ctx := c.Request.Context()
	mw := multipart.NewWriter(c.Writer)
	if err := mw.SetBoundary(mjpegBoundary); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	// the server's write timeout would cut the stream short
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	var seq uint64
	frames := 0
	defer func() {
		h.log.Debug("mjpeg client done", zap.String("stream_id", id), zap.Int("frames", frames))
	}()
	for {
		snap, err := h.hub.Next(ctx, id, seq)
		if err != nil {
			return
		}
		if snap.Seq != seq {
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {strconv.Itoa(len(snap.JPEG))},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(snap.JPEG); err != nil {
				return
			}
			c.Writer.Flush()
			seq = snap.Seq
			frames++
		}
		if snap.Finished {
			_ = mw.Close()
			return
		}
	}
}
