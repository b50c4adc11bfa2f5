package handler

import (
	"errors"
	"net/http"

	"github.com/edirooss/groundstation/internal/capture"
	"github.com/edirooss/groundstation/internal/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CaptureHandler exposes the capture scheduler.
//
// Supported operations:
//   - GET /capture          → Scheduler status
//   - PUT /capture/strategy → Switch between per_stream and synchronized
type CaptureHandler struct {
	log   *zap.Logger
	sched *capture.Scheduler
}

// NewCaptureHandler constructs a CaptureHandler.
func NewCaptureHandler(log *zap.Logger, sched *capture.Scheduler) *CaptureHandler {
	return &CaptureHandler{log: log.Named("capture"), sched: sched}
}

// GetStatus handles GET /capture.
//
// Status Codes:
//   - 200 OK → JSON of scheduler status
func (h *CaptureHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.sched.Status())
}

// SetStrategy handles PUT /capture/strategy.
//
// Behavior:
//   - Stops every worker and starts the new arrangement. The registry
//     (recording flags included) is unaffected.
//   - Setting the current strategy is a no-op.
//
// Status Codes:
//   - 200 OK → JSON of scheduler status
//   - 400 Bad Request → Invalid JSON or missing `strategy`
//   - 422 Unprocessable Entity → Unknown strategy
func (h *CaptureHandler) SetStrategy(c *gin.Context) {
	var req dto.CaptureStrategy
	if err := bind(c.Request, &req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if req.Strategy == "" {
		abort(c, http.StatusBadRequest, errors.New("strategy is required"))
		return
	}
	next, err := capture.ParseStrategy(req.Strategy)
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, err)
		return
	}

	h.sched.SetStrategy(next)
	c.JSON(http.StatusOK, h.sched.Status())
}
