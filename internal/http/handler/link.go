package handler

import (
	"errors"
	"net/http"

	"github.com/edirooss/groundstation/internal/command"
	"github.com/edirooss/groundstation/internal/controllink"
	"github.com/edirooss/groundstation/internal/domain/link"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Link is the part of the control link the API drives.
type Link interface {
	Status() controllink.Status
	Config() link.Config
	Send(payload []byte)
	Reconnect(cfg link.Config)
}

// LinkHandler exposes the rover control link.
//
// Supported operations:
//   - GET  /link           → Link status
//   - POST /link/commands  → Encode and queue one rover command
//   - POST /link/reconnect → Reopen sockets, optionally with a new config
type LinkHandler struct {
	log  *zap.Logger
	link Link
}

// NewLinkHandler constructs a LinkHandler.
func NewLinkHandler(log *zap.Logger, l Link) *LinkHandler {
	return &LinkHandler{log: log.Named("link"), link: l}
}

// GetStatus handles GET /link.
//
// Status Codes:
//   - 200 OK → JSON of link status
func (h *LinkHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.link.Status())
}

// SendCommand handles POST /link/commands.
//
// Behavior:
//   - Encodes the command into its rover datagram and queues it for the next
//     tick. Queueing never blocks; under backlog the oldest pending command
//     is dropped.
//
// Status Codes:
//   - 202 Accepted → {"payload": "<datagram>"}
//   - 400 Bad Request → Invalid JSON or schema
//   - 422 Unprocessable Entity → Unknown axis, button, mode or bad value
func (h *LinkHandler) SendCommand(c *gin.Context) {
	var req command.Request
	if err := bind(c.Request, &req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	payload, err := req.Encode()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, command.ErrInvalidCommand) {
			status = http.StatusUnprocessableEntity
		}
		abort(c, status, err)
		return
	}
	h.link.Send(payload)
	c.JSON(http.StatusAccepted, gin.H{"payload": string(payload)})
}

// Reconnect handles POST /link/reconnect.
//
// Behavior:
//   - Without a body the current configuration is reapplied.
//   - Fields present in the body override the current configuration. The
//     result takes effect on the next tick.
//
// Status Codes:
//   - 202 Accepted → JSON of the config being applied
//   - 400 Bad Request → Invalid JSON or schema
//   - 422 Unprocessable Entity → Validation failed
func (h *LinkHandler) Reconnect(c *gin.Context) {
	cfg := h.link.Config()
	if c.Request.ContentLength != 0 {
		if err := bind(c.Request, &cfg); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
	}
	if err := cfg.Validate(); err != nil {
		abort(c, http.StatusUnprocessableEntity, err)
		return
	}
	h.log.Info("reconnect requested", zap.String("server", cfg.ServerEndpoint()))
	h.link.Reconnect(cfg)
	c.JSON(http.StatusAccepted, cfg)
}
