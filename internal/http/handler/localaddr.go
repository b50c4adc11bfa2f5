package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/edirooss/groundstation/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AddrLister reports the host addresses the control link can bind to.
type AddrLister interface {
	LocalAddrs(ctx context.Context) ([]service.LocalAddr, error)
}

type LocalAddrHandler struct {
	log *zap.Logger
	svc AddrLister
}

// NewLocalAddrHandler constructs a LocalAddrHandler.
func NewLocalAddrHandler(log *zap.Logger, svc AddrLister) *LocalAddrHandler {
	return &LocalAddrHandler{log: log.Named("localaddr"), svc: svc}
}

// GetLocalAddrList handles GET /link/localaddrs.
//
// Status Codes:
//   - 200 OK → JSON array of {iface, addr, multicast, loopback}
//   - 500 Internal Server Error → Interface table unreadable
func (h *LocalAddrHandler) GetLocalAddrList(c *gin.Context) {
	addrs, err := h.svc.LocalAddrs(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.Header("X-Total-Count", strconv.Itoa(len(addrs)))
	c.JSON(http.StatusOK, addrs)
}
