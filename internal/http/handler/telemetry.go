package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	domain "github.com/edirooss/groundstation/internal/domain/telemetry"
	"github.com/edirooss/groundstation/internal/telemetry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EventFinder answers history queries.
type EventFinder interface {
	Find(ctx context.Context, q telemetry.Query) (telemetry.QueryResult, error)
}

// LiveTelemetry reports what the link received since start.
type LiveTelemetry interface {
	Latest() map[string]domain.Event
	Stats() telemetry.DispatchStats
}

// TelemetryHandler exposes received rover telemetry.
//
// Supported operations:
//   - GET /telemetry/events → Stored history, newest first
//   - GET /telemetry/latest → Newest event per category since start
type TelemetryHandler struct {
	log    *zap.Logger
	finder EventFinder
	live   LiveTelemetry
}

// NewTelemetryHandler constructs a TelemetryHandler.
func NewTelemetryHandler(log *zap.Logger, finder EventFinder, live LiveTelemetry) *TelemetryHandler {
	return &TelemetryHandler{log: log.Named("telemetry"), finder: finder, live: live}
}

// GetEvents handles GET /telemetry/events?category=&from=&to=&limit=.
//
// Behavior:
//   - from/to are RFC 3339 timestamps; from is inclusive, to exclusive.
//   - Results are cached briefly; identical concurrent queries share one
//     store round trip.
//   - Adds `X-Cache`, `X-Telemetry-Generated-At` and `X-Total-Count` headers.
//
// Status Codes:
//   - 200 OK → JSON array of events
//   - 400 Bad Request → Invalid query
//   - 503 Service Unavailable → No telemetry store configured
//   - 500 Internal Server Error
func (h *TelemetryHandler) GetEvents(c *gin.Context) {
	q, err := parseEventQuery(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	res, err := h.finder.Find(c.Request.Context(), q)
	if err != nil {
		if errors.Is(err, telemetry.ErrStoreNotConfigured) {
			abort(c, http.StatusServiceUnavailable, err)
			return
		}
		abort(c, http.StatusInternalServerError, err)
		return
	}

	if res.CacheHit {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.Header("X-Telemetry-Generated-At", res.GeneratedAt.UTC().Format(time.RFC3339Nano))
	c.Header("X-Total-Count", strconv.Itoa(len(res.Events)))
	events := res.Events
	if events == nil {
		events = []domain.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func parseEventQuery(c *gin.Context) (telemetry.Query, error) {
	q := telemetry.Query{Category: c.Query("category")}
	var err error
	if raw := c.Query("from"); raw != "" {
		if q.From, err = time.Parse(time.RFC3339, raw); err != nil {
			return q, fmt.Errorf("invalid from: '%s'", raw)
		}
	}
	if raw := c.Query("to"); raw != "" {
		if q.To, err = time.Parse(time.RFC3339, raw); err != nil {
			return q, fmt.Errorf("invalid to: '%s'", raw)
		}
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return q, errors.New("from must be before to")
	}
	if raw := c.Query("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil || q.Limit < 1 {
			return q, fmt.Errorf("invalid limit: '%s'", raw)
		}
	}
	return q, nil
}

// GetLatest handles GET /telemetry/latest.
//
// Status Codes:
//   - 200 OK → {"events": {category: event}, "stats": {...}}
func (h *TelemetryHandler) GetLatest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"events": h.live.Latest(),
		"stats":  h.live.Stats(),
	})
}
