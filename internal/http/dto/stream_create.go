package dto

import (
	"strings"

	"github.com/edirooss/groundstation/internal/domain/stream"
	"github.com/edirooss/groundstation/pkg/avurl"
	"github.com/edirooss/groundstation/pkg/jsonx"
	"github.com/mcuadros/go-defaults"
)

// StreamCreate is the body of POST /api/streams.
//   - id is required. Everything else is optional.
type StreamCreate struct {
	ID        string              `json:"id"`                       // required; string
	SourceURI string              `json:"source_uri"`               // optional; string        (default: "" = not configured)
	Port      int                 `json:"port"`                     // optional; uint          (folded into source_uri when it has no port)
	Color     string              `json:"color"   default:"color"`  // optional; color | gray  (default: color)
	Scaling   string              `json:"scaling" default:"source"` // optional; source | WxH  (default: source)
	Enabled   jsonx.Field[bool]   `json:"enabled"`                  // optional; bool          (default: true)
	Window    stream.WindowBounds `json:"window"`                   // optional; object        (default: 0,0,0,0)
	Recording bool                `json:"recording"`                // optional; bool          (default: false)
}

// ToConfig applies defaults and converts the request into a validated
// stream.Config.
func (req *StreamCreate) ToConfig() (stream.Config, error) {
	defaults.SetDefaults(req)

	cfg := stream.Config{
		ID:        strings.TrimSpace(req.ID),
		SourceURI: avurl.WithDefaultPort(strings.TrimSpace(req.SourceURI), req.Port),
		Enabled:   req.Enabled.Or(true),
		Window:    req.Window,
		Recording: req.Recording,
	}

	var err error
	if cfg.Color, err = stream.ParseColorMode(req.Color); err != nil {
		return cfg, err
	}
	if cfg.Scaling, err = stream.ParseScaling(req.Scaling); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
