package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// Config is one configured video source. ID is the unique registry key and
// never changes for the lifetime of the entry.
type Config struct {
	ID        string       `json:"id"`         //
	SourceURI string       `json:"source_uri"` // empty means "not configured yet"
	Color     ColorMode    `json:"color"`      //
	Scaling   Scaling      `json:"scaling"`    //
	Enabled   bool         `json:"enabled"`    //
	Window    WindowBounds `json:"window"`     // placement of the consumer window
	Recording bool         `json:"recording"`  //
}

// WindowBounds is the on-screen placement of the frame consumer.
type WindowBounds struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// ColorMode selects pass-through color or grayscale conversion.
type ColorMode int

const (
	Color ColorMode = iota
	Gray
)

func (m ColorMode) String() string {
	switch m {
	case Color:
		return "color"
	case Gray:
		return "gray"
	default:
		return "unknown"
	}
}

func (m ColorMode) MarshalText() ([]byte, error) {
	if m != Color && m != Gray {
		return nil, fmt.Errorf("invalid color mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *ColorMode) UnmarshalText(b []byte) error {
	v, err := ParseColorMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseColorMode accepts "color"/"gray" and the legacy numeric form ("0"/"1").
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "color", "colour", "rgb", "0":
		return Color, nil
	case "gray", "grey", "grayscale", "1":
		return Gray, nil
	default:
		return Color, fmt.Errorf("invalid color mode: '%s'", s)
	}
}

// Scaling is either pass-through ("source") or a fixed target size.
type Scaling struct {
	Width  int
	Height int
}

// Source is the pass-through scaling.
var Source = Scaling{}

// Fixed returns a fixed-size scaling.
func Fixed(w, h int) Scaling { return Scaling{Width: w, Height: h} }

// IsSource reports pass-through sizing.
func (s Scaling) IsSource() bool { return s.Width <= 0 || s.Height <= 0 }

func (s Scaling) String() string {
	if s.IsSource() {
		return "source"
	}
	return strconv.Itoa(s.Width) + "x" + strconv.Itoa(s.Height)
}

func (s Scaling) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Scaling) UnmarshalText(b []byte) error {
	v, err := ParseScaling(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseScaling parses "WxH". "", "source" and "0x0" mean pass-through.
func ParseScaling(raw string) (Scaling, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || s == "source" || s == "0x0" {
		return Source, nil
	}
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return Source, fmt.Errorf("invalid scaling: '%s' (want WxH)", raw)
	}
	w, err := strconv.Atoi(strings.TrimSpace(ws))
	if err != nil {
		return Source, fmt.Errorf("invalid scaling width: '%s'", ws)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hs))
	if err != nil {
		return Source, fmt.Errorf("invalid scaling height: '%s'", hs)
	}
	if w < 0 || h < 0 {
		return Source, fmt.Errorf("invalid scaling: '%s' (negative size)", raw)
	}
	if w == 0 || h == 0 {
		return Source, nil
	}
	return Fixed(w, h), nil
}
