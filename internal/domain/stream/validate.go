package stream

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/edirooss/groundstation/pkg/avurl"
)

const (
	maxIDLen     = 64
	maxSourceLen = 2048
	maxDimension = 7680
)

// ValidateID checks the registry key: 1..64 chars of letters, digits,
// space, '-', '_' or '.'.
func ValidateID(id string) error {
	if len(id) < 1 {
		return errors.New("id must be at least 1 character")
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("id must be at most %d characters", maxIDLen)
	}
	for _, r := range id {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' || r == '.') {
			return fmt.Errorf("id contains invalid character %q", r)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if err := ValidateID(c.ID); err != nil {
		return err
	}

	// source_uri: optional; when set, must split into a sane media URL
	if c.SourceURI != "" {
		if len(c.SourceURI) > maxSourceLen {
			return fmt.Errorf("source_uri must be at most %d characters", maxSourceLen)
		}
		if _, err := avurl.Parse(c.SourceURI); err != nil {
			return fmt.Errorf("invalid source_uri: %s", err)
		}
	}

	if c.Color != Color && c.Color != Gray {
		return fmt.Errorf("invalid color mode %d", int(c.Color))
	}

	if !c.Scaling.IsSource() && (c.Scaling.Width > maxDimension || c.Scaling.Height > maxDimension) {
		return fmt.Errorf("scaling must be at most %dx%d", maxDimension, maxDimension)
	}

	if c.Window.W < 0 || c.Window.H < 0 {
		return errors.New("window size must not be negative")
	}

	// recording requires something to record
	if c.Recording && c.SourceURI == "" {
		return errors.New("recording requires source_uri")
	}
	return nil
}
