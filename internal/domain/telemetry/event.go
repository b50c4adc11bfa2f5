package telemetry

import (
	"encoding/json"
	"time"
)

// Event is one decoded sensor category from a telemetry datagram. It has no
// identity of its own until a store assigns one.
type Event struct {
	ID         int64           `json:"id,omitempty"`
	Category   string          `json:"category"`
	Type       Type            `json:"type"`
	Severity   int             `json:"severity"`
	Value      json.RawMessage `json:"value"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Type is the numeric category code kept in the event table.
type Type int16

const (
	TypeOther Type = iota
	TypeDrive
	TypeTemperature
	TypeCompass
	TypeBattery
	TypeRotation
	TypeStatus
)

// SeverityKey is the reserved top-level key carrying the severity shared by
// every category of a datagram.
const SeverityKey = "severity"

var categoryTypes = map[string]Type{
	"drive":       TypeDrive,
	"temperature": TypeTemperature,
	"compass":     TypeCompass,
	"battery":     TypeBattery,
	"rotation":    TypeRotation,
	"status":      TypeStatus,
}

// TypeOf maps a category name to its code. Unknown categories map to TypeOther.
func TypeOf(category string) Type {
	return categoryTypes[category]
}

// KnownCategory reports whether category has a dedicated type code.
func KnownCategory(category string) bool {
	_, ok := categoryTypes[category]
	return ok
}
