package controllink

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/edirooss/groundstation/internal/domain/telemetry"
)

var errNotObject = errors.New("telemetry datagram is not a JSON object")

// decodeTelemetry splits one datagram into one event per top-level key.
// The reserved "severity" key is not an event; its value is stamped on every
// event of the datagram. Events come back ordered by category.
func decodeTelemetry(datagram []byte, at time.Time) ([]telemetry.Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(datagram, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, errNotObject
		}
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if fields == nil {
		return nil, errNotObject
	}

	severity := 0
	if raw, ok := fields[telemetry.SeverityKey]; ok {
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			severity = int(f)
		}
		delete(fields, telemetry.SeverityKey)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	events := make([]telemetry.Event, 0, len(keys))
	for _, k := range keys {
		events = append(events, telemetry.Event{
			Category:   k,
			Type:       telemetry.TypeOf(k),
			Severity:   severity,
			Value:      fields[k],
			ReceivedAt: at,
		})
	}
	return events, nil
}
