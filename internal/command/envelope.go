package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidCommand wraps every rejected request.
var ErrInvalidCommand = errors.New("invalid command")

// ManipMode selects how the manipulator interprets motion commands.
type ManipMode int

const (
	Manual ManipMode = iota
	RelativeInverseKinematic
	AbsoluteInverseKinematic
)

// AxisEnvelope encodes {"Axis":{"<index>":<value>}}.
func AxisEnvelope(a Axis, value float64) ([]byte, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("%w: axis value must be finite", ErrInvalidCommand)
	}
	return json.Marshal(map[string]map[string]float64{
		"Axis": {strconv.Itoa(int(a)): clamp(value)},
	})
}

// ButtonEnvelope encodes {"Buttons":{"<index>":0|1}}.
func ButtonEnvelope(b Button, pressed bool) ([]byte, error) {
	v := 0
	if pressed {
		v = 1
	}
	return json.Marshal(map[string]map[string]int{
		"Buttons": {strconv.Itoa(int(b)): v},
	})
}

type motionManip struct {
	Mode ManipMode `json:"mode"`
}

type motionControl struct {
	Speed float64 `json:"speed"`
	Turn  float64 `json:"turn"`
}

type motion struct {
	Manip   motionManip   `json:"manip"`
	Control motionControl `json:"control"`
}

// MotionEnvelope encodes {"manip":{"mode":m},"control":{"speed":s,"turn":t}}.
// Speed and turn only apply in Manual mode and are sent as zero otherwise.
func MotionEnvelope(mode ManipMode, speed, turn float64) ([]byte, error) {
	if mode < Manual || mode > AbsoluteInverseKinematic {
		return nil, fmt.Errorf("%w: unknown manipulator mode %d", ErrInvalidCommand, mode)
	}
	if math.IsNaN(speed) || math.IsInf(speed, 0) || math.IsNaN(turn) || math.IsInf(turn, 0) {
		return nil, fmt.Errorf("%w: speed and turn must be finite", ErrInvalidCommand)
	}
	m := motion{Manip: motionManip{Mode: mode}}
	if mode == Manual {
		m.Control = motionControl{Speed: speed, Turn: turn}
	}
	return json.Marshal(m)
}

// MessageEnvelope encodes a free-form {"<key>":<value>}. value is embedded as
// JSON when it parses as JSON, otherwise as a string.
func MessageEnvelope(key, value string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: message key is required", ErrInvalidCommand)
	}
	var v json.RawMessage
	if json.Valid([]byte(value)) {
		v = json.RawMessage(value)
	} else {
		b, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		v = b
	}
	return json.Marshal(map[string]json.RawMessage{key: v})
}
