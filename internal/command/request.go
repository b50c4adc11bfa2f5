package command

import "fmt"

// Kind tags a Request.
type Kind string

const (
	KindAxis    Kind = "axis"
	KindButton  Kind = "button"
	KindMotion  Kind = "motion"
	KindMessage Kind = "message"
)

// Request is the operator-facing form of a command, as posted to the API.
type Request struct {
	Type Kind `json:"type" binding:"required"`

	// axis
	Axis     string   `json:"axis,omitempty"`
	Value    float64  `json:"value,omitempty"`
	Deadzone *float64 `json:"deadzone,omitempty"` // default DefaultDeadzone

	// button
	Button  string `json:"button,omitempty"`
	Pressed bool   `json:"pressed,omitempty"`

	// motion
	Mode  ManipMode `json:"mode,omitempty"`
	Speed float64   `json:"speed,omitempty"`
	Turn  float64   `json:"turn,omitempty"`

	// message
	Key     string `json:"key,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// Encode turns r into the datagram payload.
func (r Request) Encode() ([]byte, error) {
	switch r.Type {
	case KindAxis:
		a, err := ParseAxis(r.Axis)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCommand, err)
		}
		dz := DefaultDeadzone
		if r.Deadzone != nil {
			dz = *r.Deadzone
		}
		return AxisEnvelope(a, ApplyDeadzone(r.Value, dz))

	case KindButton:
		b, err := ParseButton(r.Button)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCommand, err)
		}
		return ButtonEnvelope(b, r.Pressed)

	case KindMotion:
		return MotionEnvelope(r.Mode, r.Speed, r.Turn)

	case KindMessage:
		return MessageEnvelope(r.Key, r.Payload)

	default:
		return nil, fmt.Errorf("%w: unknown type '%s'", ErrInvalidCommand, r.Type)
	}
}
