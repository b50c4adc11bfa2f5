// Package command encodes operator input as the compact JSON datagrams the
// rover understands.
package command

import (
	"fmt"
	"strings"
)

// Axis is a rover-side gamepad axis index.
type Axis int

const (
	LeftStickX Axis = iota
	LeftStickY
	BumpersLeft
	RightStickX
	RightStickY
	BumpersRight
	ArrowX
	ArrowY
)

var axisNames = map[string]Axis{
	"LEFT_STICK_X":  LeftStickX,
	"LEFT_STICK_Y":  LeftStickY,
	"BUMPERS_LEFT":  BumpersLeft,
	"RIGHT_STICK_X": RightStickX,
	"RIGHT_STICK_Y": RightStickY,
	"BUMPERS_RIGHT": BumpersRight,
	"ARROW_X":       ArrowX,
	"ARROW_Y":       ArrowY,
}

// ParseAxis accepts the rover mapping names (LEFT_STICK_X, ...), case-insensitive.
func ParseAxis(name string) (Axis, error) {
	a, ok := axisNames[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown axis: '%s'", name)
	}
	return a, nil
}

func (a Axis) String() string {
	for name, v := range axisNames {
		if v == a {
			return name
		}
	}
	return fmt.Sprintf("AXIS_%d", int(a))
}

// Button is a rover-side gamepad button index.
type Button int

const (
	ButtonA Button = iota
	ButtonB
	ButtonY
	ButtonX
	ButtonLB
	ButtonRB
	ButtonStart
)

var buttonNames = map[string]Button{
	"A":     ButtonA,
	"B":     ButtonB,
	"Y":     ButtonY,
	"X":     ButtonX,
	"LB":    ButtonLB,
	"RB":    ButtonRB,
	"START": ButtonStart,
}

// ParseButton accepts the rover mapping names (A, B, Y, X, LB, RB, START).
func ParseButton(name string) (Button, error) {
	b, ok := buttonNames[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown button: '%s'", name)
	}
	return b, nil
}

func (b Button) String() string {
	for name, v := range buttonNames {
		if v == b {
			return name
		}
	}
	return fmt.Sprintf("BUTTON_%d", int(b))
}

// DefaultDeadzone is the stick deadzone used when none is configured.
const DefaultDeadzone = 0.1

// ApplyDeadzone zeroes |v| <= dz and rescales the rest so the output still
// spans [-1, 1].
func ApplyDeadzone(v, dz float64) float64 {
	if dz <= 0 || dz >= 1 {
		return clamp(v)
	}
	switch {
	case v > dz:
		return clamp((v - dz) / (1 - dz))
	case v < -dz:
		return clamp((v + dz) / (1 - dz))
	default:
		return 0
	}
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
