// Package roversim simulates the rover side of the control link for bench
// testing without hardware.
package roversim

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// Drive is the commanded motion as the rover reports it back.
type Drive struct {
	Speed float64 `json:"speed"`
	Turn  float64 `json:"turn"`
	Mode  int     `json:"mode"`
}

// Rotation is the body attitude in degrees.
type Rotation struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
}

// State is a random-walk rover. Safe for concurrent use.
type State struct {
	mu sync.Mutex

	rng         *rand.Rand
	drive       Drive
	temperature float64
	heading     float64
	battery     float64
	rotation    Rotation
	buttons     map[string]int
	axes        map[string]float64
	commands    uint64
}

// NewState starts a rover at rest with a full battery.
func NewState(seed uint64) *State {
	return &State{
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		temperature: 24,
		battery:     12.6,
		buttons:     make(map[string]int),
		axes:        make(map[string]float64),
	}
}

// Apply folds one command datagram into the state. Unknown keys are kept
// count of and otherwise ignored.
func (s *State) Apply(payload []byte) error {
	var msg struct {
		Axis    map[string]float64 `json:"Axis"`
		Buttons map[string]int     `json:"Buttons"`
		Manip   *struct {
			Mode int `json:"mode"`
		} `json:"manip"`
		Control *struct {
			Speed float64 `json:"speed"`
			Turn  float64 `json:"turn"`
		} `json:"control"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("command: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands++
	for k, v := range msg.Axis {
		s.axes[k] = v
	}
	for k, v := range msg.Buttons {
		s.buttons[k] = v
	}
	if msg.Manip != nil {
		s.drive.Mode = msg.Manip.Mode
	}
	if msg.Control != nil {
		s.drive.Speed, s.drive.Turn = msg.Control.Speed, msg.Control.Turn
	}
	return nil
}

// Commands returns how many commands were applied.
func (s *State) Commands() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands
}

// Step advances the simulation by dt seconds.
func (s *State) Step(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	load := math.Abs(s.drive.Speed)
	s.temperature += (s.rng.Float64()-0.5)*0.2 + load*0.05*dt
	s.temperature = clamp(s.temperature, -20, 80)
	s.battery = math.Max(9.5, s.battery-(0.0005+load*0.002)*dt)
	s.heading = math.Mod(s.heading+s.drive.Turn*30*dt+(s.rng.Float64()-0.5)*0.5+360, 360)
	s.rotation.Roll = clamp(s.rotation.Roll+(s.rng.Float64()-0.5)*load, -45, 45)
	s.rotation.Pitch = clamp(s.rotation.Pitch+(s.rng.Float64()-0.5)*load, -45, 45)
}

// Severity grades the current state: 0 nominal, 1 warning, 2 critical.
func (s *State) severity() int {
	switch {
	case s.battery < 10.5 || s.temperature > 70:
		return 2
	case s.battery < 11.2 || s.temperature > 55 || math.Abs(s.rotation.Roll) > 30:
		return 1
	default:
		return 0
	}
}

// Datagram encodes one telemetry datagram: one top-level key per category
// plus the reserved severity key.
func (s *State) Datagram() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buttons := make(map[string]int, len(s.buttons))
	for k, v := range s.buttons {
		buttons[k] = v
	}
	return json.Marshal(map[string]any{
		"drive":       s.drive,
		"temperature": round(s.temperature, 1),
		"compass":     round(s.heading, 1),
		"battery":     round(s.battery, 2),
		"rotation":    Rotation{Roll: round(s.rotation.Roll, 1), Pitch: round(s.rotation.Pitch, 1)},
		"status":      map[string]any{"commands": s.commands, "buttons": buttons},
		"severity":    s.severity(),
	})
}

func clamp(v, lo, hi float64) float64 { return math.Min(hi, math.Max(lo, v)) }

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
