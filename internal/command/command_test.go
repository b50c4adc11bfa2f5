package command

import (
	"errors"
	"math"
	"testing"
)

func TestApplyDeadzone(t *testing.T) {
	tests := []struct {
		in, dz, want float64
	}{
		{0.05, 0.1, 0},
		{-0.1, 0.1, 0},
		{1, 0.1, 1},
		{-1, 0.1, -1},
		{0.55, 0.1, 0.5},
		{-0.55, 0.1, -0.5},
		{1.7, 0.1, 1},
		{0.3, 0, 0.3},
	}
	for _, tt := range tests {
		if got := ApplyDeadzone(tt.in, tt.dz); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ApplyDeadzone(%v, %v) = %v, want %v", tt.in, tt.dz, got, tt.want)
		}
	}
}

func TestRequestEncode(t *testing.T) {
	zero := 0.0
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"axis", Request{Type: KindAxis, Axis: "right_stick_y", Value: 0.5, Deadzone: &zero}, `{"Axis":{"4":0.5}}`},
		{"axis deadzone", Request{Type: KindAxis, Axis: "LEFT_STICK_X", Value: 0.05}, `{"Axis":{"0":0}}`},
		{"button", Request{Type: KindButton, Button: "Y", Pressed: true}, `{"Buttons":{"2":1}}`},
		{"button released", Request{Type: KindButton, Button: "START"}, `{"Buttons":{"6":0}}`},
		{"motion", Request{Type: KindMotion, Speed: 1.5, Turn: -0.25}, `{"manip":{"mode":0},"control":{"speed":1.5,"turn":-0.25}}`},
		{"motion ik", Request{Type: KindMotion, Mode: RelativeInverseKinematic, Speed: 1.5}, `{"manip":{"mode":1},"control":{"speed":0,"turn":0}}`},
		{"message json", Request{Type: KindMessage, Key: "lights", Payload: `{"on":true}`}, `{"lights":{"on":true}}`},
		{"message text", Request{Type: KindMessage, Key: "mode", Payload: "explore"}, `{"mode":"explore"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Encode()
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRequestEncodeRejects(t *testing.T) {
	for name, req := range map[string]Request{
		"type":   {Type: "dance"},
		"axis":   {Type: KindAxis, Axis: "TRIGGER_Z"},
		"button": {Type: KindButton, Button: "SELECT"},
		"mode":   {Type: KindMotion, Mode: 7},
		"nan":    {Type: KindMotion, Speed: math.NaN()},
		"key":    {Type: KindMessage, Payload: "1"},
	} {
		if _, err := req.Encode(); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestNames(t *testing.T) {
	if ArrowY.String() != "ARROW_Y" || ButtonRB.String() != "RB" {
		t.Fatal("name lookup broken")
	}
	if Axis(42).String() != "AXIS_42" {
		t.Fatal("unknown axis name")
	}
}
