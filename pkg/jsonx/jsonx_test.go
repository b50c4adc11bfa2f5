package jsonx

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

type sample struct {
	Name    string      `json:"name"`
	Enabled Field[bool] `json:"enabled"`
}

func TestField(t *testing.T) {
	var absent, null, set sample
	if err := DecodeStrict([]byte(`{"name":"a"}`), &absent); err != nil {
		t.Fatal(err)
	}
	if err := DecodeStrict([]byte(`{"enabled":null}`), &null); err != nil {
		t.Fatal(err)
	}
	if err := DecodeStrict([]byte(`{"enabled":false}`), &set); err != nil {
		t.Fatal(err)
	}
	if absent.Enabled.IsSet() || !absent.Enabled.Or(true) {
		t.Error("absent")
	}
	if !null.Enabled.IsNull() || !null.Enabled.Or(true) {
		t.Error("null")
	}
	if !set.Enabled.IsSet() || set.Enabled.IsNull() || set.Enabled.Or(true) {
		t.Error("explicit false")
	}
}

func TestParseStrictJSONBody(t *testing.T) {
	tests := []struct {
		body string
		want error
	}{
		{`{"name":"x"}`, nil},
		{"  ", ErrEmptyBody},
		{`{"name":"x"} {}`, ErrTrailingJSON},
		{`{"name":"x"`, nil}, // syntax error, checked below
		{`{"nope":1}`, nil},  // unknown field, checked below
		{`{"name":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, ErrBodyTooLarge},
	}
	for i, tt := range tests {
		var dst sample
		err := ParseStrictJSONBody(httptest.NewRequest("POST", "/", strings.NewReader(tt.body)), &dst)
		switch {
		case tt.want != nil:
			if !errors.Is(err, tt.want) {
				t.Errorf("%d: err = %v, want %v", i, err, tt.want)
			}
		case i == 0:
			if err != nil || dst.Name != "x" {
				t.Errorf("%d: err = %v, dst = %+v", i, err, dst)
			}
		default:
			if err == nil {
				t.Errorf("%d: expected an error", i)
			}
		}
	}
}
