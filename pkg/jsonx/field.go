// Package jsonx holds small helpers for strict JSON request handling.
package jsonx

import (
	"bytes"
	"encoding/json"
)

// Field tracks whether a key appeared in a JSON object and its value.
//
//	absent      -> IsSet() == false
//	null        -> IsSet() == true, IsNull() == true
//	any value   -> IsSet() == true, Value() != nil
type Field[T any] struct {
	set bool
	val *T
}

func (f Field[T]) IsSet() bool  { return f.set }
func (f Field[T]) IsNull() bool { return f.set && f.val == nil }
func (f Field[T]) Value() *T    { return f.val }

// Or returns the value, or def when the key was absent or null.
func (f Field[T]) Or(def T) T {
	if f.val == nil {
		return def
	}
	return *f.val
}

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		f.set, f.val = true, nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.set, f.val = true, &v
	return nil
}
