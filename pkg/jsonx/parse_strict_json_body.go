package jsonx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	ErrEmptyBody    = errors.New("empty body")
	ErrTrailingJSON = errors.New("trailing data")
	ErrBodyTooLarge = errors.New("body too large")
)

// MaxBodyBytes caps what ParseStrictJSONBody reads.
const MaxBodyBytes = 1 << 20

// ParseStrictJSONBody decodes exactly one JSON value from the request body
// into dst. Unknown fields, trailing data, an empty body and bodies over
// MaxBodyBytes are rejected. Every error maps to 400 Bad Request; required
// fields and business rules are left to the caller.
func ParseStrictJSONBody[T any](r *http.Request, dst *T) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return err
	}
	if len(body) > MaxBodyBytes {
		return ErrBodyTooLarge
	}
	return DecodeStrict(body, dst)
}

// DecodeStrict is ParseStrictJSONBody for an in-memory document.
func DecodeStrict[T any](body []byte, dst *T) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ErrTrailingJSON
	}
	return nil
}
