// Package fmtt has debug formatting helpers.
package fmtt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// Sdump renders v as an indented, deterministic dump.
func Sdump(v any) string {
	return strings.TrimRight(dumpConfig.Sdump(v), "\n")
}

// ErrChain renders each layer of err's wrap chain on its own line with its
// dynamic type.
func ErrChain(err error) string {
	if err == nil {
		return "<nil>"
	}
	var b strings.Builder
	for i, e := 0, err; e != nil; i, e = i+1, errors.Unwrap(e) {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %T: %v", i, e, e)
	}
	return b.String()
}
