//go:build !debug_jit

package jit

import "io"

// DumpCode is a no-op unless built with -tags debug_jit; it exists so
// callers never need their own build-tag branch to eyeball emitted bytes
// during development.
func DumpCode(w io.Writer, label string, code []byte) {}
