//go:build debug_jit

package jit

import (
	"encoding/hex"
	"fmt"
	"io"
)

// DumpCode writes a labeled hex dump of code to w, for manually eyeballing
// emitted bytes during development (spec §9's disassembly aid; the bytes
// are whatever CompileAMD64/CompileARM64 produced, not yet installed).
func DumpCode(w io.Writer, label string, code []byte) {
	fmt.Fprintf(w, "=== %s (%d bytes) ===\n%s", label, len(code), hex.Dump(code))
}
