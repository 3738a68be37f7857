package jit

import "github.com/svmjit/svmjit/internal/value"

// callEntry is implemented in trampoline_amd64.s / trampoline_arm64.s: it
// bridges a Go call into a compiled function's native calling convention
// and back, so the only assembly this package needs is the one crossing
// point between Go's own ABI and the JIT's (spec §4.6, §6).
func callEntry(entry, ctx, framePtr uintptr) (tag, payload uint64)

// CallCompiled invokes the native code at entryAddr — a FunctionTable
// entry address — passing ctx and a pointer to the callee's already-
// allocated frame, and returns its result as a Value.
func CallCompiled(entryAddr uintptr, ctx *JitCallContext, framePtr uintptr) value.Value {
	tag, payload := callEntry(entryAddr, ctx.AsPtr(), framePtr)
	return value.Value{Tag: value.Tag(tag), Payload: payload}
}
