// Package jit is the JIT runtime interface (spec §3 JitCallContext/
// JitFunctionTable, §4.8 tiering and dispatch, §6 external interfaces): the
// stable-ABI struct exchanged between compiled native code and the Go
// runtime, the flat function dispatch table, and the per-function tiering
// counter.
package jit

import "unsafe"

// Byte offsets of JitCallContext's fields are part of the wire contract
// (spec §6) — compiled code loads helper pointers and heap_base through
// these fixed offsets, so changing the struct requires updating both these
// constants and the assembler lowering that encodes them (mirrors the
// teacher's own note in internal/engine/compiler/engine.go: "the offset of
// many of the struct fields defined here are referenced from assembly").
const (
	OffVM                     = 0
	OffChunk                  = 8
	OffCallHelper             = 16
	OffPushStringHelper       = 24
	OffArrayLenHelper         = 32
	OffHostcallHelper         = 40
	OffHeapBase               = 48
	OffStringCache            = 56
	OffStringCacheLen         = 64
	OffToStringHelper         = 72
	OffPrintDebugHelper       = 80
	OffHeapAllocDynSimpleHelp = 88
	OffHeapAllocStringHelper  = 96
	OffJitFunctionTable       = 104

	// ContextSize is the total struct size; used when stack-allocating a
	// JitCallContext-sized buffer in assembly-adjacent code.
	ContextSize = 112
)

// JitCallContext mirrors the fixed-layout struct of spec §3/§6 field for
// field, in order, so that Go's struct layout (no field reordering occurs
// for a struct of uniform-width pointer/uintptr fields on a 64-bit host)
// matches the documented byte offsets exactly. See context_test.go for the
// offset assertions that keep this true.
type JitCallContext struct {
	VM    uintptr // opaque *VM
	Chunk uintptr // opaque *Chunk

	CallHelper       uintptr // fn(ctx, func_id, argc, *args) -> (tag, payload)
	PushStringHelper uintptr // fn(ctx, idx) -> (tag, payload)
	ArrayLenHelper   uintptr // fn(ctx, ref_idx) -> (tag, payload)
	HostcallHelper   uintptr // fn(ctx, num, argc, *args) -> (tag, payload)

	HeapBase *uint64 // reread on every emitted load; GC may relocate the heap

	StringCache    *uint64 // entries are 16 bytes each: {present_flag, heap_index}
	StringCacheLen uint64

	ToStringHelper               uintptr // fn(ctx, tag, payload) -> (tag, payload)
	PrintDebugHelper              uintptr // fn(ctx, tag, payload) -> (tag, payload)
	HeapAllocDynSimpleHelper      uintptr // fn(ctx, size, kind) -> (tag, payload)
	HeapAllocStringHelper         uintptr // fn(ctx, data_ref, len) -> (tag, payload)

	JitFunctionTable *uint64 // pairs of (entry_address, total_regs)
}

// AsPtr returns the context's address for passing as the first native
// argument register to a compiled entry point.
func (c *JitCallContext) AsPtr() uintptr { return uintptr(unsafe.Pointer(c)) }
