package vmhost

import (
	"unsafe"

	"github.com/svmjit/svmjit/internal/jit"
	"github.com/svmjit/svmjit/internal/jitlog"
	"github.com/svmjit/svmjit/internal/value"
)

// callHelperStub is implemented in helper_stub_amd64.s / helper_stub_arm64.s.
// Compiled code calls it with exactly the same (ctx, func_id, argc, args) ->
// (tag, payload) register convention compiler_amd64.go/compiler_arm64.go's
// generic Call lowering already uses for every JitCallContext helper slot;
// the stub's only job is to re-spill those registers into the stack layout
// a normal Go call expects and invoke callHelperImpl, so the VM-side logic
// of a call never has to be written in assembly.
func callHelperStub()

// callHelperStubAddr is callHelperStub's raw code address — the address of
// the first word of its func value, which for a body-less, assembly-
// implemented function is the entry point itself. This is the value
// installed into JitCallContext.CallHelper, since that field is a bare
// uintptr compiled code calls through directly, not a Go func value.
var callHelperStubAddr = **(**uintptr)(unsafe.Pointer(&callHelperStub))

// callHelperImpl is callHelperStub's Go-side target: the generic call
// dispatch every non-self-recursive Call µop goes through (spec §6
// "CallHelper"). argsPtr points to argc packed Value pairs (16 bytes each,
// the same frame-slot layout internal/value uses elsewhere).
func callHelperImpl(ctxAddr, funcID, argc, argsPtr uint64) (tag, payload uint64) {
	vm := vmFromCtx(ctxAddr)

	buf := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(argsPtr))), int(argc)*value.SlotSize)
	frame := value.Frame(buf)
	args := make([]value.Value, argc)
	for i := range args {
		args[i] = frame.Get(i)
	}

	result, err := vm.Call(int(funcID), args)
	if err != nil {
		vm.Logger.Logf(jitlog.ScopeTrampoline, "CallHelper: func %d: %v", funcID, err)
		return uint64(value.TagNil), 0
	}
	return uint64(result.Tag), result.Payload
}

// vmFromCtx recovers the owning VM from the opaque pointer compiled code
// carries in JitCallContext.VM. The uintptr->unsafe.Pointer conversion here
// is exactly the case go vet's unsafeptr check exists to flag; it is sound
// only because ctxAddr always originates from AsPtr/New's own
// unsafe.Pointer(vm) round-trip, never from arbitrary integer data.
func vmFromCtx(ctxAddr uint64) *VM {
	ctx := (*jit.JitCallContext)(unsafe.Pointer(uintptr(ctxAddr)))
	return (*VM)(unsafe.Pointer(ctx.VM))
}

// The remaining five stubs below bridge StringConst's slow path and the
// heap/ref helper µops (HeapAllocDynSimple, HeapAllocString, ToString,
// PrintDebug), the same way callHelperStub bridges generic Call: each has
// its own assembly re-spill in helper_stub_amd64.s/helper_stub_arm64.s and
// an *Addr raw-PC var installed into the matching JitCallContext field.

func pushStringHelperStub()

var pushStringHelperStubAddr = **(**uintptr)(unsafe.Pointer(&pushStringHelperStub))

// pushStringHelperImpl is StringConst's slow path (spec §4.6): idx is a
// string-table index, not yet represented on the heap. Allocates it via
// HeapAllocString and populates the string cache entry so a later
// StringConst for the same idx hits the fast path instead.
func pushStringHelperImpl(ctxAddr, idx uint64) (tag, payload uint64) {
	vm := vmFromCtx(ctxAddr)
	ref := vm.HeapAllocString(int(idx))
	vm.Cache.set(int(idx), ref.Payload)
	return uint64(ref.Tag), ref.Payload
}

func toStringHelperStub()

var toStringHelperStubAddr = **(**uintptr)(unsafe.Pointer(&toStringHelperStub))

func toStringHelperImpl(ctxAddr, tag, payload uint64) (rtag, rpayload uint64) {
	vm := vmFromCtx(ctxAddr)
	result := vm.ToString(value.Value{Tag: value.Tag(tag), Payload: payload})
	return uint64(result.Tag), result.Payload
}

func printDebugHelperStub()

var printDebugHelperStubAddr = **(**uintptr)(unsafe.Pointer(&printDebugHelperStub))

// printDebugHelperImpl logs v's rendering and hands the same value back
// unchanged, matching PrintDebug's documented "returns its operand" µop
// contract (it's a debug tap, not a transform).
func printDebugHelperImpl(ctxAddr, tag, payload uint64) (rtag, rpayload uint64) {
	vm := vmFromCtx(ctxAddr)
	vm.PrintDebug(value.Value{Tag: value.Tag(tag), Payload: payload})
	return tag, payload
}

func heapAllocDynSimpleHelperStub()

var heapAllocDynSimpleHelperStubAddr = **(**uintptr)(unsafe.Pointer(&heapAllocDynSimpleHelperStub))

func heapAllocDynSimpleHelperImpl(ctxAddr, size uint64) (tag, payload uint64) {
	vm := vmFromCtx(ctxAddr)
	ref := vm.HeapAllocDynSimple(int(size), 0)
	return uint64(ref.Tag), ref.Payload
}

func heapAllocStringHelperStub()

var heapAllocStringHelperStubAddr = **(**uintptr)(unsafe.Pointer(&heapAllocStringHelperStub))

// heapAllocStringHelperImpl's dataRef/length pair mirrors
// HeapAllocStringHelper's documented (ctx, data_ref, len) signature; this
// stand-in's string representation is already a string-table index rather
// than a raw byte span, so len is accepted for ABI parity and unused, same
// as HeapAllocDynSimple's own kind parameter.
func heapAllocStringHelperImpl(ctxAddr, dataRef, length uint64) (tag, payload uint64) {
	_ = length
	vm := vmFromCtx(ctxAddr)
	ref := vm.HeapAllocString(int(dataRef))
	return uint64(ref.Tag), ref.Payload
}
