package vmhost

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"github.com/svmjit/svmjit/internal/bytecode"
	"github.com/svmjit/svmjit/internal/jit"
	"github.com/svmjit/svmjit/internal/jitlog"
	"github.com/svmjit/svmjit/internal/platform"
	"github.com/svmjit/svmjit/internal/uop"
	"github.com/svmjit/svmjit/internal/value"
)

// VM owns every piece of mutable JIT state for one loaded program: the
// bytecode functions themselves, their tiering counters, the function
// dispatch table compiled code is installed into, and the JitCallContext
// compiled code receives as its first argument (spec §3 Ownership).
type VM struct {
	Functions []*bytecode.Function
	Table     *jit.FunctionTable
	Tiering   *jit.TieringCounters
	Strings   []string
	Heap      Heap
	Cache     StringCache
	Logger    *jitlog.Logger

	ctx     *jit.JitCallContext
	regions []*platform.Region // kept alive for the process lifetime; never recycled
}

// New builds a VM over functions, sized for len(functions) tiering/table
// slots and wired for native compilation once a function crosses threshold
// (0 selects jit.DefaultTieringThreshold).
func New(functions []*bytecode.Function, strings []string, threshold uint32, logger *jitlog.Logger) *VM {
	vm := &VM{
		Functions: functions,
		Table:     jit.NewFunctionTable(len(functions)),
		Tiering:   jit.NewTieringCounters(len(functions), threshold),
		Strings:   strings,
		Cache:     newStringCache(len(strings)),
		Logger:    logger,
	}
	vm.ctx = &jit.JitCallContext{
		VM:                       uintptr(unsafe.Pointer(vm)),
		JitFunctionTable:         vm.Table.Ptr(),
		CallHelper:               callHelperStubAddr,
		HeapBase:                 vm.Heap.Base(),
		StringCache:              vm.Cache.Base(),
		StringCacheLen:           vm.Cache.Len(),
		PushStringHelper:         pushStringHelperStubAddr,
		ToStringHelper:           toStringHelperStubAddr,
		PrintDebugHelper:         printDebugHelperStubAddr,
		HeapAllocDynSimpleHelper: heapAllocDynSimpleHelperStubAddr,
		HeapAllocStringHelper:    heapAllocStringHelperStubAddr,
	}
	return vm
}

// Call dispatches to funcID with args, either by running compiled native
// code through the trampoline or by falling back to the tree-walking
// interpreter, and accounts the call against the tiering counter so a hot
// interpreted function eventually gets compiled (spec §4.8). This single
// entry point backs both the interpreter's own OpCall handling and the
// CallHelper bridge compiled code uses for every call it doesn't inline as
// a self-recursive fast path.
func (vm *VM) Call(funcID int, args []value.Value) (value.Value, error) {
	if funcID < 0 || funcID >= len(vm.Functions) {
		return value.Value{}, fmt.Errorf("vmhost: call to undefined function %d", funcID)
	}

	if vm.Table.IsCompiled(funcID) {
		return vm.callCompiled(funcID, args), nil
	}

	if vm.Tiering.OnInterpretedEntry(funcID) {
		if err := vm.compile(funcID); err != nil {
			vm.Logger.Logf(jitlog.ScopeCompile, "func %d stays interpreted: %v", funcID, err)
		} else if vm.Table.IsCompiled(funcID) {
			return vm.callCompiled(funcID, args), nil
		}
	}

	return vm.interpret(vm.Functions[funcID], args)
}

// callCompiled marshals args into a fresh native frame and invokes the
// function's entry point through the host<->native trampoline.
func (vm *VM) callCompiled(funcID int, args []value.Value) value.Value {
	entryAddr, totalRegs := vm.Table.Entry(funcID)
	frame := value.NewFrame(int(totalRegs))
	for i, a := range args {
		frame.Set(i, a)
	}
	framePtr := uintptr(unsafe.Pointer(&frame[0]))
	return jit.CallCompiled(uintptr(entryAddr), vm.ctx, framePtr)
}

// compile converts and lowers funcID for the running architecture and
// installs it into the function table. A compile failure (an unsupported
// µop, per internal/jit's fallback policy) leaves the function interpreted
// forever rather than retried every threshold multiple.
func (vm *VM) compile(funcID int) error {
	converted, err := uop.Convert(vm.Functions[funcID])
	if err != nil {
		return err
	}

	var code *jit.CompiledCode
	switch runtime.GOARCH {
	case "amd64":
		code, err = jit.CompileAMD64(converted, funcID)
	case "arm64":
		code, err = jit.CompileARM64(converted, funcID)
	default:
		return fmt.Errorf("vmhost: no JIT backend for GOARCH %q", runtime.GOARCH)
	}
	if err != nil {
		return err
	}

	// One region per compiled function, never recycled: good enough for a
	// baseline tiering stand-in, not for a long-running process that
	// recompiles functions.
	region, err := platform.NewRegion(len(code.Code))
	if err != nil {
		return err
	}
	if err := region.Write(0, code.Code); err != nil {
		return err
	}
	if err := region.MakeExecutable(); err != nil {
		return err
	}

	entry := uint64(region.AsPtr()) + uint64(code.EntryOffset)
	vm.Table.SetEntry(funcID, entry, uint64(code.TotalRegs))
	vm.regions = append(vm.regions, region)
	vm.Logger.Logf(jitlog.ScopeCompile, "func %d compiled for %s, %d bytes", funcID, runtime.GOARCH, len(code.Code))
	jit.DumpCode(os.Stderr, fmt.Sprintf("func %d (%s)", funcID, runtime.GOARCH), code.Code)
	return nil
}
