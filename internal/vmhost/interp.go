// Package vmhost is the stand-in host VM: a tree-walking interpreter over
// internal/bytecode, the tiering policy that promotes a hot function to
// native code, and the Go-side implementations backing JitCallContext's
// helper pointers (spec §3 Ownership, §4.8, §6).
package vmhost

import (
	"fmt"

	"github.com/svmjit/svmjit/internal/bytecode"
	"github.com/svmjit/svmjit/internal/value"
)

// interpret runs fn's bytecode body directly against a fresh operand stack
// and locals frame, the fallback path for any function the VM hasn't (yet,
// or ever will) compiled. It mirrors bytecode.Op one-for-one rather than
// going through the µop IR, since the interpreter is the converter's input,
// not its output.
func (vm *VM) interpret(fn *bytecode.Function, args []value.Value) (value.Value, error) {
	locals := make([]value.Value, fn.LocalsCount)
	copy(locals, args)

	var stack []value.Value
	push := func(v value.Value) { stack = append(stack, v) }
	pop := func() value.Value {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	pc := 0
	for pc < len(fn.Ops) {
		op := fn.Ops[pc]
		switch op.Kind {
		case bytecode.OpI64Const:
			push(value.Int(op.IntImm))
		case bytecode.OpF64Const:
			push(value.Float(op.FltImm))
		case bytecode.OpRefNull:
			push(value.Nil())
		case bytecode.OpStringConst:
			push(value.Value{Tag: value.TagPtr, Payload: uint64(op.StrIdx)})
		case bytecode.OpLocalGet:
			push(locals[op.LocalIdx])
		case bytecode.OpAddI64:
			b, a := pop(), pop()
			push(value.Int(a.AsInt() + b.AsInt()))
		case bytecode.OpSubI64:
			b, a := pop(), pop()
			push(value.Int(a.AsInt() - b.AsInt()))
		case bytecode.OpMulI64:
			b, a := pop(), pop()
			push(value.Int(a.AsInt() * b.AsInt()))
		case bytecode.OpDivI64:
			b, a := pop(), pop()
			push(value.Int(a.AsInt() / b.AsInt()))
		case bytecode.OpAddF64:
			b, a := pop(), pop()
			push(value.Float(a.AsFloat() + b.AsFloat()))
		case bytecode.OpLtS:
			b, a := pop(), pop()
			push(value.Bool(a.AsInt() < b.AsInt()))
		case bytecode.OpLeS:
			b, a := pop(), pop()
			push(value.Bool(a.AsInt() <= b.AsInt()))
		case bytecode.OpGtS:
			b, a := pop(), pop()
			push(value.Bool(a.AsInt() > b.AsInt()))
		case bytecode.OpGeS:
			b, a := pop(), pop()
			push(value.Bool(a.AsInt() >= b.AsInt()))
		case bytecode.OpEq:
			b, a := pop(), pop()
			push(value.Bool(a == b))
		case bytecode.OpNe:
			b, a := pop(), pop()
			push(value.Bool(a != b))
		case bytecode.OpJmp:
			pc = op.Target
			continue
		case bytecode.OpBrIf:
			if pop().AsBool() {
				pc = op.Target
				continue
			}
		case bytecode.OpBrIfFalse:
			if !pop().AsBool() {
				pc = op.Target
				continue
			}
		case bytecode.OpCall:
			callArgs := make([]value.Value, op.Argc)
			for i := op.Argc - 1; i >= 0; i-- {
				callArgs[i] = pop()
			}
			ret, err := vm.Call(op.FuncID, callArgs)
			if err != nil {
				return value.Value{}, err
			}
			push(ret)
		case bytecode.OpMakeClosure:
			ref := vm.Heap.Alloc(1)
			vm.Heap.SetSlot(ref, 0, value.Int(int64(op.FuncID)))
			push(value.Ptr(uint64(ref)))
		case bytecode.OpCallIndirect:
			callee := pop()
			callArgs := make([]value.Value, op.Argc)
			for i := op.Argc - 1; i >= 0; i-- {
				callArgs[i] = pop()
			}
			// Callee is a heap ref (spec §4.6): slot 0's payload is the
			// resolved target function id, mirroring the compiled lowering's
			// own heap dereference rather than trusting the ref's payload
			// directly as a function id.
			funcID := int(vm.Heap.GetSlot(int(callee.Payload), 0).Payload)
			ret, err := vm.Call(funcID, callArgs)
			if err != nil {
				return value.Value{}, err
			}
			push(ret)
		case bytecode.OpRet:
			if len(stack) == 0 {
				return value.Nil(), nil
			}
			return pop(), nil
		case bytecode.OpTryBegin:
			// Exception handling is out of scope; treated as a no-op marker.
		case bytecode.OpRaw:
			return value.Value{}, fmt.Errorf("vmhost: interpreter cannot execute raw op %q", op.Raw)
		default:
			return value.Value{}, fmt.Errorf("vmhost: unknown bytecode op %v", op.Kind)
		}
		pc++
	}
	if len(stack) > 0 {
		return pop(), nil
	}
	return value.Nil(), nil
}
