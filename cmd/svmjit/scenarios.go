package main

import (
	"github.com/svmjit/svmjit/internal/bytecode"
	"github.com/svmjit/svmjit/internal/value"
)

// scenario is one of §8's six end-to-end scenarios: a small program (one
// or more functions, entry function 0), the args to call it with, and the
// expected return value, checked identically whether the entry function
// ran interpreted or JIT-compiled.
type scenario struct {
	name string
	fns  []*bytecode.Function
	args []value.Value
	want value.Value
}

func scenarios() []scenario {
	return []scenario{
		{
			name: "constant return",
			fns: []*bytecode.Function{{
				Ops: []bytecode.Op{
					{Kind: bytecode.OpI64Const, IntImm: 42},
					{Kind: bytecode.OpRet},
				},
			}},
			want: value.Int(42),
		},
		{
			name: "integer add",
			fns: []*bytecode.Function{{
				Ops: []bytecode.Op{
					{Kind: bytecode.OpI64Const, IntImm: 10},
					{Kind: bytecode.OpI64Const, IntImm: 20},
					{Kind: bytecode.OpAddI64},
					{Kind: bytecode.OpRet},
				},
			}},
			want: value.Int(30),
		},
		{
			name: "float add",
			fns: []*bytecode.Function{{
				Ops: []bytecode.Op{
					{Kind: bytecode.OpF64Const, FltImm: 1.5},
					{Kind: bytecode.OpF64Const, FltImm: 2.5},
					{Kind: bytecode.OpAddF64},
					{Kind: bytecode.OpRet},
				},
			}},
			want: value.Float(4.0),
		},
		{
			name: "fused compare and branch",
			fns: []*bytecode.Function{{
				Ops: []bytecode.Op{
					{Kind: bytecode.OpI64Const, IntImm: 5},
					{Kind: bytecode.OpI64Const, IntImm: 10},
					{Kind: bytecode.OpLtS},
					{Kind: bytecode.OpBrIfFalse, Target: 6},
					{Kind: bytecode.OpI64Const, IntImm: 1},
					{Kind: bytecode.OpRet},
					{Kind: bytecode.OpI64Const, IntImm: 0},
					{Kind: bytecode.OpRet},
				},
			}},
			want: value.Int(1),
		},
		{
			name: "self-recursive factorial",
			fns:  []*bytecode.Function{factorialFunc(0)},
			args: []value.Value{value.Int(10)},
			want: value.Int(3628800),
		},
		{
			name: "indirect call via closure",
			fns:  []*bytecode.Function{indirectCallerFunc(1), doubleFunc()},
			want: value.Int(14),
		},
	}
}

// factorialFunc is fact(n) = n==0 ? 1 : n*fact(n-1), calling itself by its
// own function id (the self-recursion fast path's source program).
func factorialFunc(selfID int) *bytecode.Function {
	return &bytecode.Function{
		Arity:       1,
		LocalsCount: 1,
		Ops: []bytecode.Op{
			{Kind: bytecode.OpLocalGet, LocalIdx: 0},
			{Kind: bytecode.OpI64Const, IntImm: 0},
			{Kind: bytecode.OpEq},
			{Kind: bytecode.OpBrIfFalse, Target: 6},
			{Kind: bytecode.OpI64Const, IntImm: 1},
			{Kind: bytecode.OpRet},
			{Kind: bytecode.OpLocalGet, LocalIdx: 0},
			{Kind: bytecode.OpLocalGet, LocalIdx: 0},
			{Kind: bytecode.OpI64Const, IntImm: 1},
			{Kind: bytecode.OpSubI64},
			{Kind: bytecode.OpCall, FuncID: selfID, Argc: 1},
			{Kind: bytecode.OpMulI64},
			{Kind: bytecode.OpRet},
		},
	}
}

// doubleFunc is double(x) = x*2, scenario 6's indirect-call target.
func doubleFunc() *bytecode.Function {
	return &bytecode.Function{
		Arity:       1,
		LocalsCount: 1,
		Ops: []bytecode.Op{
			{Kind: bytecode.OpLocalGet, LocalIdx: 0},
			{Kind: bytecode.OpI64Const, IntImm: 2},
			{Kind: bytecode.OpMulI64},
			{Kind: bytecode.OpRet},
		},
	}
}

// indirectCallerFunc dispatches to doubleID through CallIndirect: MakeClosure
// allocates a one-slot heap object with doubleID stored in slot 0, standing
// in for a closure's captured target (double ignores any captured
// environment and only reads its own argument, so the closure carries no
// other state here).
func indirectCallerFunc(doubleID int) *bytecode.Function {
	return &bytecode.Function{
		Ops: []bytecode.Op{
			{Kind: bytecode.OpI64Const, IntImm: 7},
			{Kind: bytecode.OpMakeClosure, FuncID: doubleID},
			{Kind: bytecode.OpCallIndirect, Argc: 1},
			{Kind: bytecode.OpRet},
		},
	}
}
