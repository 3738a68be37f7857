package vmhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svmjit/svmjit/internal/bytecode"
	"github.com/svmjit/svmjit/internal/value"
)

func simpleAddFunc() *bytecode.Function {
	return &bytecode.Function{
		Arity:       0,
		LocalsCount: 0,
		Ops: []bytecode.Op{
			{Kind: bytecode.OpI64Const, IntImm: 2},
			{Kind: bytecode.OpI64Const, IntImm: 3},
			{Kind: bytecode.OpAddI64},
			{Kind: bytecode.OpRet},
		},
	}
}

func callerFunc(calleeID int) *bytecode.Function {
	return &bytecode.Function{
		Arity:       0,
		LocalsCount: 1,
		Ops: []bytecode.Op{
			{Kind: bytecode.OpCall, FuncID: calleeID, Argc: 0},
			{Kind: bytecode.OpRet},
		},
	}
}

func TestInterpretSimpleArithmetic(t *testing.T) {
	vm := New([]*bytecode.Function{simpleAddFunc()}, nil, 0, nil)
	result, err := vm.Call(0, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Int(5), result)
}

func TestInterpretCallDispatchesToCallee(t *testing.T) {
	fns := []*bytecode.Function{callerFunc(1), simpleAddFunc()}
	vm := New(fns, nil, 0, nil)
	result, err := vm.Call(0, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Int(5), result)
}

func TestUnconvertibleFunctionStaysInterpretedPastThreshold(t *testing.T) {
	fn := &bytecode.Function{
		Arity:       0,
		LocalsCount: 0,
		Ops: []bytecode.Op{
			{Kind: bytecode.OpTryBegin, Target: 2},
			{Kind: bytecode.OpI64Const, IntImm: 7},
			{Kind: bytecode.OpRet},
		},
	}
	vm := New([]*bytecode.Function{fn}, nil, 2, nil)

	for i := 0; i < 5; i++ {
		result, err := vm.Call(0, nil)
		require.NoError(t, err)
		assert.Equal(t, value.Int(7), result)
	}
	assert.False(t, vm.Table.IsCompiled(0))
}

func TestCallRejectsUndefinedFunction(t *testing.T) {
	vm := New([]*bytecode.Function{simpleAddFunc()}, nil, 0, nil)
	_, err := vm.Call(5, nil)
	assert.Error(t, err)
}

// The following reproduce the six end-to-end scenarios verbatim.

func TestScenarioConstantReturn(t *testing.T) {
	fn := &bytecode.Function{
		Ops: []bytecode.Op{
			{Kind: bytecode.OpI64Const, IntImm: 42},
			{Kind: bytecode.OpRet},
		},
	}
	vm := New([]*bytecode.Function{fn}, nil, 0, nil)
	result, err := vm.Call(0, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Int(42), result)
}

func TestScenarioIntegerAdd(t *testing.T) {
	fn := &bytecode.Function{
		Ops: []bytecode.Op{
			{Kind: bytecode.OpI64Const, IntImm: 10},
			{Kind: bytecode.OpI64Const, IntImm: 20},
			{Kind: bytecode.OpAddI64},
			{Kind: bytecode.OpRet},
		},
	}
	vm := New([]*bytecode.Function{fn}, nil, 0, nil)
	result, err := vm.Call(0, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Int(30), result)
}

func TestScenarioFloatAdd(t *testing.T) {
	fn := &bytecode.Function{
		Ops: []bytecode.Op{
			{Kind: bytecode.OpF64Const, FltImm: 1.5},
			{Kind: bytecode.OpF64Const, FltImm: 2.5},
			{Kind: bytecode.OpAddF64},
			{Kind: bytecode.OpRet},
		},
	}
	vm := New([]*bytecode.Function{fn}, nil, 0, nil)
	result, err := vm.Call(0, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Float(4.0), result)
}

func TestScenarioFusedCompareAndBranch(t *testing.T) {
	fn := &bytecode.Function{
		Ops: []bytecode.Op{
			{Kind: bytecode.OpI64Const, IntImm: 5},   // 0
			{Kind: bytecode.OpI64Const, IntImm: 10},  // 1
			{Kind: bytecode.OpLtS},                   // 2
			{Kind: bytecode.OpBrIfFalse, Target: 6},  // 3 -> label L1 at 6
			{Kind: bytecode.OpI64Const, IntImm: 1},   // 4
			{Kind: bytecode.OpRet},                   // 5
			{Kind: bytecode.OpI64Const, IntImm: 0},   // 6: L1
			{Kind: bytecode.OpRet},                   // 7
		},
	}
	vm := New([]*bytecode.Function{fn}, nil, 0, nil)
	result, err := vm.Call(0, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Int(1), result)
}

// factorialFunc is fact(n) = n==0 ? 1 : n*fact(n-1), calling itself by its
// own function id (the self-recursion fast path's source program).
func factorialFunc(selfID int) *bytecode.Function {
	return &bytecode.Function{
		Arity:       1,
		LocalsCount: 1,
		Ops: []bytecode.Op{
			{Kind: bytecode.OpLocalGet, LocalIdx: 0}, // 0: n
			{Kind: bytecode.OpI64Const, IntImm: 0},   // 1
			{Kind: bytecode.OpEq},                    // 2: n == 0
			{Kind: bytecode.OpBrIfFalse, Target: 6},  // 3
			{Kind: bytecode.OpI64Const, IntImm: 1},   // 4
			{Kind: bytecode.OpRet},                   // 5
			{Kind: bytecode.OpLocalGet, LocalIdx: 0}, // 6: n
			{Kind: bytecode.OpLocalGet, LocalIdx: 0}, // 7: n
			{Kind: bytecode.OpI64Const, IntImm: 1},   // 8
			{Kind: bytecode.OpSubI64},                // 9: n-1
			{Kind: bytecode.OpCall, FuncID: selfID, Argc: 1}, // 10: fact(n-1)
			{Kind: bytecode.OpMulI64},                 // 11: n * fact(n-1)
			{Kind: bytecode.OpRet},                     // 12
		},
	}
}

func TestScenarioSelfRecursiveFactorial(t *testing.T) {
	vm := New([]*bytecode.Function{factorialFunc(0)}, nil, 0, nil)
	result, err := vm.Call(0, []value.Value{value.Int(10)})
	require.NoError(t, err)
	assert.Equal(t, value.Int(3628800), result)
}

// doubleFunc is double(x) = x*2, the scenario 6 indirect-call target.
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

// indirectCallerFunc calls doubleID indirectly through a MakeClosure-built
// heap object (spec scenario 6: a closure capturing n=7 over double(x),
// dispatched through CallIndirect; double ignores the captured n and only
// reads its own argument).
func indirectCallerFunc(doubleID int) *bytecode.Function {
	return &bytecode.Function{
		Ops: []bytecode.Op{
			{Kind: bytecode.OpI64Const, IntImm: 7}, // captured n
			{Kind: bytecode.OpMakeClosure, FuncID: doubleID},
			{Kind: bytecode.OpCallIndirect, Argc: 1},
			{Kind: bytecode.OpRet},
		},
	}
}

func TestScenarioIndirectCallViaResolvedClosureTarget(t *testing.T) {
	fns := []*bytecode.Function{indirectCallerFunc(1), doubleFunc()}
	vm := New(fns, nil, 0, nil)
	result, err := vm.Call(0, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Int(14), result)
}
