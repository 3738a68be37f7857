package jit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svmjit/svmjit/internal/uop"
)

func TestCompileAMD64ConstAndReturn(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.ConstI64, Dst: 0, ImmI: 42},
			{Kind: uop.Ret, Src: 0, HasRet: true},
		},
		LocalsCount: 0,
		TempsCount:  1,
	}
	code, err := CompileAMD64(fn, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, code.EntryOffset)
	assert.Equal(t, 1, code.TotalRegs)
	assert.NotEmpty(t, code.Code)
	// Every x86-64 function body ends in a RET byte (0xC3).
	assert.Equal(t, byte(0xC3), code.Code[len(code.Code)-1])
}

func TestCompileAMD64UnsupportedOpFailsWholeFunction(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.Raw, RawOp: "nonexistent_bytecode"},
			{Kind: uop.Ret, Src: 0, HasRet: true},
		},
		LocalsCount: 1,
		TempsCount:  1,
	}
	_, err := CompileAMD64(fn, 0)
	require.Error(t, err)
}

// AddI64/CmpI64 are polymorphic (spec §4.6): a bytecode-level "integer" op
// still has to check the runtime tag of its operand, since the VM is
// dynamically typed. Compiling either one must not fail regardless of
// whether the inputs happen to be int- or float-producing µops upstream.
func TestCompileAMD64PolymorphicArithmeticCompiles(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.ConstI64, Dst: 0, ImmI: 1},
			{Kind: uop.ConstF64, Dst: 1, ImmF: 2.5},
			{Kind: uop.AddI64, Dst: 2, A: 0, B: 1},
			{Kind: uop.SubI64, Dst: 3, A: 0, B: 1},
			{Kind: uop.MulI64, Dst: 4, A: 0, B: 1},
			{Kind: uop.DivI64, Dst: 5, A: 0, B: 1},
			{Kind: uop.NegI64, Dst: 6, A: 0},
			{Kind: uop.CmpI64, Dst: 7, A: 0, B: 1, Cond: uop.CondLtS},
			{Kind: uop.Ret, Src: 7, HasRet: true},
		},
		LocalsCount: 0,
		TempsCount:  8,
	}
	code, err := CompileAMD64(fn, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
}

// RemI64 stays integer-only (spec §4.6): no tag check, straight CQO+IDIV.
func TestCompileAMD64RemI64Compiles(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.ConstI64, Dst: 0, ImmI: 7},
			{Kind: uop.ConstI64, Dst: 1, ImmI: 2},
			{Kind: uop.RemI64, Dst: 2, A: 0, B: 1},
			{Kind: uop.Ret, Src: 2, HasRet: true},
		},
		LocalsCount: 0,
		TempsCount:  3,
	}
	code, err := CompileAMD64(fn, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
}

func TestCompileAMD64HeapOpsCompile(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.ConstI64, Dst: 0, ImmI: 0},
			{Kind: uop.HeapLoad, Dst: 1, Base: 0, Offset: 0},
			{Kind: uop.HeapStore, Base: 0, Offset: 0, Value: 1},
			{Kind: uop.HeapLoadDyn, Dst: 2, Base: 0, Idx: 0},
			{Kind: uop.HeapStoreDyn, Base: 0, Idx: 0, Value: 1},
			{Kind: uop.HeapLoad2, Dst: 3, Base: 0, Idx: 0},
			{Kind: uop.HeapStore2, Base: 0, Idx: 0, Value: 1},
			{Kind: uop.RefEq, Dst: 4, A: 0, B: 0},
			{Kind: uop.RefIsNull, Dst: 5, A: 0},
			{Kind: uop.Ret, Src: 4, HasRet: true},
		},
		LocalsCount: 0,
		TempsCount:  6,
	}
	code, err := CompileAMD64(fn, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
}

func TestCompileAMD64StringConstCompiles(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.StringConst, Dst: 0, Idx: 3},
			{Kind: uop.Ret, Src: 0, HasRet: true},
		},
		LocalsCount: 0,
		TempsCount:  1,
	}
	code, err := CompileAMD64(fn, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
}

func TestCompileAMD64HelperTrampolineOpsCompile(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.ConstI64, Dst: 0, ImmI: 4},
			{Kind: uop.HeapAllocDynSimple, Dst: 1, A: 0},
			{Kind: uop.HeapAllocString, Dst: 2, A: 0, B: 0},
			{Kind: uop.ToString, Dst: 3, A: 0},
			{Kind: uop.PrintDebug, Dst: 4, A: 0},
			{Kind: uop.Ret, Src: 4, HasRet: true},
		},
		LocalsCount: 0,
		TempsCount:  5,
	}
	code, err := CompileAMD64(fn, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
}

// An adjacent CmpI64+BrIf pair fuses into a single compare-and-branch,
// skipping SETcc/MOVZX and the boolean's frame-slot store entirely (spec
// §4.5). Breaking adjacency with an intervening Mov must produce
// meaningfully more code for the same logical comparison.
func TestCompileAMD64PeepholeFusionShrinksCode(t *testing.T) {
	fused := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.ConstI64, Dst: 0, ImmI: 1},
			{Kind: uop.ConstI64, Dst: 1, ImmI: 2},
			{Kind: uop.CmpI64, Dst: 2, A: 0, B: 1, Cond: uop.CondLtS},
			{Kind: uop.BrIf, Src: 2, Target: 5},
			{Kind: uop.Ret, Src: 0, HasRet: true},
			{Kind: uop.Ret, Src: 1, HasRet: true},
		},
		LocalsCount: 0,
		TempsCount:  3,
	}
	unfused := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.ConstI64, Dst: 0, ImmI: 1},
			{Kind: uop.ConstI64, Dst: 1, ImmI: 2},
			{Kind: uop.CmpI64, Dst: 2, A: 0, B: 1, Cond: uop.CondLtS},
			{Kind: uop.Mov, Dst: 3, Src: 2},
			{Kind: uop.BrIf, Src: 3, Target: 6},
			{Kind: uop.Ret, Src: 0, HasRet: true},
			{Kind: uop.Ret, Src: 1, HasRet: true},
		},
		LocalsCount: 0,
		TempsCount:  4,
	}
	fusedCode, err := CompileAMD64(fused, 0)
	require.NoError(t, err)
	unfusedCode, err := CompileAMD64(unfused, 0)
	require.NoError(t, err)

	assert.Less(t, len(fusedCode.Code), len(unfusedCode.Code))
}

func TestCompileAMD64SelfRecursiveCallReachesEntry(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.Call, FuncID: 3, Args: []int{0}, Dst: 1, HasRet: true},
			{Kind: uop.Ret, Src: 1, HasRet: true},
		},
		LocalsCount: 2,
		TempsCount:  1,
	}
	code, err := CompileAMD64(fn, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	// FuncID matches the compiling function, so the call is lowered as a
	// direct CallRel32 (0xE8) into the function's own entry.
	assert.Contains(t, code.Code, byte(0xE8))
}

func TestCompileAMD64GenericCallUsesHelperIndirection(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.Call, FuncID: 9, Args: []int{0}, Dst: 1, HasRet: true},
			{Kind: uop.Ret, Src: 1, HasRet: true},
		},
		LocalsCount: 2,
		TempsCount:  1,
	}
	code, err := CompileAMD64(fn, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	// CALL R8 (41 FF D0): the indirect call through JitCallContext.CallHelper.
	assert.True(t, bytes.Contains(code.Code, []byte{0x41, 0xFF, 0xD0}))
}

func TestCompileAMD64CallIndirectDispatchesThroughHelper(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.CallIndirect, Callee: 2, Args: []int{0}, Dst: 1, HasRet: true},
			{Kind: uop.Ret, Src: 1, HasRet: true},
		},
		LocalsCount: 3,
		TempsCount:  1,
	}
	code, err := CompileAMD64(fn, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	// CALL R8 (41 FF D0): the indirect call through JitCallContext.CallHelper.
	assert.True(t, bytes.Contains(code.Code, []byte{0x41, 0xFF, 0xD0}))
}
