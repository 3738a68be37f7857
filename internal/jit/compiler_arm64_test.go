package jit

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svmjit/svmjit/internal/uop"
)

func TestCompileARM64ConstAndReturn(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.ConstI64, Dst: 0, ImmI: 42},
			{Kind: uop.Ret, Src: 0, HasRet: true},
		},
		LocalsCount: 0,
		TempsCount:  1,
	}
	code, err := CompileARM64(fn, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, code.EntryOffset)
	assert.Equal(t, 1, code.TotalRegs)
	require.True(t, len(code.Code) >= 4)
	// Every AArch64 function body ends in the RET word 0xD65F03C0,
	// little-endian.
	last4 := code.Code[len(code.Code)-4:]
	assert.Equal(t, []byte{0xC0, 0x03, 0x5F, 0xD6}, last4)
	// Every instruction is exactly one 4-byte word.
	assert.Equal(t, 0, len(code.Code)%4)
}

func TestCompileARM64UnsupportedOpFailsWholeFunction(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.Raw, RawOp: "nonexistent_bytecode"},
			{Kind: uop.Ret, Src: 0, HasRet: true},
		},
		LocalsCount: 1,
		TempsCount:  1,
	}
	_, err := CompileARM64(fn, 0)
	require.Error(t, err)
}

// AddI64/CmpI64 are polymorphic (spec §4.6): a bytecode-level "integer" op
// still has to check the runtime tag of its operand, since the VM is
// dynamically typed. Compiling either one must not fail regardless of
// whether the inputs happen to be int- or float-producing µops upstream.
func TestCompileARM64PolymorphicArithmeticCompiles(t *testing.T) {
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
	code, err := CompileARM64(fn, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	assert.Equal(t, 0, len(code.Code)%4)
}

// RemI64 stays integer-only (spec §4.6): no tag check, straight SDIV+MSUB.
func TestCompileARM64RemI64Compiles(t *testing.T) {
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
	code, err := CompileARM64(fn, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	assert.Equal(t, 0, len(code.Code)%4)
}

func TestCompileARM64HeapOpsCompile(t *testing.T) {
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
	code, err := CompileARM64(fn, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	assert.Equal(t, 0, len(code.Code)%4)
}

func TestCompileARM64StringConstCompiles(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.StringConst, Dst: 0, Idx: 3},
			{Kind: uop.Ret, Src: 0, HasRet: true},
		},
		LocalsCount: 0,
		TempsCount:  1,
	}
	code, err := CompileARM64(fn, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	assert.Equal(t, 0, len(code.Code)%4)
}

func TestCompileARM64HelperTrampolineOpsCompile(t *testing.T) {
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
	code, err := CompileARM64(fn, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	assert.Equal(t, 0, len(code.Code)%4)
}

func TestCompileARM64PeepholeFusionShrinksCode(t *testing.T) {
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
	fusedCode, err := CompileARM64(fused, 0)
	require.NoError(t, err)
	unfusedCode, err := CompileARM64(unfused, 0)
	require.NoError(t, err)

	assert.Less(t, len(fusedCode.Code), len(unfusedCode.Code))
}

func TestCompileARM64SelfRecursiveCallUsesBL(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.Call, FuncID: 3, Args: []int{0}, Dst: 1, HasRet: true},
			{Kind: uop.Ret, Src: 1, HasRet: true},
		},
		LocalsCount: 2,
		TempsCount:  1,
	}
	code, err := CompileARM64(fn, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	assert.Equal(t, 0, len(code.Code)%4)
	// A BL word (top six bits 100101) branching to the function's own entry.
	hasBL := false
	for off := 0; off+4 <= len(code.Code); off += 4 {
		if binary.LittleEndian.Uint32(code.Code[off:])&0xFC000000 == 0x94000000 {
			hasBL = true
		}
	}
	assert.True(t, hasBL)
}

func TestCompileARM64GenericCallUsesHelperIndirection(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.Call, FuncID: 9, Args: []int{0}, Dst: 1, HasRet: true},
			{Kind: uop.Ret, Src: 1, HasRet: true},
		},
		LocalsCount: 2,
		TempsCount:  1,
	}
	code, err := CompileARM64(fn, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	// BLR X11 (0xD63F0160): the indirect call through JitCallContext.CallHelper.
	assert.True(t, bytes.Contains(code.Code, []byte{0x60, 0x01, 0x3F, 0xD6}))
}

func TestCompileARM64CallIndirectDispatchesThroughHelper(t *testing.T) {
	fn := &uop.ConvertedFunction{
		Ops: []uop.Op{
			{Kind: uop.CallIndirect, Callee: 2, Args: []int{0}, Dst: 1, HasRet: true},
			{Kind: uop.Ret, Src: 1, HasRet: true},
		},
		LocalsCount: 3,
		TempsCount:  1,
	}
	code, err := CompileARM64(fn, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	assert.Equal(t, 0, len(code.Code)%4)
	// BLR X11 (0xD63F0160): the indirect call through JitCallContext.CallHelper.
	assert.True(t, bytes.Contains(code.Code, []byte{0x60, 0x01, 0x3F, 0xD6}))
}
