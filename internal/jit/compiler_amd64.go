package jit

import (
	"fmt"

	"github.com/svmjit/svmjit/internal/asm/amd64"
	"github.com/svmjit/svmjit/internal/uop"
	"github.com/svmjit/svmjit/internal/value"
)

// compilerAMD64 lowers one converted function's µops to x86-64 machine code
// (spec §4.6, §4.5 peephole fusion). A fresh compilerAMD64 is used per
// function; it is not safe for concurrent or repeated use.
type compilerAMD64 struct {
	a       *amd64.Assembler
	fn      *uop.ConvertedFunction
	funcID  int
	targets map[int]bool
}

// CompileAMD64 lowers fn (the function identified by funcID, for the
// self-recursion fast path) into a standalone blob of x86-64 machine code.
// The compiled entry point expects (ctx uintptr in RDI, framePtr uintptr in
// RSI) and returns (tag uint64 in RAX, payload uint64 in RDX) — the same
// two-word Value shape JitCallContext's helper pointers use (spec §6).
func CompileAMD64(fn *uop.ConvertedFunction, funcID int) (*CompiledCode, error) {
	c := &compilerAMD64{
		a:       amd64.NewAssembler(),
		fn:      fn,
		funcID:  funcID,
		targets: branchTargets(fn.Ops),
	}
	if err := c.a.DefineLabel("entry"); err != nil {
		return nil, err
	}
	c.prologue()
	if err := c.body(); err != nil {
		return nil, err
	}
	if err := c.a.PatchForwardRefs(); err != nil {
		return nil, err
	}
	return &CompiledCode{
		Code:        c.a.IntoCode(),
		EntryOffset: 0,
		TotalRegs:   fn.TotalRegs(),
		StackMap:    map[int]uint64{},
	}, nil
}

// prologue saves the three callee-saved GPRs this compiler dedicates to
// fixed roles and loads VM_CTX/FRAME_BASE from the incoming RDI/RSI
// arguments (spec §4.6). Pushing RBP, R12, R13 — three pushes — takes rsp
// from its SysV entry-time offset of 8 (mod 16) back to 0 (mod 16), which
// is exactly the alignment a subsequent CALL requires; no extra padding
// push is needed for this register choice.
func (c *compilerAMD64) prologue() {
	c.a.PushR(amd64.RegBP)
	c.a.PushR(amd64.RegR12)
	c.a.PushR(amd64.RegR13)
	c.a.MovRegReg(regVMCtx, amd64.RegDI)
	c.a.MovRegReg(regFrameBase, amd64.RegSI)
}

func (c *compilerAMD64) epilogue() {
	c.a.PopR(amd64.RegR13)
	c.a.PopR(amd64.RegR12)
	c.a.PopR(amd64.RegBP)
	c.a.Ret()
}

func (c *compilerAMD64) body() error {
	ops := c.fn.Ops
	for i := 0; i < len(ops); i++ {
		if err := c.a.DefineLabel(pcLabel(i)); err != nil {
			return err
		}
		op := ops[i]
		if canFuse(ops, i, c.targets) {
			if err := c.lowerFusedCompareBranch(op, ops[i+1], i); err != nil {
				return err
			}
			i++
			continue
		}
		if err := c.lowerOp(op, i); err != nil {
			return err
		}
	}
	// One-past-the-end label for a Jmp/BrIf that targets fallthrough-at-end.
	return c.a.DefineLabel(pcLabel(len(ops)))
}

func (c *compilerAMD64) loadInt(dst, base amd64.Register, vreg int) {
	_, payloadDisp := frameDisp(vreg)
	c.a.LoadMem(dst, base, payloadDisp)
}

func (c *compilerAMD64) storeTagged(vreg int, tag value.Tag, payload amd64.Register) {
	tagDisp, payloadDisp := frameDisp(vreg)
	c.a.MovImm64(regT1, uint64(tag))
	c.a.StoreMem(regFrameBase, tagDisp, regT1)
	c.a.StoreMem(regFrameBase, payloadDisp, payload)
}

func (c *compilerAMD64) loadFloat(dst amd64.Register, vreg int) {
	_, payloadDisp := frameDisp(vreg)
	c.a.LoadMemSD(dst, regFrameBase, payloadDisp)
}

func (c *compilerAMD64) storeFloat(vreg int, src amd64.Register) {
	tagDisp, payloadDisp := frameDisp(vreg)
	c.a.MovImm64(regT1, uint64(value.TagFloat))
	c.a.StoreMem(regFrameBase, tagDisp, regT1)
	c.a.StoreMemSD(regFrameBase, payloadDisp, src)
}

func condToAMD64(c uop.Cond) amd64.Cond {
	switch c {
	case uop.CondEq:
		return amd64.CondEQ
	case uop.CondNe:
		return amd64.CondNE
	case uop.CondLtS:
		return amd64.CondLT
	case uop.CondLeS:
		return amd64.CondLE
	case uop.CondGtS:
		return amd64.CondGT
	case uop.CondGeS:
		return amd64.CondGE
	default:
		panic("jit: unknown uop.Cond")
	}
}

// fpCondToAMD64 maps a signed comparison token to the unsigned x86-64
// condition code that reads the flags UCOMISD leaves behind: an IEEE
// ordered compare sets the same flags an unsigned integer compare would
// (spec §4.6 CmpI64 float path).
func fpCondToAMD64(c uop.Cond) amd64.Cond {
	switch c {
	case uop.CondEq:
		return amd64.CondEQ
	case uop.CondNe:
		return amd64.CondNE
	case uop.CondLtS:
		return amd64.CondB
	case uop.CondLeS:
		return amd64.CondBE
	case uop.CondGtS:
		return amd64.CondA
	case uop.CondGeS:
		return amd64.CondAE
	default:
		panic("jit: unknown uop.Cond")
	}
}

// lowerFusedCompareBranch emits a single compare+Jcc for a CmpI64/CmpI64Imm
// immediately followed by a consuming BrIf/BrIfFalse (spec §4.5): the
// intermediate boolean is never materialized into a frame slot at all.
// CmpI64Imm's immediate form is always integer (spec §4.6), so only the
// register form needs the polymorphic int/float tag dispatch; its float
// path mirrors the unfused CmpI64 float path using UCOMISD with the
// unsigned condition mapping.
func (c *compilerAMD64) lowerFusedCompareBranch(cmp, br uop.Op, i int) error {
	if cmp.Kind == uop.CmpI64Imm {
		c.loadInt(regT0, regFrameBase, cmp.A)
		c.a.CmpImm32(regT0, int32(cmp.ImmI))
		cond := condToAMD64(cmp.Cond)
		if br.Kind == uop.BrIfFalse {
			cond = cond.Invert()
		}
		c.a.Jcc(cond, pcLabel(br.Target))
		return nil
	}

	floatLabel := fmt.Sprintf("fusedcmp_float_%d", i)
	endLabel := fmt.Sprintf("fusedcmp_end_%d", i)

	tagDisp, _ := frameDisp(cmp.A)
	c.a.LoadMem(regT0, regFrameBase, tagDisp)
	c.a.CmpImm32(regT0, int32(value.TagFloat))
	c.a.Jcc(amd64.CondEQ, floatLabel)

	c.loadInt(regT0, regFrameBase, cmp.A)
	c.loadInt(regT1, regFrameBase, cmp.B)
	c.a.CmpRR(regT0, regT1)
	cond := condToAMD64(cmp.Cond)
	if br.Kind == uop.BrIfFalse {
		cond = cond.Invert()
	}
	c.a.Jcc(cond, pcLabel(br.Target))
	c.a.Jmp(endLabel)

	if err := c.a.DefineLabel(floatLabel); err != nil {
		return err
	}
	c.loadFloat(regF0, cmp.A)
	c.loadFloat(regF1, cmp.B)
	c.a.UcomiSD(regF0, regF1)
	fcond := fpCondToAMD64(cmp.Cond)
	if br.Kind == uop.BrIfFalse {
		fcond = fcond.Invert()
	}
	c.a.Jcc(fcond, pcLabel(br.Target))

	return c.a.DefineLabel(endLabel)
}

// polyDispatch emits the shared polymorphic-arithmetic scaffold (spec §4.6
// AddI64/SubI64/MulI64/DivI64/NegI64/CmpI64): load tag(a), jump to the float
// path on a match, otherwise run intPath and jump over the float path,
// converging at a shared end label. Labels are disambiguated by the µop's
// own index i, which body() guarantees is visited exactly once.
func (c *compilerAMD64) polyDispatch(i, a int, intPath, floatPath func()) error {
	floatLabel := fmt.Sprintf("poly_float_%d", i)
	endLabel := fmt.Sprintf("poly_end_%d", i)

	tagDisp, _ := frameDisp(a)
	c.a.LoadMem(regT0, regFrameBase, tagDisp)
	c.a.CmpImm32(regT0, int32(value.TagFloat))
	c.a.Jcc(amd64.CondEQ, floatLabel)

	intPath()
	c.a.Jmp(endLabel)

	if err := c.a.DefineLabel(floatLabel); err != nil {
		return err
	}
	floatPath()

	return c.a.DefineLabel(endLabel)
}

func (c *compilerAMD64) polyBinopALU(op uop.Op, i int) error {
	return c.polyDispatch(i, op.A, func() {
		c.loadInt(regT0, regFrameBase, op.A)
		c.loadInt(regT1, regFrameBase, op.B)
		switch op.Kind {
		case uop.AddI64:
			c.a.AddRR(regT0, regT1)
		case uop.SubI64:
			c.a.SubRR(regT0, regT1)
		case uop.MulI64:
			c.a.MulRR(regT0, regT1)
		}
		c.storeTagged(op.Dst, value.TagInt, regT0)
	}, func() {
		c.loadFloat(regF0, op.A)
		c.loadFloat(regF1, op.B)
		switch op.Kind {
		case uop.AddI64:
			c.a.AddSD(regF0, regF1)
		case uop.SubI64:
			c.a.SubSD(regF0, regF1)
		case uop.MulI64:
			c.a.MulSD(regF0, regF1)
		}
		c.storeFloat(op.Dst, regF0)
	})
}

func (c *compilerAMD64) polyDivI64(op uop.Op, i int) error {
	return c.polyDispatch(i, op.A, func() {
		// The divisor must land somewhere other than RAX/RDX: CQO
		// immediately overwrites RDX with the sign-extension of RAX.
		c.loadInt(amd64.RegAX, regFrameBase, op.A)
		c.loadInt(regT3, regFrameBase, op.B)
		c.a.Cqo()
		c.a.IDiv(regT3)
		c.storeTagged(op.Dst, value.TagInt, amd64.RegAX)
	}, func() {
		c.loadFloat(regF0, op.A)
		c.loadFloat(regF1, op.B)
		c.a.DivSD(regF0, regF1)
		c.storeFloat(op.Dst, regF0)
	})
}

func (c *compilerAMD64) polyNegI64(op uop.Op, i int) error {
	return c.polyDispatch(i, op.A, func() {
		c.loadInt(regT0, regFrameBase, op.A)
		c.a.NegR(regT0)
		c.storeTagged(op.Dst, value.TagInt, regT0)
	}, func() {
		// Negating a float is a sign-bit flip on its raw bit pattern, done
		// directly on the GPR payload rather than round-tripping through
		// an XMM register (spec §4.6, mirroring the integer path's shape).
		_, payloadDisp := frameDisp(op.A)
		c.a.LoadMem(regT0, regFrameBase, payloadDisp)
		c.a.MovImm64(regT1, 1<<63)
		c.a.XorRR(regT0, regT1)
		c.storeTagged(op.Dst, value.TagFloat, regT0)
	})
}

// polyCmp lowers CmpI64's register form: polymorphic int/float dispatch,
// converging on a TagInt-tagged 0/1 result in both paths (spec §4.6: "Result
// is stored with tag=INT — Boolean semantics remain the VM's contract").
func (c *compilerAMD64) polyCmp(op uop.Op, i int) error {
	return c.polyDispatch(i, op.A, func() {
		c.loadInt(regT0, regFrameBase, op.A)
		c.loadInt(regT1, regFrameBase, op.B)
		c.a.CmpRR(regT0, regT1)
		c.a.SetCC(condToAMD64(op.Cond), regT0)
		c.storeTagged(op.Dst, value.TagInt, regT0)
	}, func() {
		c.loadFloat(regF0, op.A)
		c.loadFloat(regF1, op.B)
		c.a.UcomiSD(regF0, regF1)
		c.a.SetCC(fpCondToAMD64(op.Cond), regT0)
		c.storeTagged(op.Dst, value.TagInt, regT0)
	})
}

// lowerStringConst lowers StringConst's cache fast-path/helper slow-path
// mechanism (spec §4.6): string_cache is a flat array of 16-byte entries
// {present_flag, heap_index} at JitCallContext offset OffStringCache; a
// present entry skips the helper call entirely.
func (c *compilerAMD64) lowerStringConst(op uop.Op, i int) error {
	missLabel := fmt.Sprintf("strconst_miss_%d", i)
	endLabel := fmt.Sprintf("strconst_end_%d", i)

	c.a.LoadMem(regT0, regVMCtx, int32(OffStringCache))
	c.a.AddImm32(regT0, int32(op.Idx*16))
	c.a.LoadMem(regT1, regT0, 0)
	c.a.CmpImm32(regT1, 0)
	c.a.Jcc(amd64.CondEQ, missLabel)

	// Fast path: cache hit, slot at regT0+8 holds the cached heap index.
	c.a.LoadMem(regT2, regT0, 8)
	c.storeTagged(op.Dst, value.TagPtr, regT2)
	c.a.Jmp(endLabel)

	// Slow path: call push_string_helper(ctx, idx) -> (tag, payload).
	if err := c.a.DefineLabel(missLabel); err != nil {
		return err
	}
	c.a.LoadMem(amd64.RegR8, regVMCtx, int32(OffPushStringHelper))
	c.a.MovRegReg(amd64.RegDI, regVMCtx)
	c.a.MovImm64(amd64.RegSI, uint64(op.Idx))
	c.a.CallReg(amd64.RegR8)
	tagDisp, payloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, tagDisp, amd64.RegAX)
	c.a.StoreMem(regFrameBase, payloadDisp, amd64.RegDX)

	return c.a.DefineLabel(endLabel)
}

// lowerHeapLoad lowers a static-offset HeapLoad: addr = heap_base +
// (ref+1+2*offset)*8 (spec §4.6, value.HeapSlotOffset's formula reproduced
// as runtime machine-code arithmetic rather than a compile-time Go call).
func (c *compilerAMD64) lowerHeapLoad(op uop.Op) {
	c.loadInt(regT0, regFrameBase, op.Base)
	c.a.LoadMem(regT1, regVMCtx, int32(OffHeapBase))
	c.a.AddImm32(regT0, int32(1+2*op.Offset))
	c.a.ShlImm(regT0, 3)
	c.a.AddRR(regT1, regT0)
	c.a.LoadMem(regT2, regT1, 0)
	c.a.LoadMem(regT3, regT1, 8)
	tagDisp, payloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, tagDisp, regT2)
	c.a.StoreMem(regFrameBase, payloadDisp, regT3)
}

func (c *compilerAMD64) lowerHeapStore(op uop.Op) {
	tagDisp, payloadDisp := frameDisp(op.Value)
	c.a.LoadMem(regT2, regFrameBase, tagDisp)
	c.a.LoadMem(regT3, regFrameBase, payloadDisp)
	c.loadInt(regT0, regFrameBase, op.Base)
	c.a.LoadMem(regT1, regVMCtx, int32(OffHeapBase))
	c.a.AddImm32(regT0, int32(1+2*op.Offset))
	c.a.ShlImm(regT0, 3)
	c.a.AddRR(regT1, regT0)
	c.a.StoreMem(regT1, 0, regT2)
	c.a.StoreMem(regT1, 8, regT3)
}

// lowerHeapLoadDyn lowers a dynamic-index HeapLoadDyn: the index vreg is
// scaled by 2 (each slot is two words) before the same addressing arithmetic
// lowerHeapLoad uses with a static offset.
func (c *compilerAMD64) lowerHeapLoadDyn(op uop.Op) {
	_, idxPayloadDisp := frameDisp(op.Idx)
	c.a.LoadMem(regT2, regFrameBase, idxPayloadDisp)
	c.loadInt(regT0, regFrameBase, op.Base)
	c.a.LoadMem(regT1, regVMCtx, int32(OffHeapBase))
	c.a.ShlImm(regT2, 1)
	c.a.AddImm32(regT0, 1)
	c.a.AddRR(regT0, regT2)
	c.a.ShlImm(regT0, 3)
	c.a.AddRR(regT1, regT0)
	c.a.LoadMem(regT2, regT1, 0)
	c.a.LoadMem(regT3, regT1, 8)
	tagDisp, payloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, tagDisp, regT2)
	c.a.StoreMem(regFrameBase, payloadDisp, regT3)
}

func (c *compilerAMD64) lowerHeapStoreDyn(op uop.Op) {
	tagDisp, payloadDisp := frameDisp(op.Value)
	c.a.LoadMem(regT4, regFrameBase, tagDisp)
	c.a.LoadMem(regT5, regFrameBase, payloadDisp)
	_, idxPayloadDisp := frameDisp(op.Idx)
	c.a.LoadMem(regT2, regFrameBase, idxPayloadDisp)
	c.loadInt(regT0, regFrameBase, op.Base)
	c.a.LoadMem(regT1, regVMCtx, int32(OffHeapBase))
	c.a.ShlImm(regT2, 1)
	c.a.AddImm32(regT0, 1)
	c.a.AddRR(regT0, regT2)
	c.a.ShlImm(regT0, 3)
	c.a.AddRR(regT1, regT0)
	c.a.StoreMem(regT1, 0, regT4)
	c.a.StoreMem(regT1, 8, regT5)
}

// lowerHeapLoad2 lowers the pointer-indirect HeapLoad2: dst = heap[heap[obj][0]][idx]
// — first dereference obj's slot 0 to get an inner ref, then index into that
// (spec §4.6).
func (c *compilerAMD64) lowerHeapLoad2(op uop.Op) {
	_, idxPayloadDisp := frameDisp(op.Idx)
	c.a.LoadMem(regT2, regFrameBase, idxPayloadDisp)
	c.loadInt(regT0, regFrameBase, op.Base)
	c.a.LoadMem(regT1, regVMCtx, int32(OffHeapBase))

	// Step 1: inner ref = heap[obj][0].payload.
	c.a.AddImm32(regT0, 1)
	c.a.ShlImm(regT0, 3)
	c.a.MovRegReg(regT3, regT1)
	c.a.AddRR(regT3, regT0)
	c.a.LoadMem(regT0, regT3, 8)

	// Step 2: load heap[inner][idx].
	c.a.ShlImm(regT2, 1)
	c.a.AddImm32(regT0, 1)
	c.a.AddRR(regT0, regT2)
	c.a.ShlImm(regT0, 3)
	c.a.AddRR(regT1, regT0)
	c.a.LoadMem(regT2, regT1, 0)
	c.a.LoadMem(regT3, regT1, 8)
	tagDisp, payloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, tagDisp, regT2)
	c.a.StoreMem(regFrameBase, payloadDisp, regT3)
}

func (c *compilerAMD64) lowerHeapStore2(op uop.Op) {
	tagDisp, payloadDisp := frameDisp(op.Value)
	c.a.LoadMem(regT4, regFrameBase, tagDisp)
	c.a.LoadMem(regT5, regFrameBase, payloadDisp)
	_, idxPayloadDisp := frameDisp(op.Idx)
	c.a.LoadMem(regT2, regFrameBase, idxPayloadDisp)
	c.loadInt(regT0, regFrameBase, op.Base)
	c.a.LoadMem(regT1, regVMCtx, int32(OffHeapBase))

	c.a.AddImm32(regT0, 1)
	c.a.ShlImm(regT0, 3)
	c.a.MovRegReg(regT3, regT1)
	c.a.AddRR(regT3, regT0)
	c.a.LoadMem(regT0, regT3, 8)

	c.a.ShlImm(regT2, 1)
	c.a.AddImm32(regT0, 1)
	c.a.AddRR(regT0, regT2)
	c.a.ShlImm(regT0, 3)
	c.a.AddRR(regT1, regT0)
	c.a.StoreMem(regT1, 0, regT4)
	c.a.StoreMem(regT1, 8, regT5)
}

// lowerHeapAllocDynSimple sets ABI args (context plus the size payload) and
// calls the helper at its VM_CTX offset, storing the returned pair. VM_CTX
// and FRAME_BASE need no explicit save/restore around the call: they live
// in callee-saved registers (spec §4.6: "The JIT treats these as opaque
// trampolines").
func (c *compilerAMD64) lowerHeapAllocDynSimple(op uop.Op) {
	c.a.MovRegReg(amd64.RegDI, regVMCtx)
	c.loadInt(amd64.RegSI, regFrameBase, op.A)
	c.a.LoadMem(amd64.RegR8, regVMCtx, int32(OffHeapAllocDynSimpleHelp))
	c.a.CallReg(amd64.RegR8)
	tagDisp, payloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, tagDisp, amd64.RegAX)
	c.a.StoreMem(regFrameBase, payloadDisp, amd64.RegDX)
}

func (c *compilerAMD64) lowerHeapAllocString(op uop.Op) {
	c.a.MovRegReg(amd64.RegDI, regVMCtx)
	c.loadInt(amd64.RegSI, regFrameBase, op.A)
	c.loadInt(amd64.RegDX, regFrameBase, op.B)
	c.a.LoadMem(amd64.RegR8, regVMCtx, int32(OffHeapAllocStringHelper))
	c.a.CallReg(amd64.RegR8)
	tagDisp, payloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, tagDisp, amd64.RegAX)
	c.a.StoreMem(regFrameBase, payloadDisp, amd64.RegDX)
}

func (c *compilerAMD64) lowerToString(op uop.Op) {
	c.a.MovRegReg(amd64.RegDI, regVMCtx)
	tagDisp, payloadDisp := frameDisp(op.A)
	c.a.LoadMem(amd64.RegSI, regFrameBase, tagDisp)
	c.a.LoadMem(amd64.RegDX, regFrameBase, payloadDisp)
	c.a.LoadMem(amd64.RegR8, regVMCtx, int32(OffToStringHelper))
	c.a.CallReg(amd64.RegR8)
	dstTagDisp, dstPayloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, dstTagDisp, amd64.RegAX)
	c.a.StoreMem(regFrameBase, dstPayloadDisp, amd64.RegDX)
}

func (c *compilerAMD64) lowerPrintDebug(op uop.Op) {
	c.a.MovRegReg(amd64.RegDI, regVMCtx)
	tagDisp, payloadDisp := frameDisp(op.A)
	c.a.LoadMem(amd64.RegSI, regFrameBase, tagDisp)
	c.a.LoadMem(amd64.RegDX, regFrameBase, payloadDisp)
	c.a.LoadMem(amd64.RegR8, regVMCtx, int32(OffPrintDebugHelper))
	c.a.CallReg(amd64.RegR8)
	dstTagDisp, dstPayloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, dstTagDisp, amd64.RegAX)
	c.a.StoreMem(regFrameBase, dstPayloadDisp, amd64.RegDX)
}

func (c *compilerAMD64) lowerRefEq(op uop.Op) {
	c.loadInt(regT0, regFrameBase, op.A)
	c.loadInt(regT1, regFrameBase, op.B)
	c.a.CmpRR(regT0, regT1)
	c.a.SetCC(amd64.CondEQ, regT0)
	c.storeTagged(op.Dst, value.TagInt, regT0)
}

func (c *compilerAMD64) lowerRefIsNull(op uop.Op) {
	tagDisp, _ := frameDisp(op.A)
	c.a.LoadMem(regT0, regFrameBase, tagDisp)
	c.a.CmpImm32(regT0, int32(value.TagNil))
	c.a.SetCC(amd64.CondEQ, regT0)
	c.storeTagged(op.Dst, value.TagInt, regT0)
}

func (c *compilerAMD64) lowerOp(op uop.Op, i int) error {
	switch op.Kind {
	case uop.ConstI64:
		c.a.MovImm64(regT0, uint64(op.ImmI))
		c.storeTagged(op.Dst, value.TagInt, regT0)
	case uop.ConstF64:
		bits := value.Float(op.ImmF).Payload
		c.a.MovImm64(regT1, uint64(value.TagFloat))
		tagDisp, payloadDisp := frameDisp(op.Dst)
		c.a.StoreMem(regFrameBase, tagDisp, regT1)
		c.a.MovImm64(regT0, bits)
		c.a.StoreMem(regFrameBase, payloadDisp, regT0)
	case uop.RefNull:
		c.a.MovImm64(regT0, 0)
		c.storeTagged(op.Dst, value.TagNil, regT0)
	case uop.StringConst:
		return c.lowerStringConst(op, i)
	case uop.Mov, uop.StackPush, uop.StackPop:
		tagDisp, payloadDisp := frameDisp(op.Src)
		dstTagDisp, dstPayloadDisp := frameDisp(op.Dst)
		c.a.LoadMem(regT0, regFrameBase, tagDisp)
		c.a.LoadMem(regT1, regFrameBase, payloadDisp)
		c.a.StoreMem(regFrameBase, dstTagDisp, regT0)
		c.a.StoreMem(regFrameBase, dstPayloadDisp, regT1)
	case uop.AddI64, uop.SubI64, uop.MulI64:
		return c.polyBinopALU(op, i)
	case uop.DivI64:
		return c.polyDivI64(op, i)
	case uop.RemI64:
		// Integer-only (spec §4.6): always CQO+IDIV, remainder in RDX.
		c.loadInt(amd64.RegAX, regFrameBase, op.A)
		c.loadInt(regT3, regFrameBase, op.B)
		c.a.Cqo()
		c.a.IDiv(regT3)
		c.storeTagged(op.Dst, value.TagInt, amd64.RegDX)
	case uop.NegI64:
		return c.polyNegI64(op, i)
	case uop.AddI64Imm:
		c.loadInt(regT0, regFrameBase, op.A)
		c.a.AddImm32(regT0, int32(op.ImmI))
		c.storeTagged(op.Dst, value.TagInt, regT0)
	case uop.AddF64, uop.SubF64, uop.MulF64, uop.DivF64:
		c.loadFloat(regF0, op.A)
		c.loadFloat(regF1, op.B)
		switch op.Kind {
		case uop.AddF64:
			c.a.AddSD(regF0, regF1)
		case uop.SubF64:
			c.a.SubSD(regF0, regF1)
		case uop.MulF64:
			c.a.MulSD(regF0, regF1)
		case uop.DivF64:
			c.a.DivSD(regF0, regF1)
		}
		c.storeFloat(op.Dst, regF0)
	case uop.CmpI64:
		return c.polyCmp(op, i)
	case uop.CmpI64Imm:
		// Immediate form is always integer (spec §4.6).
		c.loadInt(regT0, regFrameBase, op.A)
		c.a.CmpImm32(regT0, int32(op.ImmI))
		c.a.SetCC(condToAMD64(op.Cond), regT0)
		c.storeTagged(op.Dst, value.TagInt, regT0)
	case uop.Jmp:
		c.a.Jmp(pcLabel(op.Target))
	case uop.BrIf, uop.BrIfFalse:
		_, payloadDisp := frameDisp(op.Src)
		c.a.LoadMem(regT0, regFrameBase, payloadDisp)
		c.a.CmpImm32(regT0, 0)
		cond := amd64.CondNE
		if op.Kind == uop.BrIfFalse {
			cond = amd64.CondEQ
		}
		c.a.Jcc(cond, pcLabel(op.Target))
	case uop.Call:
		c.lowerCall(op)
	case uop.CallIndirect:
		c.lowerCallIndirect(op)
	case uop.Ret:
		tagDisp, payloadDisp := frameDisp(op.Src)
		c.a.LoadMem(amd64.RegAX, regFrameBase, tagDisp)
		c.a.LoadMem(amd64.RegDX, regFrameBase, payloadDisp)
		c.epilogue()
	case uop.HeapLoad:
		c.lowerHeapLoad(op)
	case uop.HeapStore:
		c.lowerHeapStore(op)
	case uop.HeapLoadDyn:
		c.lowerHeapLoadDyn(op)
	case uop.HeapStoreDyn:
		c.lowerHeapStoreDyn(op)
	case uop.HeapLoad2:
		c.lowerHeapLoad2(op)
	case uop.HeapStore2:
		c.lowerHeapStore2(op)
	case uop.HeapAllocDynSimple:
		c.lowerHeapAllocDynSimple(op)
	case uop.HeapAllocString:
		c.lowerHeapAllocString(op)
	case uop.ToString:
		c.lowerToString(op)
	case uop.PrintDebug:
		c.lowerPrintDebug(op)
	case uop.RefEq:
		c.lowerRefEq(op)
	case uop.RefIsNull:
		c.lowerRefIsNull(op)
	default:
		return unsupported(op)
	}
	return nil
}

// lowerCall lowers a Call µop. A self-recursive call (FuncID == the
// function currently being compiled) takes a fast path: a fresh VM frame of
// exactly this function's own width is opened on the native stack and
// entered directly via CallRel32, skipping the generic dispatch helper.
// Any other call goes through JitCallContext.CallHelper, which works
// whether or not the callee happens to be JIT-compiled yet (spec §4.6,
// §4.8).
func (c *compilerAMD64) lowerCall(op uop.Op) {
	if op.FuncID == c.funcID {
		c.lowerSelfRecursiveCall(op)
		return
	}
	argc := len(op.Args)
	bufSize := int32(argc * value.SlotSize)
	if bufSize > 0 {
		c.a.AddImm32(amd64.RegSP, -bufSize)
		for i, vreg := range op.Args {
			tagDisp, payloadDisp := frameDisp(vreg)
			c.a.LoadMem(regT0, regFrameBase, tagDisp)
			c.a.LoadMem(regT1, regFrameBase, payloadDisp)
			c.a.StoreMem(amd64.RegSP, int32(i*value.SlotSize), regT0)
			c.a.StoreMem(amd64.RegSP, int32(i*value.SlotSize)+8, regT1)
		}
	}
	// The helper pointer must land in a register outside RDI/RSI/RDX/RCX —
	// every one of those is about to be overwritten with an argument — so
	// it's loaded into R8 first and called through R8.
	c.a.LoadMem(amd64.RegR8, regVMCtx, int32(OffCallHelper))
	c.a.MovRegReg(amd64.RegDI, regVMCtx)
	c.a.MovImm64(amd64.RegSI, uint64(op.FuncID))
	c.a.MovImm64(amd64.RegDX, uint64(argc))
	if bufSize > 0 {
		c.a.MovRegReg(amd64.RegCX, amd64.RegSP)
	} else {
		c.a.MovImm64(amd64.RegCX, 0)
	}
	c.a.CallReg(amd64.RegR8)
	if bufSize > 0 {
		c.a.AddImm32(amd64.RegSP, bufSize)
	}
	if op.HasRet {
		tagDisp, payloadDisp := frameDisp(op.Dst)
		c.a.StoreMem(regFrameBase, tagDisp, amd64.RegAX)
		c.a.StoreMem(regFrameBase, payloadDisp, amd64.RegDX)
	}
}

func (c *compilerAMD64) lowerSelfRecursiveCall(op uop.Op) {
	frameBytes := int32(c.fn.TotalRegs() * value.SlotSize)
	c.a.AddImm32(amd64.RegSP, -frameBytes)
	for i, vreg := range op.Args {
		tagDisp, payloadDisp := frameDisp(vreg)
		c.a.LoadMem(regT0, regFrameBase, tagDisp)
		c.a.LoadMem(regT1, regFrameBase, payloadDisp)
		c.a.StoreMem(amd64.RegSP, int32(i*value.SlotSize), regT0)
		c.a.StoreMem(amd64.RegSP, int32(i*value.SlotSize)+8, regT1)
	}
	c.a.MovRegReg(amd64.RegDI, regVMCtx)
	c.a.MovRegReg(amd64.RegSI, amd64.RegSP)
	c.a.CallRel32("entry")
	c.a.AddImm32(amd64.RegSP, frameBytes)
	if op.HasRet {
		tagDisp, payloadDisp := frameDisp(op.Dst)
		c.a.StoreMem(regFrameBase, tagDisp, amd64.RegAX)
		c.a.StoreMem(regFrameBase, payloadDisp, amd64.RegDX)
	}
}

// lowerCallIndirect lowers a CallIndirect µop (spec §4.6): op.Callee's VReg
// holds a heap ref, not a resolved function id directly. Load
// callee.payload (a heap index); compute address = heap_base + (index+1)*8
// (skipping the object header word); read the payload of slot 0 as the
// callee function id; then follow the normal Call path, reusing
// CallHelper's generic dispatch with the resolved id in place of a
// compile-time FuncID immediate. This gives closures and function-value
// semantics.
func (c *compilerAMD64) lowerCallIndirect(op uop.Op) {
	argc := len(op.Args)
	bufSize := int32(argc * value.SlotSize)
	if bufSize > 0 {
		c.a.AddImm32(amd64.RegSP, -bufSize)
		for i, vreg := range op.Args {
			tagDisp, payloadDisp := frameDisp(vreg)
			c.a.LoadMem(regT0, regFrameBase, tagDisp)
			c.a.LoadMem(regT1, regFrameBase, payloadDisp)
			c.a.StoreMem(amd64.RegSP, int32(i*value.SlotSize), regT0)
			c.a.StoreMem(amd64.RegSP, int32(i*value.SlotSize)+8, regT1)
		}
	}

	// Resolve the callee's function id via the heap: addr = heap_base +
	// (ref+1)*8 is slot 0's tag word; its payload (at addr+8) is the id.
	c.loadInt(amd64.RegSI, regFrameBase, op.Callee)
	c.a.LoadMem(regT1, regVMCtx, int32(OffHeapBase))
	c.a.AddImm32(amd64.RegSI, 1)
	c.a.ShlImm(amd64.RegSI, 3)
	c.a.AddRR(regT1, amd64.RegSI)
	c.a.LoadMem(amd64.RegSI, regT1, 8)

	c.a.LoadMem(amd64.RegR8, regVMCtx, int32(OffCallHelper))
	c.a.MovRegReg(amd64.RegDI, regVMCtx)
	c.a.MovImm64(amd64.RegDX, uint64(argc))
	if bufSize > 0 {
		c.a.MovRegReg(amd64.RegCX, amd64.RegSP)
	} else {
		c.a.MovImm64(amd64.RegCX, 0)
	}
	c.a.CallReg(amd64.RegR8)
	if bufSize > 0 {
		c.a.AddImm32(amd64.RegSP, bufSize)
	}
	if op.HasRet {
		tagDisp, payloadDisp := frameDisp(op.Dst)
		c.a.StoreMem(regFrameBase, tagDisp, amd64.RegAX)
		c.a.StoreMem(regFrameBase, payloadDisp, amd64.RegDX)
	}
}
