package jit

import (
	"fmt"

	"github.com/svmjit/svmjit/internal/asm/arm64"
	"github.com/svmjit/svmjit/internal/uop"
	"github.com/svmjit/svmjit/internal/value"
)

// compilerARM64 lowers one converted function's µops to AArch64 machine
// code (spec §4.6, §4.5 peephole fusion). A fresh compilerARM64 is used per
// function; it is not safe for concurrent or repeated use.
type compilerARM64 struct {
	a       *arm64.Assembler
	fn      *uop.ConvertedFunction
	funcID  int
	targets map[int]bool
}

// CompileARM64 lowers fn into a standalone blob of AArch64 machine code.
// The compiled entry point expects (ctx uintptr in X0, framePtr uintptr in
// X1) and returns (tag uint64 in X0, payload uint64 in X1), mirroring the
// amd64 entry convention (spec §6).
func CompileARM64(fn *uop.ConvertedFunction, funcID int) (*CompiledCode, error) {
	c := &compilerARM64{
		a:       arm64.NewAssembler(),
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

// prologue saves FP/LR and the two callee-saved GPRs dedicated to VM_CTX/
// FRAME_BASE, then loads them from the incoming X0/X1 arguments (spec §4.6).
func (c *compilerARM64) prologue() {
	c.a.PushPair(arm64.RegX29, arm64.RegX30)
	c.a.PushPair(regVMCtx, regFrameBase)
	c.a.MovReg(regVMCtx, arm64.RegX0)
	c.a.MovReg(regFrameBase, arm64.RegX1)
}

func (c *compilerARM64) epilogue() {
	c.a.PopPair(regVMCtx, regFrameBase)
	c.a.PopPair(arm64.RegX29, arm64.RegX30)
	c.a.Ret()
}

func (c *compilerARM64) body() error {
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
	return c.a.DefineLabel(pcLabel(len(ops)))
}

// reserveStack grows the native stack by n*16 bytes using n dummy STPs
// (value discarded, overwritten by later stores) and releaseStack shrinks it
// back with n dummy LDPs. The AArch64 encoder only exposes fixed ±16
// pre/post-indexed pair transfers (spec §4.2's curated subset has no SUB-
// immediate-on-SP form), so stack-frame sizing is expressed in units of
// one register pair rather than an arbitrary byte immediate.
func (c *compilerARM64) reserveStack(n int) {
	for i := 0; i < n; i++ {
		c.a.PushPair(regT0, regT0)
	}
}

func (c *compilerARM64) releaseStack(n int) {
	for i := 0; i < n; i++ {
		c.a.PopPair(regT0, regT0)
	}
}

func (c *compilerARM64) loadInt(dst, base arm64.Register, vreg int) {
	_, payloadDisp := frameDisp(vreg)
	c.a.LoadMem(dst, base, uint32(payloadDisp))
}

func (c *compilerARM64) storeTagged(vreg int, tag value.Tag, payload arm64.Register) {
	tagDisp, payloadDisp := frameDisp(vreg)
	c.a.MovImm64(regT1, uint64(tag))
	c.a.StoreMem(regFrameBase, uint32(tagDisp), regT1)
	c.a.StoreMem(regFrameBase, uint32(payloadDisp), payload)
}

func (c *compilerARM64) loadFloat(dst arm64.Register, vreg int) {
	_, payloadDisp := frameDisp(vreg)
	c.a.LoadMemD(dst, regFrameBase, uint32(payloadDisp))
}

func (c *compilerARM64) storeFloat(vreg int, src arm64.Register) {
	tagDisp, payloadDisp := frameDisp(vreg)
	c.a.MovImm64(regT1, uint64(value.TagFloat))
	c.a.StoreMem(regFrameBase, uint32(tagDisp), regT1)
	c.a.StoreMemD(regFrameBase, uint32(payloadDisp), src)
}

func condToARM64(c uop.Cond) arm64.Cond {
	switch c {
	case uop.CondEq:
		return arm64.CondEQ
	case uop.CondNe:
		return arm64.CondNE
	case uop.CondLtS:
		return arm64.CondLT
	case uop.CondLeS:
		return arm64.CondLE
	case uop.CondGtS:
		return arm64.CondGT
	case uop.CondGeS:
		return arm64.CondGE
	default:
		panic("jit: unknown uop.Cond")
	}
}

// fpCondToARM64 maps a signed comparison token to the unsigned AArch64
// condition the FCMP instruction's flags satisfy for an ordered compare
// (spec §4.6 CmpI64 float path; CondHS/CondLO/CondHI/CondLS already existed
// in this package's Cond enum, unused until this lowering needed them).
func fpCondToARM64(c uop.Cond) arm64.Cond {
	switch c {
	case uop.CondEq:
		return arm64.CondEQ
	case uop.CondNe:
		return arm64.CondNE
	case uop.CondLtS:
		return arm64.CondLO
	case uop.CondLeS:
		return arm64.CondLS
	case uop.CondGtS:
		return arm64.CondHI
	case uop.CondGeS:
		return arm64.CondHS
	default:
		panic("jit: unknown uop.Cond")
	}
}

// lowerFusedCompareBranch emits a single compare+B.cond for a
// CmpI64/CmpI64Imm immediately followed by a consuming BrIf/BrIfFalse (spec
// §4.5). CmpI64Imm's immediate form is always integer; the register form
// needs the polymorphic int/float tag dispatch, mirroring the unfused
// CmpI64 float path with FCMP and the unsigned condition mapping.
func (c *compilerARM64) lowerFusedCompareBranch(cmp, br uop.Op, i int) error {
	if cmp.Kind == uop.CmpI64Imm {
		c.loadInt(regT0, regFrameBase, cmp.A)
		c.a.MovImm64(regT1, uint64(cmp.ImmI))
		c.a.CmpRR(regT0, regT1)
		cond := condToARM64(cmp.Cond)
		if br.Kind == uop.BrIfFalse {
			cond = cond.Invert()
		}
		c.a.BCond(cond, pcLabel(br.Target))
		return nil
	}

	floatLabel := fmt.Sprintf("fusedcmp_float_%d", i)
	endLabel := fmt.Sprintf("fusedcmp_end_%d", i)

	tagDisp, _ := frameDisp(cmp.A)
	c.a.LoadMem(regT0, regFrameBase, uint32(tagDisp))
	c.a.MovImm64(regT1, uint64(value.TagFloat))
	c.a.CmpRR(regT0, regT1)
	c.a.BCond(arm64.CondEQ, floatLabel)

	c.loadInt(regT0, regFrameBase, cmp.A)
	c.loadInt(regT1, regFrameBase, cmp.B)
	c.a.CmpRR(regT0, regT1)
	cond := condToARM64(cmp.Cond)
	if br.Kind == uop.BrIfFalse {
		cond = cond.Invert()
	}
	c.a.BCond(cond, pcLabel(br.Target))
	c.a.B(endLabel)

	if err := c.a.DefineLabel(floatLabel); err != nil {
		return err
	}
	c.loadFloat(regF0, cmp.A)
	c.loadFloat(regF1, cmp.B)
	c.a.FCmp(regF0, regF1)
	fcond := fpCondToARM64(cmp.Cond)
	if br.Kind == uop.BrIfFalse {
		fcond = fcond.Invert()
	}
	c.a.BCond(fcond, pcLabel(br.Target))

	return c.a.DefineLabel(endLabel)
}

// polyDispatch emits the shared polymorphic-arithmetic scaffold (spec §4.6
// AddI64/SubI64/MulI64/DivI64/NegI64/CmpI64): load tag(a), branch to the
// float path on a match, otherwise run intPath and branch over the float
// path, converging at a shared end label. Labels are disambiguated by the
// µop's own index i, which body() guarantees is visited exactly once.
func (c *compilerARM64) polyDispatch(i, a int, intPath, floatPath func()) error {
	floatLabel := fmt.Sprintf("poly_float_%d", i)
	endLabel := fmt.Sprintf("poly_end_%d", i)

	tagDisp, _ := frameDisp(a)
	c.a.LoadMem(regT0, regFrameBase, uint32(tagDisp))
	c.a.MovImm64(regT1, uint64(value.TagFloat))
	c.a.CmpRR(regT0, regT1)
	c.a.BCond(arm64.CondEQ, floatLabel)

	intPath()
	c.a.B(endLabel)

	if err := c.a.DefineLabel(floatLabel); err != nil {
		return err
	}
	floatPath()

	return c.a.DefineLabel(endLabel)
}

func (c *compilerARM64) polyBinopALU(op uop.Op, i int) error {
	return c.polyDispatch(i, op.A, func() {
		c.loadInt(regT0, regFrameBase, op.A)
		c.loadInt(regT1, regFrameBase, op.B)
		switch op.Kind {
		case uop.AddI64:
			c.a.AddRR(regT0, regT0, regT1)
		case uop.SubI64:
			c.a.SubRR(regT0, regT0, regT1)
		case uop.MulI64:
			c.a.MulRR(regT0, regT0, regT1)
		}
		c.storeTagged(op.Dst, value.TagInt, regT0)
	}, func() {
		c.loadFloat(regF0, op.A)
		c.loadFloat(regF1, op.B)
		switch op.Kind {
		case uop.AddI64:
			c.a.AddSD(regF0, regF0, regF1)
		case uop.SubI64:
			c.a.SubSD(regF0, regF0, regF1)
		case uop.MulI64:
			c.a.MulSD(regF0, regF0, regF1)
		}
		c.storeFloat(op.Dst, regF0)
	})
}

func (c *compilerARM64) polyDivI64(op uop.Op, i int) error {
	return c.polyDispatch(i, op.A, func() {
		c.loadInt(regT0, regFrameBase, op.A)
		c.loadInt(regT1, regFrameBase, op.B)
		c.a.SdivRR(regT0, regT0, regT1)
		c.storeTagged(op.Dst, value.TagInt, regT0)
	}, func() {
		c.loadFloat(regF0, op.A)
		c.loadFloat(regF1, op.B)
		c.a.DivSD(regF0, regF0, regF1)
		c.storeFloat(op.Dst, regF0)
	})
}

func (c *compilerARM64) polyNegI64(op uop.Op, i int) error {
	return c.polyDispatch(i, op.A, func() {
		c.loadInt(regT0, regFrameBase, op.A)
		c.a.NegR(regT0, regT0)
		c.storeTagged(op.Dst, value.TagInt, regT0)
	}, func() {
		// Negating a float is a sign-bit flip on its raw bit pattern, done
		// directly on the GPR payload (AArch64 has a native FNEG, but the
		// amd64 lowering can't use an SSE equivalent, so both ISAs share
		// this GPR-XOR shape for consistency, spec §4.6).
		_, payloadDisp := frameDisp(op.A)
		c.a.LoadMem(regT0, regFrameBase, uint32(payloadDisp))
		c.a.MovImm64(regT1, 1<<63)
		c.a.EorRR(regT0, regT0, regT1)
		c.storeTagged(op.Dst, value.TagFloat, regT0)
	})
}

// polyCmp lowers CmpI64's register form: polymorphic int/float dispatch,
// converging on a TagInt-tagged 0/1 result in both paths (spec §4.6: Result
// is stored with tag=INT — Boolean semantics remain the VM's contract).
func (c *compilerARM64) polyCmp(op uop.Op, i int) error {
	return c.polyDispatch(i, op.A, func() {
		c.loadInt(regT0, regFrameBase, op.A)
		c.loadInt(regT1, regFrameBase, op.B)
		c.a.CmpRR(regT0, regT1)
		c.a.CSet(regT0, condToARM64(op.Cond))
		c.storeTagged(op.Dst, value.TagInt, regT0)
	}, func() {
		c.loadFloat(regF0, op.A)
		c.loadFloat(regF1, op.B)
		c.a.FCmp(regF0, regF1)
		c.a.CSet(regT0, fpCondToARM64(op.Cond))
		c.storeTagged(op.Dst, value.TagInt, regT0)
	})
}

// lowerStringConst lowers StringConst's cache fast-path/helper slow-path
// mechanism (spec §4.6): string_cache is a flat array of 16-byte entries
// {present_flag, heap_index} at JitCallContext offset OffStringCache; a
// present entry skips the helper call entirely.
func (c *compilerARM64) lowerStringConst(op uop.Op, i int) error {
	missLabel := fmt.Sprintf("strconst_miss_%d", i)
	endLabel := fmt.Sprintf("strconst_end_%d", i)

	c.a.LoadMem(regT0, regVMCtx, uint32(OffStringCache))
	c.a.MovImm64(regT1, uint64(op.Idx*16))
	c.a.AddRR(regT0, regT0, regT1)
	c.a.LoadMem(regT1, regT0, 0)
	c.a.Cbz(regT1, missLabel)

	// Fast path: cache hit, slot at regT0+8 holds the cached heap index.
	c.a.LoadMem(regT2, regT0, 8)
	c.storeTagged(op.Dst, value.TagPtr, regT2)
	c.a.B(endLabel)

	// Slow path: call push_string_helper(ctx, idx) -> (tag, payload). No
	// save/restore of VM_CTX/FRAME_BASE needed: X19/X20 are callee-saved
	// under AAPCS64.
	if err := c.a.DefineLabel(missLabel); err != nil {
		return err
	}
	c.a.LoadMem(arm64.RegX11, regVMCtx, uint32(OffPushStringHelper))
	c.a.MovReg(arm64.RegX0, regVMCtx)
	c.a.MovImm64(arm64.RegX1, uint64(op.Idx))
	c.a.Blr(arm64.RegX11)
	tagDisp, payloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, uint32(tagDisp), arm64.RegX0)
	c.a.StoreMem(regFrameBase, uint32(payloadDisp), arm64.RegX1)

	return c.a.DefineLabel(endLabel)
}

// lowerHeapLoad lowers a static-offset HeapLoad: addr = heap_base +
// (ref+1+2*offset)*8 (spec §4.6).
func (c *compilerARM64) lowerHeapLoad(op uop.Op) {
	c.loadInt(regT0, regFrameBase, op.Base)
	c.a.LoadMem(regT1, regVMCtx, uint32(OffHeapBase))
	c.a.MovImm64(regT2, uint64(1+2*op.Offset))
	c.a.AddRR(regT0, regT0, regT2)
	c.a.Lsl(regT0, regT0, 3)
	c.a.AddRR(regT1, regT1, regT0)
	c.a.LoadMem(regT2, regT1, 0)
	c.a.LoadMem(regT3, regT1, 8)
	tagDisp, payloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, uint32(tagDisp), regT2)
	c.a.StoreMem(regFrameBase, uint32(payloadDisp), regT3)
}

func (c *compilerARM64) lowerHeapStore(op uop.Op) {
	tagDisp, payloadDisp := frameDisp(op.Value)
	c.a.LoadMem(regT2, regFrameBase, uint32(tagDisp))
	c.a.LoadMem(regT3, regFrameBase, uint32(payloadDisp))
	c.loadInt(regT0, regFrameBase, op.Base)
	c.a.LoadMem(regT1, regVMCtx, uint32(OffHeapBase))
	c.a.MovImm64(regT4, uint64(1+2*op.Offset))
	c.a.AddRR(regT0, regT0, regT4)
	c.a.Lsl(regT0, regT0, 3)
	c.a.AddRR(regT1, regT1, regT0)
	c.a.StoreMem(regT1, 0, regT2)
	c.a.StoreMem(regT1, 8, regT3)
}

// lowerHeapLoadDyn lowers a dynamic-index HeapLoadDyn: the index vreg is
// scaled by 2 (each slot is two words) before the same addressing arithmetic
// lowerHeapLoad uses with a static offset.
func (c *compilerARM64) lowerHeapLoadDyn(op uop.Op) {
	_, idxPayloadDisp := frameDisp(op.Idx)
	c.a.LoadMem(regT2, regFrameBase, uint32(idxPayloadDisp))
	c.loadInt(regT0, regFrameBase, op.Base)
	c.a.LoadMem(regT1, regVMCtx, uint32(OffHeapBase))
	c.a.Lsl(regT2, regT2, 1)
	c.a.AddImm12(regT0, regT0, 1)
	c.a.AddRR(regT0, regT0, regT2)
	c.a.Lsl(regT0, regT0, 3)
	c.a.AddRR(regT1, regT1, regT0)
	c.a.LoadMem(regT2, regT1, 0)
	c.a.LoadMem(regT3, regT1, 8)
	tagDisp, payloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, uint32(tagDisp), regT2)
	c.a.StoreMem(regFrameBase, uint32(payloadDisp), regT3)
}

func (c *compilerARM64) lowerHeapStoreDyn(op uop.Op) {
	tagDisp, payloadDisp := frameDisp(op.Value)
	c.a.LoadMem(regT4, regFrameBase, uint32(tagDisp))
	c.a.LoadMem(regT5, regFrameBase, uint32(payloadDisp))
	_, idxPayloadDisp := frameDisp(op.Idx)
	c.a.LoadMem(regT2, regFrameBase, uint32(idxPayloadDisp))
	c.loadInt(regT0, regFrameBase, op.Base)
	c.a.LoadMem(regT1, regVMCtx, uint32(OffHeapBase))
	c.a.Lsl(regT2, regT2, 1)
	c.a.AddImm12(regT0, regT0, 1)
	c.a.AddRR(regT0, regT0, regT2)
	c.a.Lsl(regT0, regT0, 3)
	c.a.AddRR(regT1, regT1, regT0)
	c.a.StoreMem(regT1, 0, regT4)
	c.a.StoreMem(regT1, 8, regT5)
}

// lowerHeapLoad2 lowers the pointer-indirect HeapLoad2: dst =
// heap[heap[obj][0]][idx] — first dereference obj's slot 0 to get an inner
// ref, then index into that (spec §4.6).
func (c *compilerARM64) lowerHeapLoad2(op uop.Op) {
	_, idxPayloadDisp := frameDisp(op.Idx)
	c.a.LoadMem(regT2, regFrameBase, uint32(idxPayloadDisp))
	c.loadInt(regT0, regFrameBase, op.Base)
	c.a.LoadMem(regT1, regVMCtx, uint32(OffHeapBase))

	// Step 1: inner ref = heap[obj][0].payload.
	c.a.AddImm12(regT0, regT0, 1)
	c.a.Lsl(regT0, regT0, 3)
	c.a.AddRR(regT3, regT1, regT0)
	c.a.LoadMem(regT0, regT3, 8)

	// Step 2: load heap[inner][idx].
	c.a.Lsl(regT2, regT2, 1)
	c.a.AddImm12(regT0, regT0, 1)
	c.a.AddRR(regT0, regT0, regT2)
	c.a.Lsl(regT0, regT0, 3)
	c.a.AddRR(regT1, regT1, regT0)
	c.a.LoadMem(regT2, regT1, 0)
	c.a.LoadMem(regT3, regT1, 8)
	tagDisp, payloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, uint32(tagDisp), regT2)
	c.a.StoreMem(regFrameBase, uint32(payloadDisp), regT3)
}

func (c *compilerARM64) lowerHeapStore2(op uop.Op) {
	tagDisp, payloadDisp := frameDisp(op.Value)
	c.a.LoadMem(regT4, regFrameBase, uint32(tagDisp))
	c.a.LoadMem(regT5, regFrameBase, uint32(payloadDisp))
	_, idxPayloadDisp := frameDisp(op.Idx)
	c.a.LoadMem(regT2, regFrameBase, uint32(idxPayloadDisp))
	c.loadInt(regT0, regFrameBase, op.Base)
	c.a.LoadMem(regT1, regVMCtx, uint32(OffHeapBase))

	c.a.AddImm12(regT0, regT0, 1)
	c.a.Lsl(regT0, regT0, 3)
	c.a.AddRR(regT3, regT1, regT0)
	c.a.LoadMem(regT0, regT3, 8)

	c.a.Lsl(regT2, regT2, 1)
	c.a.AddImm12(regT0, regT0, 1)
	c.a.AddRR(regT0, regT0, regT2)
	c.a.Lsl(regT0, regT0, 3)
	c.a.AddRR(regT1, regT1, regT0)
	c.a.StoreMem(regT1, 0, regT4)
	c.a.StoreMem(regT1, 8, regT5)
}

// lowerHeapAllocDynSimple sets ABI args (context plus the size payload) and
// calls the helper at its VM_CTX offset, storing the returned pair. No
// save/restore of VM_CTX/FRAME_BASE is needed: X19/X20 are callee-saved
// under AAPCS64 (spec §4.6: "The JIT treats these as opaque trampolines").
func (c *compilerARM64) lowerHeapAllocDynSimple(op uop.Op) {
	c.a.LoadMem(arm64.RegX11, regVMCtx, uint32(OffHeapAllocDynSimpleHelp))
	c.loadInt(arm64.RegX1, regFrameBase, op.A)
	c.a.MovReg(arm64.RegX0, regVMCtx)
	c.a.Blr(arm64.RegX11)
	tagDisp, payloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, uint32(tagDisp), arm64.RegX0)
	c.a.StoreMem(regFrameBase, uint32(payloadDisp), arm64.RegX1)
}

func (c *compilerARM64) lowerHeapAllocString(op uop.Op) {
	c.a.LoadMem(arm64.RegX11, regVMCtx, uint32(OffHeapAllocStringHelper))
	c.loadInt(arm64.RegX1, regFrameBase, op.A)
	c.loadInt(arm64.RegX2, regFrameBase, op.B)
	c.a.MovReg(arm64.RegX0, regVMCtx)
	c.a.Blr(arm64.RegX11)
	tagDisp, payloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, uint32(tagDisp), arm64.RegX0)
	c.a.StoreMem(regFrameBase, uint32(payloadDisp), arm64.RegX1)
}

func (c *compilerARM64) lowerToString(op uop.Op) {
	c.a.LoadMem(arm64.RegX11, regVMCtx, uint32(OffToStringHelper))
	tagDisp, payloadDisp := frameDisp(op.A)
	c.a.LoadMem(arm64.RegX1, regFrameBase, uint32(tagDisp))
	c.a.LoadMem(arm64.RegX2, regFrameBase, uint32(payloadDisp))
	c.a.MovReg(arm64.RegX0, regVMCtx)
	c.a.Blr(arm64.RegX11)
	dstTagDisp, dstPayloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, uint32(dstTagDisp), arm64.RegX0)
	c.a.StoreMem(regFrameBase, uint32(dstPayloadDisp), arm64.RegX1)
}

func (c *compilerARM64) lowerPrintDebug(op uop.Op) {
	c.a.LoadMem(arm64.RegX11, regVMCtx, uint32(OffPrintDebugHelper))
	tagDisp, payloadDisp := frameDisp(op.A)
	c.a.LoadMem(arm64.RegX1, regFrameBase, uint32(tagDisp))
	c.a.LoadMem(arm64.RegX2, regFrameBase, uint32(payloadDisp))
	c.a.MovReg(arm64.RegX0, regVMCtx)
	c.a.Blr(arm64.RegX11)
	dstTagDisp, dstPayloadDisp := frameDisp(op.Dst)
	c.a.StoreMem(regFrameBase, uint32(dstTagDisp), arm64.RegX0)
	c.a.StoreMem(regFrameBase, uint32(dstPayloadDisp), arm64.RegX1)
}

func (c *compilerARM64) lowerRefEq(op uop.Op) {
	c.loadInt(regT0, regFrameBase, op.A)
	c.loadInt(regT1, regFrameBase, op.B)
	c.a.CmpRR(regT0, regT1)
	c.a.CSet(regT0, arm64.CondEQ)
	c.storeTagged(op.Dst, value.TagInt, regT0)
}

func (c *compilerARM64) lowerRefIsNull(op uop.Op) {
	tagDisp, _ := frameDisp(op.A)
	c.a.LoadMem(regT0, regFrameBase, uint32(tagDisp))
	c.a.MovImm64(regT1, uint64(value.TagNil))
	c.a.CmpRR(regT0, regT1)
	c.a.CSet(regT0, arm64.CondEQ)
	c.storeTagged(op.Dst, value.TagInt, regT0)
}

func (c *compilerARM64) lowerOp(op uop.Op, i int) error {
	switch op.Kind {
	case uop.ConstI64:
		c.a.MovImm64(regT0, uint64(op.ImmI))
		c.storeTagged(op.Dst, value.TagInt, regT0)
	case uop.ConstF64:
		bits := value.Float(op.ImmF).Payload
		tagDisp, payloadDisp := frameDisp(op.Dst)
		c.a.MovImm64(regT1, uint64(value.TagFloat))
		c.a.StoreMem(regFrameBase, uint32(tagDisp), regT1)
		c.a.MovImm64(regT0, bits)
		c.a.StoreMem(regFrameBase, uint32(payloadDisp), regT0)
	case uop.RefNull:
		c.a.MovImm64(regT0, 0)
		c.storeTagged(op.Dst, value.TagNil, regT0)
	case uop.StringConst:
		return c.lowerStringConst(op, i)
	case uop.Mov, uop.StackPush, uop.StackPop:
		tagDisp, payloadDisp := frameDisp(op.Src)
		dstTagDisp, dstPayloadDisp := frameDisp(op.Dst)
		c.a.LoadMem(regT0, regFrameBase, uint32(tagDisp))
		c.a.LoadMem(regT1, regFrameBase, uint32(payloadDisp))
		c.a.StoreMem(regFrameBase, uint32(dstTagDisp), regT0)
		c.a.StoreMem(regFrameBase, uint32(dstPayloadDisp), regT1)
	case uop.AddI64, uop.SubI64, uop.MulI64:
		return c.polyBinopALU(op, i)
	case uop.DivI64:
		return c.polyDivI64(op, i)
	case uop.RemI64:
		// Integer-only (spec §4.6): no tag check, plain SDIV+MSUB remainder.
		c.loadInt(regT0, regFrameBase, op.A)
		c.loadInt(regT1, regFrameBase, op.B)
		c.a.SdivRR(regT2, regT0, regT1)
		c.a.MsubRR(regT0, regT2, regT1, regT0)
		c.storeTagged(op.Dst, value.TagInt, regT0)
	case uop.NegI64:
		return c.polyNegI64(op, i)
	case uop.AddI64Imm:
		c.loadInt(regT0, regFrameBase, op.A)
		if op.ImmI >= 0 && op.ImmI <= 0xFFF {
			c.a.AddImm12(regT0, regT0, uint16(op.ImmI))
		} else {
			c.a.MovImm64(regT1, uint64(op.ImmI))
			c.a.AddRR(regT0, regT0, regT1)
		}
		c.storeTagged(op.Dst, value.TagInt, regT0)
	case uop.AddF64, uop.SubF64, uop.MulF64, uop.DivF64:
		c.loadFloat(regF0, op.A)
		c.loadFloat(regF1, op.B)
		switch op.Kind {
		case uop.AddF64:
			c.a.AddSD(regF0, regF0, regF1)
		case uop.SubF64:
			c.a.SubSD(regF0, regF0, regF1)
		case uop.MulF64:
			c.a.MulSD(regF0, regF0, regF1)
		case uop.DivF64:
			c.a.DivSD(regF0, regF0, regF1)
		}
		c.storeFloat(op.Dst, regF0)
	case uop.CmpI64:
		return c.polyCmp(op, i)
	case uop.CmpI64Imm:
		// Immediate form is always integer (spec §4.6).
		c.loadInt(regT0, regFrameBase, op.A)
		c.a.MovImm64(regT1, uint64(op.ImmI))
		c.a.CmpRR(regT0, regT1)
		c.a.CSet(regT0, condToARM64(op.Cond))
		c.storeTagged(op.Dst, value.TagInt, regT0)
	case uop.Jmp:
		c.a.B(pcLabel(op.Target))
	case uop.BrIf:
		_, payloadDisp := frameDisp(op.Src)
		c.a.LoadMem(regT0, regFrameBase, uint32(payloadDisp))
		c.a.Cbnz(regT0, pcLabel(op.Target))
	case uop.BrIfFalse:
		_, payloadDisp := frameDisp(op.Src)
		c.a.LoadMem(regT0, regFrameBase, uint32(payloadDisp))
		c.a.Cbz(regT0, pcLabel(op.Target))
	case uop.Call:
		c.lowerCall(op)
	case uop.CallIndirect:
		c.lowerCallIndirect(op)
	case uop.Ret:
		tagDisp, payloadDisp := frameDisp(op.Src)
		c.a.LoadMem(arm64.RegX0, regFrameBase, uint32(tagDisp))
		c.a.LoadMem(arm64.RegX1, regFrameBase, uint32(payloadDisp))
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

// lowerCall mirrors the amd64 compiler's Call lowering: a self-recursive
// call takes a direct BL to this function's own entry over a freshly
// reserved VM frame; any other call marshals its arguments into a scratch
// buffer and goes through JitCallContext.CallHelper via BLR (spec §4.6,
// §4.8).
func (c *compilerARM64) lowerCall(op uop.Op) {
	if op.FuncID == c.funcID {
		c.lowerSelfRecursiveCall(op)
		return
	}
	argc := len(op.Args)
	c.reserveStack(argc)
	for i, vreg := range op.Args {
		tagDisp, payloadDisp := frameDisp(vreg)
		c.a.LoadMem(regT4, regFrameBase, uint32(tagDisp))
		c.a.LoadMem(regT5, regFrameBase, uint32(payloadDisp))
		c.a.StoreMem(arm64.RegSP, uint32(i*value.SlotSize), regT4)
		c.a.StoreMem(arm64.RegSP, uint32(i*value.SlotSize+8), regT5)
	}
	// X11 carries the helper pointer: it sits outside X0-X3, the AAPCS64
	// argument registers about to be loaded with (ctx, func_id, argc, ptr).
	c.a.LoadMem(arm64.RegX11, regVMCtx, uint32(OffCallHelper))
	c.a.MovReg(arm64.RegX0, regVMCtx)
	c.a.MovImm64(arm64.RegX1, uint64(op.FuncID))
	c.a.MovImm64(arm64.RegX2, uint64(argc))
	if argc > 0 {
		// MovReg can't name SP (register field 31 means XZR in the ORR
		// encoding it aliases); ADD Xd, SP, #0 is the form that actually
		// accepts SP as a source.
		c.a.AddImm12(arm64.RegX3, arm64.RegSP, 0)
	} else {
		c.a.MovImm64(arm64.RegX3, 0)
	}
	c.a.Blr(arm64.RegX11)
	c.releaseStack(argc)
	if op.HasRet {
		tagDisp, payloadDisp := frameDisp(op.Dst)
		c.a.StoreMem(regFrameBase, uint32(tagDisp), arm64.RegX0)
		c.a.StoreMem(regFrameBase, uint32(payloadDisp), arm64.RegX1)
	}
}

func (c *compilerARM64) lowerSelfRecursiveCall(op uop.Op) {
	frameUnits := c.fn.TotalRegs()
	c.reserveStack(frameUnits)
	for i, vreg := range op.Args {
		tagDisp, payloadDisp := frameDisp(vreg)
		c.a.LoadMem(regT4, regFrameBase, uint32(tagDisp))
		c.a.LoadMem(regT5, regFrameBase, uint32(payloadDisp))
		c.a.StoreMem(arm64.RegSP, uint32(i*value.SlotSize), regT4)
		c.a.StoreMem(arm64.RegSP, uint32(i*value.SlotSize+8), regT5)
	}
	c.a.MovReg(arm64.RegX0, regVMCtx)
	c.a.AddImm12(arm64.RegX1, arm64.RegSP, 0)
	c.a.BL("entry")
	c.releaseStack(frameUnits)
	if op.HasRet {
		tagDisp, payloadDisp := frameDisp(op.Dst)
		c.a.StoreMem(regFrameBase, uint32(tagDisp), arm64.RegX0)
		c.a.StoreMem(regFrameBase, uint32(payloadDisp), arm64.RegX1)
	}
}

// lowerCallIndirect lowers a CallIndirect µop (spec §4.6): op.Callee's VReg
// holds a heap ref, not a resolved function id directly. Load
// callee.payload (a heap index); compute address = heap_base + (index+1)*8
// (skipping the object header word); read the payload of slot 0 as the
// callee function id; then dispatch exactly like a generic Call, with the
// resolved id in place of a compile-time FuncID immediate.
func (c *compilerARM64) lowerCallIndirect(op uop.Op) {
	argc := len(op.Args)
	c.reserveStack(argc)
	for i, vreg := range op.Args {
		tagDisp, payloadDisp := frameDisp(vreg)
		c.a.LoadMem(regT4, regFrameBase, uint32(tagDisp))
		c.a.LoadMem(regT5, regFrameBase, uint32(payloadDisp))
		c.a.StoreMem(arm64.RegSP, uint32(i*value.SlotSize), regT4)
		c.a.StoreMem(arm64.RegSP, uint32(i*value.SlotSize+8), regT5)
	}

	// Resolve the callee's function id via the heap: addr = heap_base +
	// (ref+1)*8 is slot 0's tag word; its payload (at addr+8) is the id.
	c.loadInt(arm64.RegX1, regFrameBase, op.Callee)
	c.a.LoadMem(regT2, regVMCtx, uint32(OffHeapBase))
	c.a.AddImm12(arm64.RegX1, arm64.RegX1, 1)
	c.a.Lsl(arm64.RegX1, arm64.RegX1, 3)
	c.a.AddRR(regT2, regT2, arm64.RegX1)
	c.a.LoadMem(arm64.RegX1, regT2, 8)

	c.a.LoadMem(arm64.RegX11, regVMCtx, uint32(OffCallHelper))
	c.a.MovReg(arm64.RegX0, regVMCtx)
	c.a.MovImm64(arm64.RegX2, uint64(argc))
	if argc > 0 {
		c.a.AddImm12(arm64.RegX3, arm64.RegSP, 0)
	} else {
		c.a.MovImm64(arm64.RegX3, 0)
	}
	c.a.Blr(arm64.RegX11)
	c.releaseStack(argc)
	if op.HasRet {
		tagDisp, payloadDisp := frameDisp(op.Dst)
		c.a.StoreMem(regFrameBase, uint32(tagDisp), arm64.RegX0)
		c.a.StoreMem(regFrameBase, uint32(payloadDisp), arm64.RegX1)
	}
}
