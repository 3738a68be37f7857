package uop

import (
	"fmt"

	"github.com/svmjit/svmjit/internal/bytecode"
)

// Convert lowers a bytecode function into register-based µops via the
// documented two-pass scheme: a size map establishing each bytecode PC's
// µop-PC, then an emission pass that rewrites control-transfer targets
// through it.
//
// Scratch VRegs live in the window [locals_count, locals_count+temps_count),
// sized temps_count = max(MaxCallArgc, 1) + 1. Bytecode value-producing ops
// (constants, arithmetic, comparisons) are assigned a scratch slot by a
// simple stack-depth counter cycling through that window; Call/Ret/BrIf/
// BrIfFalse gather their operand(s) from the current top of that tracked
// depth via an explicit StackPop µop into a fixed T-register, matching the
// documented expansions exactly. A standalone Call additionally emits the
// documented StackPush of its return-value temp back onto the tracked
// depth.
func Convert(fn *bytecode.Function) (*ConvertedFunction, error) {
	tempsCount := fn.MaxCallArgc()
	if tempsCount < 1 {
		tempsCount = 1
	}
	tempsCount++

	pcMap, err := buildPCMap(fn, tempsCount)
	if err != nil {
		return nil, err
	}

	c := &converter{
		fn:          fn,
		pcMap:       pcMap,
		localsCount: fn.LocalsCount,
		tempsCount:  tempsCount,
	}
	for bcPC, op := range fn.Ops {
		c.emit(bcPC, op)
	}

	return &ConvertedFunction{
		Ops:         c.out,
		LocalsCount: fn.LocalsCount,
		TempsCount:  tempsCount,
	}, nil
}

// expansionSize reports how many µops bytecode op `op` expands to, used to
// build pcMap in pass 1. Must stay in exact lockstep with converter.emit.
func expansionSize(op bytecode.Op) int {
	switch op.Kind {
	case bytecode.OpI64Const, bytecode.OpF64Const, bytecode.OpRefNull, bytecode.OpStringConst, bytecode.OpLocalGet:
		return 1
	case bytecode.OpAddI64, bytecode.OpSubI64, bytecode.OpMulI64, bytecode.OpDivI64, bytecode.OpAddF64:
		return 3 // StackPop(b); StackPop(a); <op>
	case bytecode.OpLtS, bytecode.OpLeS, bytecode.OpGtS, bytecode.OpGeS, bytecode.OpEq, bytecode.OpNe:
		return 3 // StackPop(b); StackPop(a); CmpI64
	case bytecode.OpJmp:
		return 1
	case bytecode.OpBrIf, bytecode.OpBrIfFalse:
		return 2 // StackPop; Br*
	case bytecode.OpCall:
		return op.Argc + 2 // n×StackPop + Call + StackPush
	case bytecode.OpCallIndirect:
		return op.Argc + 3 // n×StackPop(args) + StackPop(callee) + CallIndirect + StackPush
	case bytecode.OpMakeClosure:
		return 4 // ConstI64(size) + HeapAllocDynSimple + ConstI64(funcID) + HeapStore
	case bytecode.OpRet:
		return 2 // StackPop; Ret
	case bytecode.OpTryBegin:
		return 1
	default:
		return 1 // Raw{op}
	}
}

func buildPCMap(fn *bytecode.Function, tempsCount int) ([]int, error) {
	_ = tempsCount
	pcMap := make([]int, len(fn.Ops)+1)
	uopPC := 0
	for i, op := range fn.Ops {
		pcMap[i] = uopPC
		uopPC += expansionSize(op)
	}
	pcMap[len(fn.Ops)] = uopPC // sentinel: one-past-the-end label
	return pcMap, nil
}

type converter struct {
	fn          *bytecode.Function
	pcMap       []int
	localsCount int
	tempsCount  int
	depth       int // tracked symbolic eval-stack depth, cycled through the scratch window
	out         []Op
}

// tempSlot returns the scratch VReg for tracked depth d (0 = first pushed).
func (c *converter) tempSlot(d int) int {
	return c.localsCount + d%c.tempsCount
}

func (c *converter) push() int {
	slot := c.tempSlot(c.depth)
	c.depth++
	return slot
}

func (c *converter) pop() int {
	c.depth--
	return c.tempSlot(c.depth)
}

func (c *converter) emitOp(o Op) { c.out = append(c.out, o) }

func condFromBytecode(k bytecode.OpKind) Cond {
	switch k {
	case bytecode.OpLtS:
		return CondLtS
	case bytecode.OpLeS:
		return CondLeS
	case bytecode.OpGtS:
		return CondGtS
	case bytecode.OpGeS:
		return CondGeS
	case bytecode.OpEq:
		return CondEq
	case bytecode.OpNe:
		return CondNe
	default:
		panic(fmt.Sprintf("uop: %v is not a comparison", k))
	}
}

func (c *converter) emit(bcPC int, op bytecode.Op) {
	switch op.Kind {
	case bytecode.OpI64Const:
		dst := c.push()
		c.emitOp(Op{Kind: ConstI64, Dst: dst, ImmI: op.IntImm})

	case bytecode.OpF64Const:
		dst := c.push()
		c.emitOp(Op{Kind: ConstF64, Dst: dst, ImmF: op.FltImm})

	case bytecode.OpRefNull:
		dst := c.push()
		c.emitOp(Op{Kind: RefNull, Dst: dst})

	case bytecode.OpStringConst:
		dst := c.push()
		c.emitOp(Op{Kind: StringConst, Dst: dst, Idx: op.StrIdx})

	case bytecode.OpLocalGet:
		dst := c.push()
		c.emitOp(Op{Kind: Mov, Dst: dst, Src: op.LocalIdx})

	case bytecode.OpAddI64, bytecode.OpSubI64, bytecode.OpMulI64, bytecode.OpDivI64:
		b := c.pop()
		a := c.pop()
		t0 := c.tempSlot(0)
		t1 := c.tempSlot(1)
		c.emitOp(Op{Kind: StackPop, Dst: t0, Src: b})
		c.emitOp(Op{Kind: StackPop, Dst: t1, Src: a})
		dst := c.push()
		c.emitOp(Op{Kind: arithKindFor(op.Kind), Dst: dst, A: t1, B: t0})

	case bytecode.OpAddF64:
		b := c.pop()
		a := c.pop()
		t0 := c.tempSlot(0)
		t1 := c.tempSlot(1)
		c.emitOp(Op{Kind: StackPop, Dst: t0, Src: b})
		c.emitOp(Op{Kind: StackPop, Dst: t1, Src: a})
		dst := c.push()
		c.emitOp(Op{Kind: AddF64, Dst: dst, A: t1, B: t0})

	case bytecode.OpLtS, bytecode.OpLeS, bytecode.OpGtS, bytecode.OpGeS, bytecode.OpEq, bytecode.OpNe:
		b := c.pop()
		a := c.pop()
		t0 := c.tempSlot(0)
		t1 := c.tempSlot(1)
		c.emitOp(Op{Kind: StackPop, Dst: t0, Src: b})
		c.emitOp(Op{Kind: StackPop, Dst: t1, Src: a})
		dst := c.push()
		c.emitOp(Op{Kind: CmpI64, Dst: dst, A: t1, B: t0, Cond: condFromBytecode(op.Kind)})

	case bytecode.OpJmp:
		c.emitOp(Op{Kind: Jmp, Target: c.pcMap[op.Target]})

	case bytecode.OpBrIf:
		src := c.pop()
		t0 := c.tempSlot(0)
		c.emitOp(Op{Kind: StackPop, Dst: t0, Src: src})
		c.emitOp(Op{Kind: BrIf, Src: t0, Target: c.pcMap[op.Target]})

	case bytecode.OpBrIfFalse:
		src := c.pop()
		t0 := c.tempSlot(0)
		c.emitOp(Op{Kind: StackPop, Dst: t0, Src: src})
		c.emitOp(Op{Kind: BrIfFalse, Src: t0, Target: c.pcMap[op.Target]})

	case bytecode.OpCall:
		n := op.Argc
		srcs := make([]int, n)
		for i := n - 1; i >= 0; i-- {
			srcs[i] = c.pop()
		}
		args := make([]int, n)
		for i := 0; i < n; i++ {
			args[i] = c.localsCount + i
			c.emitOp(Op{Kind: StackPop, Dst: args[i], Src: srcs[i]})
		}
		ret := c.localsCount + n
		c.emitOp(Op{Kind: Call, FuncID: op.FuncID, Args: args, Dst: ret, HasRet: true})
		top := c.push()
		c.emitOp(Op{Kind: StackPush, Src: ret, Dst: top})

	case bytecode.OpCallIndirect:
		n := op.Argc
		calleeSrc := c.pop() // the callee function-id value sits on top of its args
		srcs := make([]int, n)
		for i := n - 1; i >= 0; i-- {
			srcs[i] = c.pop()
		}
		callee := c.localsCount + n
		c.emitOp(Op{Kind: StackPop, Dst: callee, Src: calleeSrc})
		args := make([]int, n)
		for i := 0; i < n; i++ {
			args[i] = c.localsCount + i
			c.emitOp(Op{Kind: StackPop, Dst: args[i], Src: srcs[i]})
		}
		c.emitOp(Op{Kind: CallIndirect, Callee: callee, Args: args, Dst: callee, HasRet: true})
		top := c.push()
		c.emitOp(Op{Kind: StackPush, Src: callee, Dst: top})

	case bytecode.OpMakeClosure:
		sizeSlot := c.tempSlot(0)
		c.emitOp(Op{Kind: ConstI64, Dst: sizeSlot, ImmI: 1})
		dst := c.push()
		c.emitOp(Op{Kind: HeapAllocDynSimple, Dst: dst, A: sizeSlot})
		valSlot := c.tempSlot(1)
		c.emitOp(Op{Kind: ConstI64, Dst: valSlot, ImmI: int64(op.FuncID)})
		c.emitOp(Op{Kind: HeapStore, Base: dst, Offset: 0, Value: valSlot})

	case bytecode.OpRet:
		src := c.pop()
		t0 := c.tempSlot(0)
		c.emitOp(Op{Kind: StackPop, Dst: t0, Src: src})
		c.emitOp(Op{Kind: Ret, Src: t0, HasRet: true})

	case bytecode.OpTryBegin:
		c.emitOp(Op{Kind: Raw, RawOp: fmt.Sprintf("TryBegin(%d)", c.pcMap[op.Target])})

	default:
		c.emitOp(Op{Kind: Raw, RawOp: op.Kind.String()})
	}
	_ = bcPC
}

func arithKindFor(k bytecode.OpKind) Kind {
	switch k {
	case bytecode.OpAddI64:
		return AddI64
	case bytecode.OpSubI64:
		return SubI64
	case bytecode.OpMulI64:
		return MulI64
	case bytecode.OpDivI64:
		return DivI64
	default:
		panic(fmt.Sprintf("uop: %v is not integer arithmetic", k))
	}
}
