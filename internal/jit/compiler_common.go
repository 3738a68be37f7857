package jit

import (
	"fmt"

	"github.com/svmjit/svmjit/internal/jiterrors"
	"github.com/svmjit/svmjit/internal/uop"
	"github.com/svmjit/svmjit/internal/value"
)

// CompiledCode is the µop compiler's output: machine code ready to be
// copied into a platform.Region, plus the metadata the runtime needs to
// install and later invoke it (spec §3 CompiledCode).
type CompiledCode struct {
	Code        []byte
	EntryOffset int
	TotalRegs   int
	// StackMap maps µop-PC to a bitmap of frame slots holding references.
	// Currently populated empty (spec §3: "currently populated empty") —
	// the JIT does not yet participate in precise GC root-scanning.
	StackMap map[int]uint64
}

// pcLabel names the code-buffer label standing for µop-PC pc, shared by
// both ISA compilers so branch targets line up with DefineLabel calls made
// while walking the op list.
func pcLabel(pc int) string { return fmt.Sprintf("pc_%d", pc) }

// branchTargets returns the set of every µop-PC any Jmp/BrIf/BrIfFalse in
// ops targets, used to suppress peephole fusion when something branches
// directly to the branch µop's own PC (spec §4.5). Labels are placed for
// every µop-PC regardless of this set.
func branchTargets(ops []uop.Op) map[int]bool {
	targets := make(map[int]bool)
	for _, op := range ops {
		switch op.Kind {
		case uop.Jmp, uop.BrIf, uop.BrIfFalse:
			targets[op.Target] = true
		}
	}
	return targets
}

// canFuse reports whether ops[i] (a CmpI64/CmpI64Imm) and ops[i+1] (a
// BrIf/BrIfFalse consuming its result) form a fusible compare-and-branch
// pair (spec §4.5): the branch's condition register must be exactly the
// compare's destination, and nothing may branch to the branch µop's own PC.
func canFuse(ops []uop.Op, i int, targets map[int]bool) bool {
	if i+1 >= len(ops) {
		return false
	}
	cmp, br := ops[i], ops[i+1]
	if cmp.Kind != uop.CmpI64 && cmp.Kind != uop.CmpI64Imm {
		return false
	}
	if br.Kind != uop.BrIf && br.Kind != uop.BrIfFalse {
		return false
	}
	if br.Src != cmp.Dst {
		return false
	}
	return !targets[i+1]
}

func unsupported(op uop.Op) error {
	return jiterrors.New(jiterrors.CompileError, fmt.Sprintf("lower %s", op.Kind), jiterrors.ErrUnsupportedOp)
}

// frameDisp returns the byte displacement of vreg's tag field relative to
// FRAME_BASE, and of its payload field (disp+8), per the fixed frame-slot
// layout (spec §3, §6).
func frameDisp(vreg int) (tagDisp, payloadDisp int32) {
	off := value.SlotOffset(vreg)
	return int32(off), int32(off + 8)
}
