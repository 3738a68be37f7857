package amd64

import (
	"fmt"

	"github.com/svmjit/svmjit/internal/asm"
)

// Assembler appends x86-64 machine code to an *asm.Buffer. Every method
// here corresponds to exactly one of the curated operations spec §4.2
// lists: integer ALU, bitwise ops, moves, base+offset load/store, compare,
// set-cc, branches, call/return, push/pop, and the SSE2 scalar-double
// subset. Branch targets are symbolic labels patched later via the
// embedded Buffer (spec §4.3); nothing here does its own patching.
//
// The compiler uses RSP (outgoing argument slots) and R12 (VM_CTX) as the
// base of Load/Store addressing operands. Their low register bits are 100,
// which in ModRM.rm means "SIB byte follows", so the base+disp encodings
// below emit the SIB byte 0x24 (no index) for those two bases.
type Assembler struct {
	*asm.Buffer
}

func NewAssembler() *Assembler {
	return &Assembler{Buffer: asm.NewBuffer()}
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | (rm & 7)
}

func rex(w, r, x, b bool) byte {
	var v byte = 0x40
	if w {
		v |= 1 << 3
	}
	if r {
		v |= 1 << 2
	}
	if x {
		v |= 1 << 1
	}
	if b {
		v |= 1
	}
	return v
}

// regRegREX builds the REX prefix for a two-register ModRM (reg, rm) pair,
// always setting W (64-bit operand size); callers needing 32-bit or no REX.W
// clear it after the call.
func regRegREX(reg, rm Register) byte {
	return rex(true, reg.isExtended(), false, rm.isExtended())
}

// --- moves -----------------------------------------------------------------

// MovImm64 materializes a 64-bit immediate with the 10-byte `MOV r64,
// imm64` form (spec §4.6 "Constants"), exactly the encoding tested in spec
// §8: `0x48 0xB8` followed by the little-endian imm64 bytes.
func (a *Assembler) MovImm64(dst Register, imm uint64) {
	a.EmitU8(rex(true, false, false, dst.isExtended()))
	a.EmitU8(0xB8 + dst.num())
	a.EmitU64(imm)
}

// MovRegReg emits `MOV dst, src` (GP registers, 64-bit).
func (a *Assembler) MovRegReg(dst, src Register) {
	if dst == src {
		return
	}
	a.EmitU8(regRegREX(src, dst))
	a.EmitU8(0x89)
	a.EmitU8(modrm(3, src.num(), dst.num()))
}

// LoadMem emits `MOV dst, [base+disp32]`.
func (a *Assembler) LoadMem(dst, base Register, disp int32) {
	a.EmitU8(regRegREX(dst, base))
	a.EmitU8(0x8B)
	a.EmitU8(modrm(2, dst.num(), base.num()))
	if base.num()&7 == 4 {
		a.EmitU8(0x24) // SIB: no index, base = RSP/R12
	}
	a.EmitU32(uint32(disp))
}

// StoreMem emits `MOV [base+disp32], src`.
func (a *Assembler) StoreMem(base Register, disp int32, src Register) {
	a.EmitU8(regRegREX(src, base))
	a.EmitU8(0x89)
	a.EmitU8(modrm(2, src.num(), base.num()))
	if base.num()&7 == 4 {
		a.EmitU8(0x24) // SIB: no index, base = RSP/R12
	}
	a.EmitU32(uint32(disp))
}

// LoadMemSD emits `MOVSD dst, [base+disp32]` (scalar double load).
func (a *Assembler) LoadMemSD(dst, base Register, disp int32) {
	a.EmitU8(0xF2)
	if dst.isExtended() || base.isExtended() {
		a.EmitU8(rex(false, dst.isExtended(), false, base.isExtended()))
	}
	a.EmitU8(0x0F)
	a.EmitU8(0x10)
	a.EmitU8(modrm(2, dst.num(), base.num()))
	if base.num()&7 == 4 {
		a.EmitU8(0x24) // SIB: no index, base = RSP/R12
	}
	a.EmitU32(uint32(disp))
}

// StoreMemSD emits `MOVSD [base+disp32], src`.
func (a *Assembler) StoreMemSD(base Register, disp int32, src Register) {
	a.EmitU8(0xF2)
	if src.isExtended() || base.isExtended() {
		a.EmitU8(rex(false, src.isExtended(), false, base.isExtended()))
	}
	a.EmitU8(0x0F)
	a.EmitU8(0x11)
	a.EmitU8(modrm(2, src.num(), base.num()))
	if base.num()&7 == 4 {
		a.EmitU8(0x24) // SIB: no index, base = RSP/R12
	}
	a.EmitU32(uint32(disp))
}

// --- integer ALU -------------------------------------------------------

func (a *Assembler) aluRR(opcode byte, dst, src Register) {
	a.EmitU8(regRegREX(src, dst))
	a.EmitU8(opcode)
	a.EmitU8(modrm(3, src.num(), dst.num()))
}

// AddRR emits `ADD dst, src`.
func (a *Assembler) AddRR(dst, src Register) { a.aluRR(0x01, dst, src) }

// SubRR emits `SUB dst, src`.
func (a *Assembler) SubRR(dst, src Register) { a.aluRR(0x29, dst, src) }

// AndRR, OrRR, XorRR emit the bitwise AND/OR/XOR forms.
func (a *Assembler) AndRR(dst, src Register) { a.aluRR(0x21, dst, src) }
func (a *Assembler) OrRR(dst, src Register)  { a.aluRR(0x09, dst, src) }
func (a *Assembler) XorRR(dst, src Register) { a.aluRR(0x31, dst, src) }

// MulRR emits the two-operand `IMUL dst, src` form (REX.W 0F AF /r); note
// the reg/rm roles are swapped relative to ADD/SUB because IMUL's opcode
// takes its destination in the ModRM.reg field.
func (a *Assembler) MulRR(dst, src Register) {
	a.EmitU8(regRegREX(dst, src))
	a.EmitU8(0x0F)
	a.EmitU8(0xAF)
	a.EmitU8(modrm(3, dst.num(), src.num()))
}

// NegR emits `NEG r` (two's-complement negate in place).
func (a *Assembler) NegR(r Register) {
	a.EmitU8(rex(true, false, false, r.isExtended()))
	a.EmitU8(0xF7)
	a.EmitU8(modrm(3, 3, r.num()))
}

// AddImm32 emits `ADD dst, imm32` (sign-extended), used when AddI64Imm's
// immediate doesn't fit the 12-bit AArch64 form but always fits here.
func (a *Assembler) AddImm32(dst Register, imm int32) {
	a.EmitU8(rex(true, false, false, dst.isExtended()))
	a.EmitU8(0x81)
	a.EmitU8(modrm(3, 0, dst.num()))
	a.EmitU32(uint32(imm))
}

// CmpImm32 emits `CMP r, imm32`.
func (a *Assembler) CmpImm32(r Register, imm int32) {
	a.EmitU8(rex(true, false, false, r.isExtended()))
	a.EmitU8(0x81)
	a.EmitU8(modrm(3, 7, r.num()))
	a.EmitU32(uint32(imm))
}

// CmpRR emits `CMP a, b` (computes a-b, sets flags, discards the result).
func (a *Assembler) CmpRR(x, y Register) { a.aluRR(0x39, x, y) }

// Cqo emits `CQO`: sign-extends RAX into RDX:RAX, required before IDIV.
func (a *Assembler) Cqo() {
	a.EmitU8(rex(true, false, false, false))
	a.EmitU8(0x99)
}

// IDiv emits `IDIV r` (RDX:RAX / r -> quotient RAX, remainder RDX).
func (a *Assembler) IDiv(r Register) {
	a.EmitU8(rex(true, false, false, r.isExtended()))
	a.EmitU8(0xF7)
	a.EmitU8(modrm(3, 7, r.num()))
}

// ShlImm emits `SHL r, imm8` (logical left shift), used to convert a heap
// word index into a byte offset when the index is a runtime value rather
// than a compile-time constant (spec §4.6 HeapLoadDyn/HeapStoreDyn).
func (a *Assembler) ShlImm(dst Register, imm uint8) {
	a.EmitU8(rex(true, false, false, dst.isExtended()))
	a.EmitU8(0xC1)
	a.EmitU8(modrm(3, 4, dst.num()))
	a.EmitU8(imm)
}

// --- scalar double-precision (SSE2) ------------------------------------

func (a *Assembler) sseRR(prefix byte, opcode byte, dst, src Register) {
	a.EmitU8(prefix)
	if dst.isExtended() || src.isExtended() {
		a.EmitU8(rex(false, dst.isExtended(), false, src.isExtended()))
	}
	a.EmitU8(0x0F)
	a.EmitU8(opcode)
	a.EmitU8(modrm(3, dst.num(), src.num()))
}

func (a *Assembler) AddSD(dst, src Register) { a.sseRR(0xF2, 0x58, dst, src) }
func (a *Assembler) SubSD(dst, src Register) { a.sseRR(0xF2, 0x5C, dst, src) }
func (a *Assembler) MulSD(dst, src Register) { a.sseRR(0xF2, 0x59, dst, src) }
func (a *Assembler) DivSD(dst, src Register) { a.sseRR(0xF2, 0x5E, dst, src) }

// ZeroSD clears dst to +0.0 via `PXOR dst, dst` (66 0F EF /r), the
// conventional way to materialize a float zero without a static constant
// pool. No lowering in internal/jit currently emits it.
func (a *Assembler) ZeroSD(dst Register) {
	a.EmitU8(0x66)
	if dst.isExtended() {
		a.EmitU8(rex(false, dst.isExtended(), false, dst.isExtended()))
	}
	a.EmitU8(0x0F)
	a.EmitU8(0xEF)
	a.EmitU8(modrm(3, dst.num(), dst.num()))
}

// UcomiSD emits `UCOMISD a, b` (unordered compare, sets ZF/PF/CF the same
// way an unsigned integer compare would; spec §4.6 float CmpI64 path).
func (a *Assembler) UcomiSD(x, y Register) { a.sseRR(0x66, 0x2E, x, y) }

// CvtSI2SD emits `CVTSI2SD dst(xmm), src(gpr)`.
func (a *Assembler) CvtSI2SD(dst, src Register) {
	a.EmitU8(0xF2)
	a.EmitU8(rex(true, dst.isExtended(), false, src.isExtended()))
	a.EmitU8(0x0F)
	a.EmitU8(0x2A)
	a.EmitU8(modrm(3, dst.num(), src.num()))
}

// CvtTSD2SI emits `CVTTSD2SI dst(gpr), src(xmm)` (truncating).
func (a *Assembler) CvtTSD2SI(dst, src Register) {
	a.EmitU8(0xF2)
	a.EmitU8(rex(true, dst.isExtended(), false, src.isExtended()))
	a.EmitU8(0x0F)
	a.EmitU8(0x2C)
	a.EmitU8(modrm(3, dst.num(), src.num()))
}

// --- set-cc --------------------------------------------------------------

// SetCC emits `SETcc r8` followed by `MOVZX r64, r8` so dst ends up holding
// a clean 0/1 in its full 64 bits (spec §4.6 CmpI64 integer path).
func (a *Assembler) SetCC(cond Cond, dst Register) {
	a.EmitU8(0x0F)
	a.EmitU8(0x90 | cond.jccTttn())
	a.EmitU8(modrm(3, 0, dst.num()))
	// MOVZX r64, r8: REX.W 0F B6 /r
	a.EmitU8(rex(true, dst.isExtended(), false, dst.isExtended()))
	a.EmitU8(0x0F)
	a.EmitU8(0xB6)
	a.EmitU8(modrm(3, dst.num(), dst.num()))
}

// --- control flow ----------------------------------------------------------

// Jmp emits `JMP rel32` with a forward reference to label.
func (a *Assembler) Jmp(label string) {
	a.EmitU8(0xE9)
	a.EmitForwardRef(label, asm.PatchRel32)
}

// Jcc emits `Jcc rel32` with a forward reference to label.
func (a *Assembler) Jcc(cond Cond, label string) {
	a.EmitU8(0x0F)
	a.EmitU8(0x80 | cond.jccTttn())
	a.EmitForwardRef(label, asm.PatchRel32)
}

// CallReg emits `CALL r` (indirect call through a register holding a
// helper or function entry address, spec §4.6 Call lowering).
func (a *Assembler) CallReg(r Register) {
	if r.isExtended() {
		a.EmitU8(rex(false, false, false, true))
	}
	a.EmitU8(0xFF)
	a.EmitU8(modrm(3, 2, r.num()))
}

// CallRel32 emits a direct relative `CALL rel32` to label, used by the
// self-recursion fast path (spec §4.6) targeting the function's own entry.
func (a *Assembler) CallRel32(label string) {
	a.EmitU8(0xE8)
	a.EmitForwardRef(label, asm.PatchRel32)
}

// Ret emits `RET`.
func (a *Assembler) Ret() { a.EmitU8(0xC3) }

// PushR, PopR emit `PUSH r`/`POP r` (one opcode byte plus optional REX.B).
func (a *Assembler) PushR(r Register) {
	if r.isExtended() {
		a.EmitU8(rex(false, false, false, true))
	}
	a.EmitU8(0x50 + r.num())
}

func (a *Assembler) PopR(r Register) {
	if r.isExtended() {
		a.EmitU8(rex(false, false, false, true))
	}
	a.EmitU8(0x58 + r.num())
}

// String aids debugging/disassembly sanity checks.
func (r Register) String() string {
	names := map[Register]string{
		RegAX: "AX", RegCX: "CX", RegDX: "DX", RegBX: "BX",
		RegSP: "SP", RegBP: "BP", RegSI: "SI", RegDI: "DI",
		RegR8: "R8", RegR9: "R9", RegR10: "R10", RegR11: "R11",
		RegR12: "R12", RegR13: "R13", RegR14: "R14", RegR15: "R15",
		RegX0: "X0", RegX1: "X1", RegX2: "X2", RegX3: "X3",
		RegX4: "X4", RegX5: "X5", RegX6: "X6", RegX7: "X7",
	}
	if n, ok := names[r]; ok {
		return n
	}
	return fmt.Sprintf("Register(%d)", byte(r))
}
