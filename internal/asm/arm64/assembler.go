package arm64

import (
	"fmt"

	"github.com/svmjit/svmjit/internal/asm"
)

// Assembler appends AArch64 machine code to an *asm.Buffer, one 32-bit
// little-endian word per instruction (every AArch64 instruction is exactly
// 4 bytes). Spec §8 pins two exact encodings this package must produce:
// `ADD X0, X1, X2` -> 0x8B020020 and `RET` -> 0xD65F03C0 (both given as
// little-endian byte sequences).
type Assembler struct {
	*asm.Buffer
}

func NewAssembler() *Assembler {
	return &Assembler{Buffer: asm.NewBuffer()}
}

func (a *Assembler) word(w uint32) { a.EmitU32(w) }

// --- register moves & constants -----------------------------------------

// MovReg emits `MOV Xd, Xm` (alias for `ORR Xd, XZR, Xm`).
func (a *Assembler) MovReg(dst, src Register) {
	if dst == src {
		return
	}
	a.word(0xAA0003E0 | src.num()<<16 | dst.num())
}

// MovzImm16 emits `MOVZ Xd, imm16, LSL #shift` (shift ∈ {0,16,32,48}).
func (a *Assembler) MovzImm16(dst Register, imm16 uint16, shift uint8) {
	hw := uint32(shift / 16)
	a.word(0xD2800000 | hw<<21 | uint32(imm16)<<5 | dst.num())
}

// MovkImm16 emits `MOVK Xd, imm16, LSL #shift`, keeping the other halves.
func (a *Assembler) MovkImm16(dst Register, imm16 uint16, shift uint8) {
	hw := uint32(shift / 16)
	a.word(0xF2800000 | hw<<21 | uint32(imm16)<<5 | dst.num())
}

// MovImm64 materializes an arbitrary 64-bit immediate with up to four
// 16-bit move-keeps (spec §4.6 Constants: "MOVZ+MOVK×3 as needed"),
// skipping MOVK instructions for halves that are already zero after the
// initial MOVZ.
func (a *Assembler) MovImm64(dst Register, imm uint64) {
	first := true
	for shift := uint8(0); shift < 64; shift += 16 {
		half := uint16(imm >> shift)
		if half == 0 && !(first && imm == 0) && shift != 0 {
			continue
		}
		if first {
			a.MovzImm16(dst, half, shift)
			first = false
		} else {
			a.MovkImm16(dst, half, shift)
		}
	}
	if first {
		// imm == 0: MOVZ alone handles it (loop's shift==0 case always runs).
	}
}

// --- memory ---------------------------------------------------------------

// LoadMem emits `LDR Xd, [Xn, #imm]` (unsigned offset form, imm must be a
// non-negative multiple of 8 within [0, 32760]).
func (a *Assembler) LoadMem(dst, base Register, imm uint32) {
	a.word(0xF9400000 | (imm/8)<<10 | base.num()<<5 | dst.num())
}

// StoreMem emits `STR Xd, [Xn, #imm]`.
func (a *Assembler) StoreMem(base Register, imm uint32, src Register) {
	a.word(0xF9000000 | (imm/8)<<10 | base.num()<<5 | src.num())
}

// LoadMemD emits `LDR Dd, [Xn, #imm]` (scalar double load).
func (a *Assembler) LoadMemD(dst, base Register, imm uint32) {
	a.word(0xFD400000 | (imm/8)<<10 | base.num()<<5 | dst.num())
}

// StoreMemD emits `STR Dd, [Xn, #imm]`.
func (a *Assembler) StoreMemD(base Register, imm uint32, src Register) {
	a.word(0xFD000000 | (imm/8)<<10 | base.num()<<5 | src.num())
}

// --- integer ALU -------------------------------------------------------

// AddRR emits `ADD Xd, Xn, Xm`.
func (a *Assembler) AddRR(dst, a1, a2 Register) {
	a.word(0x8B000000 | a2.num()<<16 | a1.num()<<5 | dst.num())
}

// SubRR emits `SUB Xd, Xn, Xm`.
func (a *Assembler) SubRR(dst, a1, a2 Register) {
	a.word(0xCB000000 | a2.num()<<16 | a1.num()<<5 | dst.num())
}

// AndRR, OrrRR, EorRR emit the bitwise AND/ORR/EOR forms.
func (a *Assembler) AndRR(dst, a1, a2 Register) {
	a.word(0x8A000000 | a2.num()<<16 | a1.num()<<5 | dst.num())
}

func (a *Assembler) OrrRR(dst, a1, a2 Register) {
	a.word(0xAA000000 | a2.num()<<16 | a1.num()<<5 | dst.num())
}

func (a *Assembler) EorRR(dst, a1, a2 Register) {
	a.word(0xCA000000 | a2.num()<<16 | a1.num()<<5 | dst.num())
}

// MulRR emits `MUL Xd, Xn, Xm` (alias for `MADD Xd, Xn, Xm, XZR`).
func (a *Assembler) MulRR(dst, a1, a2 Register) {
	a.word(0x9B007C00 | a2.num()<<16 | a1.num()<<5 | dst.num())
}

// MsubRR emits `MSUB Xd, Xn, Xm, Xa` (Xd = Xa - Xn*Xm), used directly by
// the integer remainder lowering.
func (a *Assembler) MsubRR(dst, n, m, acc Register) {
	a.word(0x9B008000 | m.num()<<16 | acc.num()<<10 | n.num()<<5 | dst.num())
}

// SdivRR emits `SDIV Xd, Xn, Xm`.
func (a *Assembler) SdivRR(dst, a1, a2 Register) {
	a.word(0x9AC00C00 | a2.num()<<16 | a1.num()<<5 | dst.num())
}

// NegR emits `NEG Xd, Xn` (alias for `SUB Xd, XZR, Xn`).
func (a *Assembler) NegR(dst, src Register) {
	a.SubRR(dst, RegZR, src)
}

// AddImm12 emits `ADD Xd, Xn, #imm` for a 12-bit unsigned immediate (spec
// §4.6 AddI64Imm fast path).
func (a *Assembler) AddImm12(dst, src Register, imm uint16) {
	a.word(0x91000000 | uint32(imm&0xFFF)<<10 | src.num()<<5 | dst.num())
}

// Lsl emits `LSL Xd, Xn, #shift` (alias for `UBFM Xd, Xn, #(-shift MOD 64),
// #(63-shift)`), used to convert a heap word index into a byte offset when
// the index is a runtime value rather than a compile-time constant (spec
// §4.6 HeapLoadDyn/HeapStoreDyn).
func (a *Assembler) Lsl(dst, src Register, shift uint8) {
	immr := uint32((64 - uint16(shift)) % 64)
	imms := uint32(63 - shift)
	a.word(0xD3400000 | immr<<16 | imms<<10 | src.num()<<5 | dst.num())
}

// CmpRR emits `CMP Xn, Xm` (alias for `SUBS XZR, Xn, Xm`).
func (a *Assembler) CmpRR(a1, a2 Register) {
	a.word(0xEB000000 | a2.num()<<16 | a1.num()<<5 | RegZR.num())
}

// --- conditional result material ------------------------------------------

// CSet emits `CSET Xd, cond` (alias for `CSINC Xd, XZR, XZR, invert(cond)`),
// writing 1 if cond holds, 0 otherwise — the AArch64 analogue of x86's
// SETcc+MOVZX (spec §4.6 CmpI64 integer path).
func (a *Assembler) CSet(dst Register, cond Cond) {
	inv := cond.Invert()
	a.word(0x9A800400 | RegZR.num()<<16 | uint32(inv)<<12 | RegZR.num()<<5 | dst.num())
}

// --- scalar double-precision --------------------------------------------

func (a *Assembler) AddSD(dst, a1, a2 Register) {
	a.word(0x1E602800 | a2.num()<<16 | a1.num()<<5 | dst.num())
}

func (a *Assembler) SubSD(dst, a1, a2 Register) {
	a.word(0x1E603800 | a2.num()<<16 | a1.num()<<5 | dst.num())
}

func (a *Assembler) MulSD(dst, a1, a2 Register) {
	a.word(0x1E600800 | a2.num()<<16 | a1.num()<<5 | dst.num())
}

func (a *Assembler) DivSD(dst, a1, a2 Register) {
	a.word(0x1E601800 | a2.num()<<16 | a1.num()<<5 | dst.num())
}

// NegSD emits `FNEG Dd, Dn` (AArch64 has a native negate, unlike x86's
// sign-bit xor trick).
func (a *Assembler) NegSD(dst, src Register) {
	a.word(0x1E614000 | src.num()<<5 | dst.num())
}

// FCmp emits `FCMP Dn, Dm` (ordered compare, spec §4.6 float CmpI64 path).
func (a *Assembler) FCmp(a1, a2 Register) {
	a.word(0x1E602000 | a2.num()<<16 | a1.num()<<5)
}

// Scvtf emits `SCVTF Dd, Xn` (signed 64-bit int to double).
func (a *Assembler) Scvtf(dst, src Register) {
	a.word(0x9E620000 | src.num()<<5 | dst.num())
}

// Fcvtzs emits `FCVTZS Xd, Dn` (double to signed 64-bit int, truncating).
func (a *Assembler) Fcvtzs(dst, src Register) {
	a.word(0x9E780000 | src.num()<<5 | dst.num())
}

// --- control flow ----------------------------------------------------------

// B emits an unconditional branch with a forward reference (26-bit field,
// spec §3/§4.3 PatchARM64Branch26).
func (a *Assembler) B(label string) {
	a.EmitForwardRefWord(0x14000000, label, asm.PatchARM64Branch26)
}

// BL emits a relative branch-with-link to label, used by the self-recursion
// fast path (spec §4.6) targeting the function's own entry.
func (a *Assembler) BL(label string) {
	a.EmitForwardRefWord(0x94000000, label, asm.PatchARM64Branch26)
}

// BCond emits `B.cond` with a forward reference (19-bit field).
func (a *Assembler) BCond(cond Cond, label string) {
	a.EmitForwardRefWord(0x54000000|uint32(cond), label, asm.PatchARM64CondBranch19)
}

// Cbnz/Cbz emit compare-and-branch on a 64-bit register (19-bit field).
func (a *Assembler) Cbnz(r Register, label string) {
	a.EmitForwardRefWord(0xB5000000|r.num(), label, asm.PatchARM64CondBranch19)
}

func (a *Assembler) Cbz(r Register, label string) {
	a.EmitForwardRefWord(0xB4000000|r.num(), label, asm.PatchARM64CondBranch19)
}

// Blr emits `BLR Xn` (branch with link to register, spec §4.6 general
// Call lowering: "load call_helper ... and call it").
func (a *Assembler) Blr(r Register) {
	a.word(0xD63F0000 | r.num()<<5)
}

// Br emits `BR Xn` (branch to register, no link).
func (a *Assembler) Br(r Register) {
	a.word(0xD61F0000 | r.num()<<5)
}

// Ret emits `RET` (defaults to X30/LR), the exact encoding spec §8 pins:
// 0xD65F03C0.
func (a *Assembler) Ret() {
	a.word(0xD65F0000 | RegX30.num()<<5)
}

// --- stack pair push/pop --------------------------------------------------

// PushPair emits `STP Xt, Xt2, [SP, #-16]!` (pre-indexed, write-back),
// saving two registers and decrementing SP by 16, keeping it 16-byte
// aligned (spec §4.6 prologue).
func (a *Assembler) PushPair(t, t2 Register) {
	imm7 := uint32(0x7E) // -16/8 = -2, 7-bit two's complement.
	a.word(0xA9800000 | imm7<<15 | t2.num()<<10 | RegSP.num()<<5 | t.num())
}

// PopPair emits `LDP Xt, Xt2, [SP], #16` (post-indexed, write-back),
// restoring two registers and incrementing SP by 16.
func (a *Assembler) PopPair(t, t2 Register) {
	imm7 := uint32(2) // +16/8 = 2.
	a.word(0xA8C00000 | imm7<<15 | t2.num()<<10 | RegSP.num()<<5 | t.num())
}

func (r Register) String() string {
	if r.IsVector() {
		return fmt.Sprintf("D%d", r-RegD0)
	}
	switch r {
	case RegSP:
		return "SP"
	default:
		return fmt.Sprintf("X%d", r-RegX0)
	}
}
