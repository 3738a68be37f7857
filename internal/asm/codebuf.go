// Package asm provides the code buffer with symbolic forward references
// (spec §4.3) shared by the amd64 and arm64 encoders, plus the growable byte
// buffer it is built on (adapted from the teacher's asm.CodeSegment/Buffer,
// but in-memory only: unlike CodeSegment this buffer is not itself mmap'd —
// per spec §3 its whole lifetime is "one compile", after which its bytes are
// copied into a platform.Region).
package asm

import (
	"encoding/binary"
	"fmt"
)

// PatchKind identifies which bitfield of an already-emitted instruction a
// forward reference patches, and therefore both the encoding and the valid
// offset range (spec §3, §4.3).
type PatchKind int

const (
	// PatchRel32 is a raw little-endian 32-bit relative offset, used by
	// x86-64 JMP/Jcc rel32 and by the generic CALL-to-self-entry site.
	PatchRel32 PatchKind = iota
	// PatchARM64Branch26 is AArch64's unconditional B/BL 26-bit immediate
	// field, counted in 4-byte units, offset range [-2^27, 2^27).
	PatchARM64Branch26
	// PatchARM64CondBranch19 is AArch64's B.cond/CBZ/CBNZ 19-bit immediate
	// field, counted in 4-byte units, offset range [-2^20, 2^20).
	PatchARM64CondBranch19
)

// pending is one outstanding forward reference: a patch site waiting for a
// label to be defined.
type pending struct {
	site  int // byte offset of the instruction that needs patching
	label string
	kind  PatchKind
}

// Buffer is a byte vector with a label table and a list of pending forward
// reference patches (spec §3 "Code buffer", §4.3).
//
// Invariant: labels are monotone (a label, once defined, is never redefined
// at a different offset). A forward reference emitted at offset o reserves
// kind-sized bytes that patch_forward_refs later OR's the resolved offset
// into, preserving the opcode and register fields already emitted.
type Buffer struct {
	bytes   []byte
	labels  map[string]int
	pending []pending
}

// NewBuffer returns an empty code buffer.
func NewBuffer() *Buffer {
	return &Buffer{labels: make(map[string]int)}
}

// Len returns the number of bytes emitted so far; also the offset the next
// emitted byte will land at.
func (b *Buffer) Len() int { return len(b.bytes) }

func (b *Buffer) grow(n int) []byte {
	i := len(b.bytes)
	b.bytes = append(b.bytes, make([]byte, n)...)
	return b.bytes[i : i+n]
}

// EmitU8 appends a single byte.
func (b *Buffer) EmitU8(v uint8) { b.bytes = append(b.bytes, v) }

// EmitU16 appends a little-endian 16-bit value.
func (b *Buffer) EmitU16(v uint16) {
	binary.LittleEndian.PutUint16(b.grow(2), v)
}

// EmitU32 appends a little-endian 32-bit value.
func (b *Buffer) EmitU32(v uint32) {
	binary.LittleEndian.PutUint32(b.grow(4), v)
}

// EmitU64 appends a little-endian 64-bit value.
func (b *Buffer) EmitU64(v uint64) {
	binary.LittleEndian.PutUint64(b.grow(8), v)
}

// EmitBytes appends a raw byte slice verbatim.
func (b *Buffer) EmitBytes(bs []byte) {
	copy(b.grow(len(bs)), bs)
}

// Align pads with zero bytes until Len() is a multiple of boundary.
func (b *Buffer) Align(boundary int) {
	if boundary <= 1 {
		return
	}
	if r := len(b.bytes) % boundary; r != 0 {
		b.grow(boundary - r)
	}
}

// DefineLabel records that name refers to the current end-of-buffer offset.
// Re-defining an existing label at a different offset is a bug in the
// caller (the converter/compiler never does this; checked defensively).
func (b *Buffer) DefineLabel(name string) error {
	if off, ok := b.labels[name]; ok && off != len(b.bytes) {
		return fmt.Errorf("asm: label %q redefined at %d (was %d)", name, len(b.bytes), off)
	}
	b.labels[name] = len(b.bytes)
	return nil
}

// LabelOffset returns the offset of a defined label, or ok=false.
func (b *Buffer) LabelOffset(name string) (int, bool) {
	off, ok := b.labels[name]
	return off, ok
}

// EmitForwardRef reserves a 4-byte rel32 field for label, which may not be
// defined yet, and records a pending patch (spec §4.3, x86-64 JMP/Jcc
// rel32). For the AArch64 patch kinds, whose immediate lives inside an
// already-constructed instruction word, use EmitForwardRefWord instead.
func (b *Buffer) EmitForwardRef(label string, kind PatchKind) {
	site := len(b.bytes)
	b.EmitU32(0)
	b.pending = append(b.pending, pending{site: site, label: label, kind: kind})
}

// EmitForwardRefWord is like EmitForwardRef but the caller supplies the
// already-encoded instruction word (with opcode/register/condition bits
// set and the immediate field zeroed); used by the AArch64 encoders where
// the branch immediate is OR'd into a word that also carries other fixed
// bits (spec §4.3: "preserving opcode and register fields").
func (b *Buffer) EmitForwardRefWord(word uint32, label string, kind PatchKind) {
	site := len(b.bytes)
	b.EmitU32(word)
	b.pending = append(b.pending, pending{site: site, label: label, kind: kind})
}

// PatchForwardRefs resolves every pending forward reference against the
// label table, OR-ing the encoded relative offset into the reserved word at
// each site. It fails if any referenced label is undefined or if the
// resolved offset does not fit the patch kind's range (spec §3, §8).
func (b *Buffer) PatchForwardRefs() error {
	for _, p := range b.pending {
		target, ok := b.labels[p.label]
		if !ok {
			return fmt.Errorf("asm: undefined label %q referenced at offset %d", p.label, p.site)
		}
		if err := b.patchOne(p, target); err != nil {
			return err
		}
	}
	return nil
}

func (b *Buffer) patchOne(p pending, target int) error {
	switch p.kind {
	case PatchRel32:
		// x86-64 rel32 is relative to the address right after the 4-byte
		// immediate, i.e. right after the whole instruction (spec §8:
		// "target - (site + instruction_size)" with instruction_size=4
		// counted from the immediate field itself).
		rel := int64(target) - int64(p.site+4)
		if rel < -(1<<31) || rel >= (1<<31) {
			return fmt.Errorf("asm: rel32 out of range at %d: %d", p.site, rel)
		}
		binary.LittleEndian.PutUint32(b.bytes[p.site:p.site+4], uint32(int32(rel)))
	case PatchARM64Branch26:
		// AArch64 branch immediates are relative to the address of the
		// branch instruction itself (the word at p.site), not the address
		// after it.
		rel := int64(target) - int64(p.site)
		units := rel / 4
		if rel%4 != 0 || units < -(1<<25) || units >= (1<<25) {
			return fmt.Errorf("asm: arm64 b26 out of range at %d: %d", p.site, units)
		}
		word := binary.LittleEndian.Uint32(b.bytes[p.site : p.site+4])
		word |= uint32(units) & 0x03FFFFFF
		binary.LittleEndian.PutUint32(b.bytes[p.site:p.site+4], word)
	case PatchARM64CondBranch19:
		rel := int64(target) - int64(p.site)
		units := rel / 4
		if rel%4 != 0 || units < -(1<<18) || units >= (1<<18) {
			return fmt.Errorf("asm: arm64 cond19 out of range at %d: %d", p.site, units)
		}
		word := binary.LittleEndian.Uint32(b.bytes[p.site : p.site+4])
		word |= (uint32(units) & 0x7FFFF) << 5
		binary.LittleEndian.PutUint32(b.bytes[p.site:p.site+4], word)
	default:
		return fmt.Errorf("asm: unknown patch kind %d", p.kind)
	}
	return nil
}

// IntoCode returns the final assembled byte slice. Call only after
// PatchForwardRefs has succeeded.
func (b *Buffer) IntoCode() []byte {
	return b.bytes
}
