package asm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchForwardRefsRel32(t *testing.T) {
	b := NewBuffer()
	b.EmitU8(0xE9) // JMP rel32 opcode
	b.EmitForwardRef("target", PatchRel32)
	b.EmitBytes([]byte{0x90, 0x90, 0x90}) // filler
	require.NoError(t, b.DefineLabel("target"))
	b.EmitU8(0xC3) // RET

	require.NoError(t, b.PatchForwardRefs())

	code := b.IntoCode()
	site := 1
	got := int32(code[site]) | int32(code[site+1])<<8 | int32(code[site+2])<<16 | int32(code[site+3])<<24
	// "target" sits on the final RET byte, one before the end of the code.
	want := int32(len(code)-1) - int32(site+4)
	assert.Equal(t, want, got)
}

func TestPatchForwardRefsUndefinedLabelFails(t *testing.T) {
	b := NewBuffer()
	b.EmitU8(0xE9)
	b.EmitForwardRef("nowhere", PatchRel32)

	err := b.PatchForwardRefs()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined label")

	// Buffer bytes are left exactly as emitted (pre-patch state): the
	// reserved immediate is still all zero.
	code := b.IntoCode()
	assert.Equal(t, []byte{0, 0, 0, 0}, code[1:5])
}

func TestPatchForwardRefsARM64Branch26(t *testing.T) {
	b := NewBuffer()
	site := b.Len()
	// 0x14000000 is the fixed B opcode with a zeroed 26-bit immediate.
	b.EmitForwardRefWord(0x14000000, "loop", PatchARM64Branch26)
	require.NoError(t, b.DefineLabel("loop"))
	b.EmitU32(0xD65F03C0) // RET, just to have some bytes after the label

	require.NoError(t, b.PatchForwardRefs())

	code := b.IntoCode()
	word := uint32(code[site]) | uint32(code[site+1])<<8 | uint32(code[site+2])<<16 | uint32(code[site+3])<<24
	wantUnits := uint32((4 - 0) / 4) // target(4) - site(0), in 4-byte units
	assert.Equal(t, 0x14000000|wantUnits, word)
}

func TestBufferAlign(t *testing.T) {
	b := NewBuffer()
	b.EmitU8(1)
	b.Align(16)
	assert.Equal(t, 0, b.Len()%16)
}
