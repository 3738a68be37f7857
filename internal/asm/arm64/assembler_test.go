package arm64

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestAddEncoding is the exact vector named in spec §8: ADD X0, X1, X2
// encodes to the little-endian bytes of 0x8B020020.
func TestAddEncoding(t *testing.T) {
	a := NewAssembler()
	a.AddRR(RegX0, RegX1, RegX2)
	assert.Equal(t, []byte{0x20, 0x00, 0x02, 0x8B}, a.IntoCode())
}

// TestRetEncoding is the exact vector named in spec §8: RET (implied X30)
// encodes to the little-endian bytes of 0xD65F03C0.
func TestRetEncoding(t *testing.T) {
	a := NewAssembler()
	a.Ret()
	assert.Equal(t, []byte{0xC0, 0x03, 0x5F, 0xD6}, a.IntoCode())
}

func TestMovImm64SkipsZeroHalves(t *testing.T) {
	a := NewAssembler()
	a.MovImm64(RegX0, 0x0000000000000005)
	// Only the low half is non-zero: a single MOVZ, no MOVK.
	assert.Equal(t, 4, a.Len())
}

func TestMovImm64AllHalves(t *testing.T) {
	a := NewAssembler()
	a.MovImm64(RegX3, 0x1122334455667788)
	// One MOVZ plus three MOVK instructions, 4 bytes apiece.
	assert.Equal(t, 16, a.Len())
}

func TestBForwardRefPatchesBranch26(t *testing.T) {
	a := NewAssembler()
	a.B("end")
	a.Ret()
	_ = a.DefineLabel("end")
	a.Ret()
	err := a.PatchForwardRefs()
	assert.NoError(t, err)
	code := a.IntoCode()
	word := uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24
	// rel = target(8) - site(0) = 8 bytes = 2 instructions, in units of 4.
	assert.Equal(t, uint32(0x14000000|2), word)
}

func TestBCondForwardRefPatchesCondBranch19(t *testing.T) {
	a := NewAssembler()
	a.BCond(CondEQ, "end")
	a.Ret()
	_ = a.DefineLabel("end")
	a.Ret()
	err := a.PatchForwardRefs()
	assert.NoError(t, err)
	code := a.IntoCode()
	word := uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24
	assert.Equal(t, uint32(0x54000000|2<<5|uint32(CondEQ)), word)
}

func TestCSetEncodesInvertedCondition(t *testing.T) {
	a := NewAssembler()
	a.CSet(RegX0, CondEQ)
	// CSET Xd, EQ == CSINC Xd, XZR, XZR, NE (inverted condition in the field).
	code := a.IntoCode()
	word := uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24
	assert.Equal(t, uint32(0x9A800400|31<<16|uint32(CondNE)<<12|31<<5), word)
}
