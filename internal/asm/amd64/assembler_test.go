package amd64

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMovImm64Encoding is the exact round-trip named in spec §8: mov rax,
// imm64 with imm=0x1122334455667788 produces 0x48 0xB8 followed by the
// eight payload bytes little-endian.
func TestMovImm64Encoding(t *testing.T) {
	a := NewAssembler()
	a.MovImm64(RegAX, 0x1122334455667788)

	want := []byte{0x48, 0xB8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}
	assert.Equal(t, want, a.IntoCode())
}

func TestRetEncoding(t *testing.T) {
	a := NewAssembler()
	a.Ret()
	assert.Equal(t, []byte{0xC3}, a.IntoCode())
}

func TestAddRREncoding(t *testing.T) {
	a := NewAssembler()
	a.AddRR(RegAX, RegCX)
	// REX.W(0x48) + 01 /r with reg=CX(1), rm=AX(0) -> modrm = 11 001 000 = 0xC8
	assert.Equal(t, []byte{0x48, 0x01, 0xC8}, a.IntoCode())
}

func TestJmpForwardRefPatches(t *testing.T) {
	a := NewAssembler()
	a.Jmp("end")
	a.Ret()
	_ = a.DefineLabel("end")
	a.Ret()
	err := a.PatchForwardRefs()
	assert.NoError(t, err)
	code := a.IntoCode()
	// JMP opcode + 4-byte rel32 = 5 bytes, then one RET (0xC3) we jump over,
	// landing exactly on the second RET.
	rel := int32(code[1]) | int32(code[2])<<8 | int32(code[3])<<16 | int32(code[4])<<24
	assert.Equal(t, int32(1), rel)
}
