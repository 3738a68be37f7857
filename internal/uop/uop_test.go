package uop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestKindStringersCovered mirrors the pack's own "every enum value has a
// name" stringer coverage check.
func TestKindStringersCovered(t *testing.T) {
	for k := ConstI64; k <= Raw; k++ {
		assert.NotEqual(t, "", k.String())
		assert.NotEqual(t, "Kind(?)", k.String())
	}
}

func TestCondInvertIsInvolution(t *testing.T) {
	for c := CondEq; c <= CondGeS; c++ {
		assert.Equal(t, c, c.Invert().Invert())
	}
}

func TestOpStringDoesNotPanic(t *testing.T) {
	ops := []Op{
		{Kind: ConstI64, Dst: 0, ImmI: 42},
		{Kind: Jmp, Target: 3},
		{Kind: BrIf, Src: 1, Target: 5},
		{Kind: Call, FuncID: 2, Args: []int{0, 1}},
		{Kind: Ret, Src: 0, HasRet: true},
		{Kind: Raw, RawOp: "TryBegin(4)"},
		{Kind: AddI64, Dst: 2, A: 0, B: 1},
	}
	for _, op := range ops {
		assert.NotEqual(t, "", op.String())
	}
}
