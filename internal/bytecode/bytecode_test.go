package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxCallArgc(t *testing.T) {
	f := &Function{Ops: []Op{
		{Kind: OpI64Const, IntImm: 10},
		{Kind: OpCall, FuncID: 0, Argc: 2},
		{Kind: OpCall, FuncID: 1, Argc: 5},
		{Kind: OpRet},
	}}
	assert.Equal(t, 5, f.MaxCallArgc())
}

func TestMaxCallArgcNoCalls(t *testing.T) {
	f := &Function{Ops: []Op{{Kind: OpI64Const, IntImm: 42}, {Kind: OpRet}}}
	assert.Equal(t, 0, f.MaxCallArgc())
}

func TestOpKindStringersCovered(t *testing.T) {
	for k := OpI64Const; k <= OpRaw; k++ {
		assert.NotEqual(t, "", k.String())
	}
}
