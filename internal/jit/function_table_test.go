package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFunctionTableEntryNotCompiledByDefault(t *testing.T) {
	ft := NewFunctionTable(8)
	assert.False(t, ft.IsCompiled(3))
	addr, regs := ft.Entry(3)
	assert.Zero(t, addr)
	assert.Zero(t, regs)
}

func TestFunctionTableSetEntry(t *testing.T) {
	ft := NewFunctionTable(8)
	ft.SetEntry(3, 0xdeadbeef, 5)
	assert.True(t, ft.IsCompiled(3))
	addr, regs := ft.Entry(3)
	assert.Equal(t, uint64(0xdeadbeef), addr)
	assert.Equal(t, uint64(5), regs)
	assert.False(t, ft.IsCompiled(2))
}

func TestFunctionTablePtrIsStableBackingArray(t *testing.T) {
	ft := NewFunctionTable(4)
	ft.SetEntry(1, 42, 3)
	p := ft.Ptr()
	assert.NotNil(t, p)
	assert.Equal(t, 4, ft.Len())
}
