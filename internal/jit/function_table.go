package jit

// FunctionTable is the flat dispatch table of spec §3/§6: two u64s per
// function, {entry_address, total_regs}. entry_address == 0 means "not yet
// compiled". It is writable throughout the process lifetime and exclusively
// owned by the VM (spec §3 Ownership).
type FunctionTable struct {
	entries []uint64
}

// NewFunctionTable allocates a table wide enough for maxFuncs functions, all
// initially uncompiled.
func NewFunctionTable(maxFuncs int) *FunctionTable {
	return &FunctionTable{entries: make([]uint64, 2*maxFuncs)}
}

// Entry returns (entryAddress, totalRegs) for function id f.
func (t *FunctionTable) Entry(f int) (entryAddress uint64, totalRegs uint64) {
	return t.entries[2*f], t.entries[2*f+1]
}

// SetEntry installs a compiled function's native entry address and frame
// width, making it visible to subsequent Call dispatch (spec §4.8).
func (t *FunctionTable) SetEntry(f int, entryAddress uint64, totalRegs uint64) {
	t.entries[2*f] = entryAddress
	t.entries[2*f+1] = totalRegs
}

// IsCompiled reports whether function f has a nonzero entry address.
func (t *FunctionTable) IsCompiled(f int) bool {
	addr, _ := t.Entry(f)
	return addr != 0
}

// Ptr returns the raw backing array's address, the value installed into
// JitCallContext.JitFunctionTable. The compilers in this package do not read
// that field; compiled Call and CallIndirect dispatch through CallHelper.
func (t *FunctionTable) Ptr() *uint64 {
	if len(t.entries) == 0 {
		return nil
	}
	return &t.entries[0]
}

// Len returns the table's function capacity (not 2x — the logical count).
func (t *FunctionTable) Len() int { return len(t.entries) / 2 }
