package jit

import "github.com/svmjit/svmjit/internal/asm/amd64"

// Fixed x86-64 register role assignments for the compiled-code calling
// convention (spec §4.6, §6): VM_CTX and FRAME_BASE live in callee-saved
// registers so a compiled callee's own prologue/epilogue naturally
// preserves them across any call it makes, with no extra save/restore
// needed at the call site itself.
const (
	regVMCtx     = amd64.RegR12
	regFrameBase = amd64.RegR13

	regT0 = amd64.RegAX
	regT1 = amd64.RegCX
	regT2 = amd64.RegDX
	regT3 = amd64.RegBX
	regT4 = amd64.RegSI
	regT5 = amd64.RegDI

	regF0 = amd64.RegX0
	regF1 = amd64.RegX1
	regF2 = amd64.RegX2
)
