package jit

import "github.com/svmjit/svmjit/internal/asm/arm64"

// Fixed AArch64 register role assignments (spec §4.6, §6). T0-T3 double as
// the AAPCS64 argument registers used to marshal a helper call's (ctx,
// func_id, argc, args_ptr). All of T0-T5 sit in the caller-saved range
// (X0-X18) and so are never live across a Call/CallIndirect lowering; only
// VM_CTX/FRAME_BASE (X19/X20, callee-saved) need to survive a call.
const (
	regVMCtx     = arm64.RegX19
	regFrameBase = arm64.RegX20

	regT0 = arm64.RegX0
	regT1 = arm64.RegX1
	regT2 = arm64.RegX2
	regT3 = arm64.RegX3
	regT4 = arm64.RegX9
	regT5 = arm64.RegX10

	regF0 = arm64.RegD0
	regF1 = arm64.RegD1
	regF2 = arm64.RegD2
)
