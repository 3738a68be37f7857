// Package jiterrors defines the three compile-time error kinds the JIT
// surfaces (spec §7), wrapped the same way internal/platform.Error is:
// a typed Kind plus an operation label and an optional wrapped cause.
package jiterrors

import (
	"errors"
	"fmt"
)

type Kind int

const (
	CompileError Kind = iota + 1
	AllocationError
	ProtectionError
)

func (k Kind) String() string {
	switch k {
	case CompileError:
		return "CompileError"
	case AllocationError:
		return "AllocationError"
	case ProtectionError:
		return "ProtectionError"
	default:
		return "Kind(?)"
	}
}

// Error is the JIT's compile-time error type. The interpreter's fallback
// policy (spec §7) only needs to know the Kind; Op and Err carry diagnostic
// detail.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("svmjit: %s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("svmjit: %s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// IsKind reports whether err wraps a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrUnsupportedOp is wrapped into a CompileError when the converter or
// compiler reaches a µop it cannot lower (spec §7: "unsupported µop").
var ErrUnsupportedOp = errors.New("unsupported µop")

// ErrBranchOutOfRange names the cause for a patch whose computed offset does
// not fit the target ISA's immediate field (spec §4.3). internal/asm reports
// that case with its own plain error, which does not wrap this sentinel.
var ErrBranchOutOfRange = errors.New("branch target out of encodable range")

// ErrUndefinedLabel names the cause for a pending patch whose label was never
// defined (spec §4.3, §8). internal/asm's patch_forward_refs reports that case
// with its own plain error, which does not wrap this sentinel.
var ErrUndefinedLabel = errors.New("undefined label")
