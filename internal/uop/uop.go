// Package uop is the register-based µop intermediate representation and
// the converter that lowers stack bytecode (internal/bytecode) into it.
package uop

// Kind identifies a µop's operation; field meaning is overloaded per Kind,
// mirroring the generic-union-of-operations shape the pack's own
// bytecode-IR packages use to avoid one struct type per instruction.
type Kind int

const (
	ConstI64 Kind = iota
	ConstF64
	ConstI32
	ConstF32
	RefNull
	StringConst
	Mov
	AddI64
	SubI64
	MulI64
	DivI64
	RemI64
	NegI64
	AddI64Imm
	AddF64
	SubF64
	MulF64
	DivF64
	CmpI64
	CmpI64Imm
	Jmp
	BrIf
	BrIfFalse
	Call
	CallIndirect
	Ret
	HeapLoad
	HeapStore
	HeapLoadDyn
	HeapStoreDyn
	HeapLoad2
	HeapStore2
	HeapAllocDynSimple
	HeapAllocString
	ToString
	PrintDebug
	RefEq
	RefIsNull
	StackPush
	StackPop
	Raw
)

func (k Kind) String() string {
	names := [...]string{
		"ConstI64", "ConstF64", "ConstI32", "ConstF32", "RefNull", "StringConst",
		"Mov", "AddI64", "SubI64", "MulI64", "DivI64", "RemI64", "NegI64", "AddI64Imm",
		"AddF64", "SubF64", "MulF64", "DivF64", "CmpI64", "CmpI64Imm",
		"Jmp", "BrIf", "BrIfFalse", "Call", "CallIndirect", "Ret",
		"HeapLoad", "HeapStore", "HeapLoadDyn", "HeapStoreDyn", "HeapLoad2", "HeapStore2",
		"HeapAllocDynSimple", "HeapAllocString", "ToString", "PrintDebug", "RefEq", "RefIsNull",
		"StackPush", "StackPop", "Raw",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Kind(?)"
}

// Cond is a µop comparison condition, shared by CmpI64 and CmpI64Imm.
type Cond int

const (
	CondEq Cond = iota
	CondNe
	CondLtS
	CondLeS
	CondGtS
	CondGeS
)

func (c Cond) String() string {
	switch c {
	case CondEq:
		return "Eq"
	case CondNe:
		return "Ne"
	case CondLtS:
		return "LtS"
	case CondLeS:
		return "LeS"
	case CondGtS:
		return "GtS"
	case CondGeS:
		return "GeS"
	default:
		return "Cond(?)"
	}
}

// Invert returns the logical negation of c.
func (c Cond) Invert() Cond {
	switch c {
	case CondEq:
		return CondNe
	case CondNe:
		return CondEq
	case CondLtS:
		return CondGeS
	case CondGeS:
		return CondLtS
	case CondLeS:
		return CondGtS
	case CondGtS:
		return CondLeS
	default:
		panic("uop: unknown condition")
	}
}

// Op is one µop: a generic union of the fields any Kind might need. Unused
// fields are zero for a given Kind; see the per-Kind comment on each field.
type Op struct {
	Kind Kind

	Dst int // most producers: destination VReg
	A   int // most binary ops: first operand VReg; ToString/PrintDebug/RefIsNull: the source VReg; HeapAllocDynSimple: size VReg; HeapAllocString: data_ref VReg; RefEq: first operand
	B   int // most binary ops: second operand VReg; HeapAllocString: len VReg; RefEq: second operand
	Src int // Mov, StackPush, Ret: source VReg

	ImmI int64   // ConstI64/ConstI32/AddI64Imm/CmpI64Imm
	ImmF float64 // ConstF64/ConstF32

	Cond Cond // CmpI64, CmpI64Imm

	Target int // Jmp, BrIf, BrIfFalse: µop-PC branch target
	HasRet bool

	FuncID int   // Call
	Args   []int // Call, CallIndirect: operand VRegs
	Callee int   // CallIndirect: VReg holding a heap ref to the callee object; slot 0's payload is the target function id and must be dereferenced through the heap at lowering time, not trusted as a pre-resolved id

	Offset int64 // HeapLoad/Store: static slot index k (address = heap_base + (ref+1+2k)*8)
	Idx    int   // HeapLoadDyn/StoreDyn/HeapLoad2/Store2: VReg holding the dynamic index; StringConst: string-table index (compile-time int, not a VReg)
	Base   int   // Heap*: VReg holding the heap ref
	Value  int   // HeapStore*: VReg holding the value to store

	RawOp string // Raw: opaque original bytecode op name, for diagnostics
}

// String gives a compact human-readable rendering, mainly for test failures
// and debug-gated disassembly.
func (o Op) String() string {
	switch o.Kind {
	case ConstI64:
		return kindArgs(o.Kind, "dst", o.Dst, "imm", int(o.ImmI))
	case Jmp:
		return kindArgs(o.Kind, "target", o.Target)
	case BrIf, BrIfFalse:
		return kindArgs(o.Kind, "cond", o.Src, "target", o.Target)
	case Call:
		return kindArgs(o.Kind, "func", o.FuncID, "argc", len(o.Args))
	case CallIndirect:
		return kindArgs(o.Kind, "callee", o.Callee, "argc", len(o.Args))
	case Ret:
		return kindArgs(o.Kind, "src", o.Src, "hasRet", boolInt(o.HasRet))
	case Raw:
		return o.Kind.String() + "(" + o.RawOp + ")"
	default:
		return kindArgs(o.Kind, "dst", o.Dst, "a", o.A, "b", o.B)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func kindArgs(k Kind, kv ...interface{}) string {
	s := k.String() + "{"
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			s += ", "
		}
		s += kv[i].(string) + "="
		s += itoa(kv[i+1].(int))
	}
	return s + "}"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ConvertedFunction is the converter's output: an ordered µop sequence plus
// the scratch-register window width.
type ConvertedFunction struct {
	Ops         []Op
	LocalsCount int
	TempsCount  int
}

// TotalRegs is the frame width: locals plus scratch temps.
func (f *ConvertedFunction) TotalRegs() int { return f.LocalsCount + f.TempsCount }
