// Package value defines the 128-bit JIT ABI value pair shared by the
// interpreter, the frame-slot layout, and every helper trampoline.
package value

import "math"

// Tag is the 64-bit tag half of a Value, a stable wire constant.
type Tag uint64

const (
	TagInt Tag = iota
	TagFloat
	TagBool
	TagNil
	TagPtr
)

func (t Tag) String() string {
	switch t {
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	case TagBool:
		return "bool"
	case TagNil:
		return "nil"
	case TagPtr:
		return "ptr"
	default:
		return "tag(?)"
	}
}

// Value is the ABI-form pair every frame slot, ABI argument, and helper
// return uses: a tag plus a 64-bit payload whose interpretation depends on
// the tag (two's-complement int, IEEE-754 f64 bits, 0/1 bool, 0 for nil, or
// a heap index for ptr).
type Value struct {
	Tag     Tag
	Payload uint64
}

func Nil() Value { return Value{Tag: TagNil} }

func Int(i int64) Value { return Value{Tag: TagInt, Payload: uint64(i)} }

func Float(f float64) Value { return Value{Tag: TagFloat, Payload: math.Float64bits(f)} }

func Bool(b bool) Value {
	if b {
		return Value{Tag: TagBool, Payload: 1}
	}
	return Value{Tag: TagBool, Payload: 0}
}

func Ptr(heapIndex uint64) Value { return Value{Tag: TagPtr, Payload: heapIndex} }

func (v Value) AsInt() int64     { return int64(v.Payload) }
func (v Value) AsFloat() float64 { return math.Float64frombits(v.Payload) }
func (v Value) AsBool() bool     { return v.Payload != 0 }

func (v Value) IsFloat() bool { return v.Tag == TagFloat }
func (v Value) IsNil() bool   { return v.Tag == TagNil }
