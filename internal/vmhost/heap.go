package vmhost

import (
	"fmt"
	"strconv"

	"github.com/svmjit/svmjit/internal/jitlog"
	"github.com/svmjit/svmjit/internal/value"
)

// Heap is the minimal managed-object store named heap_base/HeapSlotOffset
// by the frame-slot layout (spec §3/§6): a flat array of 64-bit words,
// objects laid out {length_header, slot0_tag, slot0_payload, slot1_tag,
// slot1_payload, ...} starting at the object's own index r, matching
// value.HeapSlotOffset's addressing formula exactly.
//
// Growing re-slices (and so reallocates) the backing array, which is why
// compiled code is documented to reread heap_base on every load rather
// than cache it across a call that might allocate.
type Heap struct {
	words []uint64
}

// Alloc reserves a new object of n slots, zero-initialized, and returns
// its heap index (the value a TagPtr Value's payload carries).
func (h *Heap) Alloc(n int) int {
	r := len(h.words)
	h.words = append(h.words, uint64(n))
	h.words = append(h.words, make([]uint64, n*2)...)
	return r
}

// Len reports the slot count of the object at heap index r.
func (h *Heap) Len(r int) int64 {
	return int64(h.words[r])
}

func (h *Heap) GetSlot(r, k int) value.Value {
	i := r + 1 + 2*k
	return value.Value{Tag: value.Tag(h.words[i]), Payload: h.words[i+1]}
}

func (h *Heap) SetSlot(r, k int, v value.Value) {
	i := r + 1 + 2*k
	h.words[i] = uint64(v.Tag)
	h.words[i+1] = v.Payload
}

// Base returns the current backing array's first word, the pointer
// JitCallContext.HeapBase would carry. Callers must refetch after any
// Alloc, since growth may have reallocated.
func (h *Heap) Base() *uint64 {
	if len(h.words) == 0 {
		return nil
	}
	return &h.words[0]
}

// StringCache backs JitCallContext.StringCache/StringCacheLen: one 16-byte
// entry per string-table index, {present_flag, heap_index}, matching
// StringConst's documented fast-path layout (spec §4.6). Sized once at VM
// construction to the string table's own fixed length, since StringConst's
// Idx operand is always a compile-time index into that same table — no
// entry is ever added past what New's string table already names, so
// unlike Heap this never needs to grow (and so never needs a re-fetch
// discipline for its base pointer).
type StringCache struct {
	entries []uint64
}

func newStringCache(n int) StringCache {
	return StringCache{entries: make([]uint64, 2*n)}
}

func (c *StringCache) Base() *uint64 {
	if len(c.entries) == 0 {
		return nil
	}
	return &c.entries[0]
}

func (c *StringCache) Len() uint64 { return uint64(len(c.entries) / 2) }

// set marks idx present and records its heap index, called once
// push_string_helper first materializes idx onto the heap.
func (c *StringCache) set(idx int, heapIndex uint64) {
	c.entries[2*idx] = 1
	c.entries[2*idx+1] = heapIndex
}

// PushString interns s in the VM's string table (growing it in place, per
// the documented string-cache-invalidation contract: never shrink or
// reallocate out from under a live JIT frame) and returns its index.
func (vm *VM) PushString(s string) int {
	for i, existing := range vm.Strings {
		if existing == s {
			return i
		}
	}
	vm.Strings = append(vm.Strings, s)
	return len(vm.Strings) - 1
}

// ArrayLen is the Go-side implementation backing ArrayLenHelper: the
// slot count of the heap object a TagPtr Value refers to.
func (vm *VM) ArrayLen(ref value.Value) int64 {
	return vm.Heap.Len(int(ref.Payload))
}

// ToString is the Go-side implementation backing ToStringHelper: a
// debug/display rendering of any Value, allocated as a new heap string
// and returned as a TagPtr Value.
func (vm *VM) ToString(v value.Value) value.Value {
	var s string
	switch v.Tag {
	case value.TagInt:
		s = strconv.FormatInt(v.AsInt(), 10)
	case value.TagFloat:
		s = strconv.FormatFloat(v.AsFloat(), 'g', -1, 64)
	case value.TagBool:
		s = strconv.FormatBool(v.AsBool())
	case value.TagNil:
		s = "nil"
	case value.TagPtr:
		s = fmt.Sprintf("ptr(%d)", v.Payload)
	default:
		s = "?"
	}
	return value.Ptr(uint64(vm.PushString(s)))
}

// PrintDebug is the Go-side implementation backing PrintDebugHelper: logs
// a value's rendering through the VM's jitlog.Logger rather than writing
// to stdout directly, so a debug build's output is scope-gated like every
// other runtime trace.
func (vm *VM) PrintDebug(v value.Value) {
	rendered := vm.ToString(v)
	vm.Logger.Logf(jitlog.ScopeDebug, "debug: %s", vm.Strings[rendered.Payload])
}

// HeapAllocDynSimple is the Go-side implementation backing
// HeapAllocDynSimpleHelper: allocates a fresh n-slot object and returns a
// TagPtr Value referencing it. kind is accepted for ABI parity with the
// helper signature but unused — this stand-in has no type-tag-per-object
// scheme beyond the uniform slot layout.
func (vm *VM) HeapAllocDynSimple(n int, kind int64) value.Value {
	_ = kind
	return value.Ptr(uint64(vm.Heap.Alloc(n)))
}

// HeapAllocString is the Go-side implementation backing
// HeapAllocStringHelper: copies an existing string-table entry onto the
// heap as a one-slot object holding its string-table index, so a string
// value can be referenced as a TagPtr like any other heap object.
func (vm *VM) HeapAllocString(strIdx int) value.Value {
	r := vm.Heap.Alloc(1)
	vm.Heap.SetSlot(r, 0, value.Value{Tag: value.TagPtr, Payload: uint64(strIdx)})
	return value.Ptr(uint64(r))
}
