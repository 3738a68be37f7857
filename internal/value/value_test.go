package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueConstructors(t *testing.T) {
	assert.Equal(t, Value{Tag: TagInt, Payload: 42}, Int(42))
	assert.Equal(t, Value{Tag: TagNil}, Nil())
	assert.True(t, Bool(true).AsBool())
	assert.False(t, Bool(false).AsBool())
	assert.Equal(t, 1.5, Float(1.5).AsFloat())
	assert.True(t, Float(1.5).IsFloat())
}

func TestFrameRoundTrip(t *testing.T) {
	f := NewFrame(4)
	f.Set(0, Int(10))
	f.Set(1, Float(2.5))
	f.Set(3, Ptr(7))

	assert.Equal(t, Int(10), f.Get(0))
	assert.Equal(t, Float(2.5), f.Get(1))
	assert.Equal(t, Int(0), f.Get(2)) // untouched slot: zero bytes decode as tag=INT(0), payload=0
	assert.Equal(t, Ptr(7), f.Get(3))
}

func TestSlotOffsets(t *testing.T) {
	assert.Equal(t, 0, SlotOffset(0))
	assert.Equal(t, 16, SlotOffset(1))
	assert.Equal(t, 48, SlotOffset(3))
}

func TestHeapSlotOffset(t *testing.T) {
	// slot 0 of object 0 sits right after the one-word header.
	assert.Equal(t, int64(8), HeapSlotOffset(0, 0))
	assert.Equal(t, int64(24), HeapSlotOffset(0, 1))
}
