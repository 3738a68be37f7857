package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegionRoundsUpToPageSize(t *testing.T) {
	r, err := NewRegion(1)
	require.NoError(t, err)
	defer r.Close()

	assert.GreaterOrEqual(t, r.Size(), 1)
	assert.Equal(t, 0, r.Size()%pageSize())
}

func TestNewRegionInvalidSize(t *testing.T) {
	_, err := NewRegion(0)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrInvalidSize, perr.Kind)

	_, err = NewRegion(-1)
	require.Error(t, err)
}

func TestRegionWriteThenFreeze(t *testing.T) {
	r, err := NewRegion(64)
	require.NoError(t, err)
	defer r.Close()

	code := []byte{0xc3} // x86-64 RET, one byte, enough to smoke-test W^X.
	require.NoError(t, r.Write(0, code))
	assert.False(t, r.IsExecutable())

	require.NoError(t, r.MakeExecutable())
	assert.True(t, r.IsExecutable())

	// Writes after freezing must fail: the region is never simultaneously
	// writable and executable (spec §4.1, §8 W^X invariant).
	err = r.Write(0, code)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrProtectionFailed, perr.Kind)
}

func TestRegionWriteOutOfBounds(t *testing.T) {
	r, err := NewRegion(16)
	require.NoError(t, err)
	defer r.Close()

	err = r.Write(10, make([]byte, 100))
	require.Error(t, err)
}

func TestRegionAsPtrNonZeroAfterAlloc(t *testing.T) {
	r, err := NewRegion(16)
	require.NoError(t, err)
	defer r.Close()

	assert.NotZero(t, r.AsPtr())
}
