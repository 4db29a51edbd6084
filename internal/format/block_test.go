package format

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSpan returns 16-byte aligned scratch memory for header tests.
func newSpan(t *testing.T, n int) unsafe.Pointer {
	t.Helper()
	words := make([]uint64, n/8+2)
	p := unsafe.Pointer(&words[0])
	if uintptr(p)&AlignmentMask != 0 {
		p = unsafe.Add(p, 8)
	}
	return p
}

func TestHeaderRoundTrip(t *testing.T) {
	base := newSpan(t, 256)
	h := At(base, 0)
	h.Init(128, 64, 7, StateInUse)

	assert.Equal(t, uintptr(128), h.Size())
	assert.Equal(t, uintptr(112), h.PayloadSize())
	assert.Equal(t, uintptr(64), h.PrevSize())
	assert.Equal(t, uint16(7), h.Owner())
	assert.Equal(t, StateInUse, h.State())
	assert.True(t, h.Valid())
	assert.False(t, h.IsFree())
}

func TestHeaderSettersKeepOtherFields(t *testing.T) {
	base := newSpan(t, 256)
	h := At(base, 0)
	h.Init(64, 0, MaxOwner, StateFree)

	h.SetSize(192)
	assert.Equal(t, uintptr(192), h.Size())
	assert.Equal(t, uint16(MaxOwner), h.Owner())
	assert.Equal(t, StateFree, h.State())

	h.SetState(StatePending)
	assert.Equal(t, StatePending, h.State())
	assert.Equal(t, uintptr(192), h.Size())

	h.SetPrevSize(48)
	assert.Equal(t, uintptr(48), h.PrevSize())
	assert.True(t, h.Valid(), "SetPrevSize must keep the magic tag")
}

func TestHeaderNavigation(t *testing.T) {
	base := newSpan(t, 256)
	first := At(base, 0)
	first.Init(64, 0, 0, StateInUse)
	second := At(base, 64)
	second.Init(96, 64, 0, StateFree)
	fence := At(base, 160)
	fence.Init(FenceSize, 96, 0, StateInUse)

	require.Equal(t, second, first.Next())
	require.Equal(t, fence, second.Next())
	require.Equal(t, second, fence.Prev())
	require.Equal(t, first, second.Prev())
	require.Nil(t, first.Prev())
	require.True(t, fence.IsFence())
	require.False(t, first.IsFence())
}

func TestPayloadAndLinks(t *testing.T) {
	base := newSpan(t, 128)
	h := At(base, 0)
	h.Init(64, 0, 0, StateFree)

	p := h.Payload()
	require.Equal(t, uintptr(base)+HeaderSize, uintptr(p))
	require.Equal(t, h, FromPayload(p))
	require.True(t, IsAligned(uintptr(p)))

	other := At(base, 64)
	h.Links().Next = other
	h.Links().Prev = nil
	require.Equal(t, other, (*FreeLinks)(p).Next)
}

func TestZeroAndCopy(t *testing.T) {
	base := newSpan(t, 64)
	b := Bytes(base, 32)
	for i := range b {
		b[i] = 0xAA
	}
	Copy(unsafe.Add(base, 32), base, 16)
	require.Equal(t, byte(0xAA), Bytes(unsafe.Add(base, 32), 16)[15])

	Zero(base, 32)
	for i, c := range Bytes(base, 32) {
		require.Zero(t, c, "byte %d", i)
	}
	require.Nil(t, Bytes(base, 0))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "free", StateFree.String())
	assert.Equal(t, "in-use", StateInUse.String())
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "invalid", State(3).String())
}

func TestMarkPendingKeepsSizeAndOwner(t *testing.T) {
	base := newSpan(t, 128)
	h := At(base, 0)
	h.Init(96, 32, 3, StateInUse)

	h.MarkPending()
	assert.Equal(t, StatePending, h.State())
	assert.Equal(t, uintptr(96), h.Size())
	assert.Equal(t, uint16(3), h.Owner())
	assert.False(t, h.IsFree())
}
