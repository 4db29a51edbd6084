package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlign(t *testing.T) {
	tests := []struct {
		in, want uintptr
	}{
		{0, 0},
		{1, 16},
		{15, 16},
		{16, 16},
		{17, 32},
		{100, 112},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Align(tt.in), "Align(%d)", tt.in)
	}
}

func TestAlignTo(t *testing.T) {
	require.Equal(t, uintptr(4096), AlignTo(1, 4096))
	require.Equal(t, uintptr(4096), AlignTo(4096, 4096))
	require.Equal(t, uintptr(8192), AlignTo(4097, 4096))
	require.Equal(t, uintptr(65536), AlignTo(65535, 65536))
}

func TestBlockSize(t *testing.T) {
	tests := []struct {
		name    string
		payload uintptr
		want    uintptr
	}{
		{"zero payload gets minimum block", 0, MinBlockSize},
		{"one byte", 1, MinBlockSize},
		{"fills minimum block", MinBlockSize - HeaderSize, MinBlockSize},
		{"just over minimum", MinBlockSize - HeaderSize + 1, MinBlockSize + Alignment},
		{"hundred bytes", 100, 128},
		{"two hundred bytes", 200, 224},
		{"fifty bytes", 50, 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BlockSize(tt.payload)
			require.True(t, ok)
			require.Equal(t, tt.want, got)
			require.True(t, IsAligned(got))
		})
	}
}

func TestBlockSizeRejectsHugeRequests(t *testing.T) {
	_, ok := BlockSize(^uintptr(0))
	require.False(t, ok)
	_, ok = BlockSize(^uintptr(0) - HeaderSize)
	require.False(t, ok)
}
