package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/format"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.GreaterOrEqual(t, cfg.Partitions, 1)
	assert.LessOrEqual(t, cfg.Partitions, maxDefaultPartitions)
	assert.Equal(t, ConfigGeneral, cfg.SizeClasses)
	assert.True(t, cfg.ReleaseEmptyRegions)
	assert.False(t, cfg.Checked)
	assert.Nil(t, cfg.Source, "source is resolved when the heap is built")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvPartitions, "3")
	t.Setenv(EnvChecked, "true")
	t.Setenv(EnvMinRegion, "1MiB")
	t.Setenv(EnvDirectThreshold, "2MB")
	t.Setenv(EnvReclaim, "off")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Partitions)
	assert.True(t, cfg.Checked)
	assert.Equal(t, uintptr(1<<20), cfg.MinRegionSize)
	assert.Equal(t, uintptr(2_000_000), cfg.DirectThreshold)
	assert.False(t, cfg.ReleaseEmptyRegions)
}

func TestConfigFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"partitions not a number", EnvPartitions, "many"},
		{"partitions zero", EnvPartitions, "0"},
		{"checked not a bool", EnvChecked, "maybe"},
		{"reclaim not a bool", EnvReclaim, "2"},
		{"min region not a size", EnvMinRegion, "big"},
		{"direct threshold not a size", EnvDirectThreshold, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := ConfigFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestConfigNormalizeClamps(t *testing.T) {
	cfg := Config{
		Partitions:      1 << 20,
		RetainRegions:   -3,
		DirectThreshold: ^uintptr(0),
	}.normalize()

	assert.Equal(t, format.MaxOwner+1, cfg.Partitions)
	assert.Zero(t, cfg.RetainRegions)
	assert.Equal(t, uintptr(maxGrowth), cfg.DirectThreshold)
	assert.Equal(t, uintptr(defaultMinRegion), cfg.MinRegionSize)
}
