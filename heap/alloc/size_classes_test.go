package alloc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/format"
)

func TestSizeClassTables(t *testing.T) {
	configs := []SizeClassConfig{ConfigGeneral, ConfigFineGrained, ConfigBalanced, ConfigCoarse}

	for _, cfg := range configs {
		t.Run(cfg.Name, func(t *testing.T) {
			table := newSizeClassTable(cfg)
			require.Positive(t, table.NumClasses())

			for i := 1; i < table.numClasses; i++ {
				require.Greater(t, table.boundaries[i], table.boundaries[i-1], "boundaries must increase")
			}

			for size := uintptr(format.MinBlockSize); size <= cfg.MediumMax+4096; size += format.Alignment {
				sc := table.getSizeClass(size)
				require.GreaterOrEqual(t, size, table.lowerBound(sc), "size %d class %d", size, sc)
				if sc < table.numClasses {
					require.LessOrEqual(t, size, table.boundaries[sc], "size %d class %d", size, sc)
				} else {
					require.Greater(t, size, table.boundaries[table.numClasses-1])
				}
			}
		})
	}
}

func TestGeneralClassesAreExactBelowOneKiB(t *testing.T) {
	table := newSizeClassTable(ConfigGeneral)

	seen := make(map[int]uintptr)
	for size := uintptr(format.MinBlockSize); size < 1024; size += format.Alignment {
		sc := table.getSizeClass(size)
		prev, dup := seen[sc]
		require.False(t, dup, "sizes %d and %d share class %d", prev, size, sc)
		seen[sc] = size
	}
}

func TestSizeClassUnbounded(t *testing.T) {
	table := newSizeClassTable(ConfigGeneral)
	assert.Equal(t, table.numClasses, table.getSizeClass(1<<30))
	assert.Equal(t, table.numClasses, table.getSizeClass(^uintptr(0)))
	assert.Equal(t, 0, table.getSizeClass(format.MinBlockSize))
}

func TestLookupSizeClasses(t *testing.T) {
	for _, preset := range SizeClassPresets {
		got, ok := LookupSizeClasses(strings.ToLower(preset.Name))
		require.True(t, ok, preset.Name)
		assert.Equal(t, preset, got)
	}
	_, ok := LookupSizeClasses("nope")
	assert.False(t, ok)
}

func TestRangesCoverEveryBlockSize(t *testing.T) {
	for _, preset := range SizeClassPresets {
		ranges := preset.Ranges()
		require.Len(t, ranges, newSizeClassTable(preset).NumClasses()+1, preset.Name)
		assert.Zero(t, ranges[0].Min, preset.Name)
		for i := 1; i < len(ranges); i++ {
			assert.Equal(t, ranges[i-1].Max+1, ranges[i].Min, "%s class %d", preset.Name, i)
		}
		last := ranges[len(ranges)-1]
		assert.Zero(t, last.Max, preset.Name)
		assert.GreaterOrEqual(t, last.Min, preset.MediumMax, preset.Name)
	}
}
