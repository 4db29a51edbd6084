package alloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap/region"
)

// ============================================================================
// Arena and Heap construction
// ============================================================================

const testRegion = 64 << 10

// testConfig returns a configuration with small regions so tests exercise
// growth, reclaim and multi-region walks without mapping much memory.
func testConfig(opts ...func(*Config)) Config {
	cfg := DefaultConfig()
	cfg.MinRegionSize = testRegion
	cfg.GrowthMultiplier = 1
	cfg.DirectThreshold = 256 << 10
	cfg.Source = region.OS()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// newTestArena creates an arena that is closed when the test ends.
func newTestArena(t testing.TB, opts ...func(*Config)) *Arena {
	t.Helper()
	a := NewArena(testConfig(opts...))
	t.Cleanup(func() { a.Close() })
	return a
}

// newTestHeap creates a heap that is closed when the test ends.
func newTestHeap(t testing.TB, partitions int, opts ...func(*Config)) *Heap {
	t.Helper()
	opts = append([]func(*Config){func(c *Config) { c.Partitions = partitions }}, opts...)
	hp := New(testConfig(opts...))
	t.Cleanup(func() { hp.Close() })
	return hp
}

func keepEmptyRegions(c *Config) { c.ReleaseEmptyRegions = false }

func checked(c *Config) { c.Checked = true }

// setupGrowCounter counts regions adopted by a.
func setupGrowCounter(a *Arena) *int {
	count := 0
	a.onGrow = func(uintptr) { count++ }
	return &count
}

// ============================================================================
// Payload helpers
// ============================================================================

func payload(p unsafe.Pointer, n uintptr) []byte {
	return unsafe.Slice((*byte)(p), n)
}

// fill writes a recognizable pattern derived from seed.
func fill(p unsafe.Pointer, n uintptr, seed byte) {
	b := payload(p, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
}

// requireFilled checks the pattern written by fill.
func requireFilled(t testing.TB, p unsafe.Pointer, n uintptr, seed byte) {
	t.Helper()
	for i, c := range payload(p, n) {
		if c != seed+byte(i) {
			require.Failf(t, "payload corrupted", "byte %d = %#x, want %#x", i, c, seed+byte(i))
		}
	}
}

// ============================================================================
// Invariant checking
// ============================================================================

// assertInvariants runs the full consistency walk.
func assertInvariants(t testing.TB, a *Arena) Report {
	t.Helper()
	rep, err := a.Verify()
	require.NoError(t, err)

	s := a.Stats()
	require.Equal(t, rep.Free, s.FreeBlocks, "free block counter out of sync")
	require.Equal(t, rep.InUse+rep.Pending, s.InUseBlocks, "in-use counter out of sync")
	return rep
}

// assertHeapInvariants runs the consistency walk over every partition.
func assertHeapInvariants(t testing.TB, hp *Heap) Report {
	t.Helper()
	rep, err := hp.Verify()
	require.NoError(t, err)
	return rep
}
