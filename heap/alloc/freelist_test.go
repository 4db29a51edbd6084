package alloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/format"
)

// newDetachedBlocks lays out headers of the given sizes in scratch memory,
// 64 bytes apart. The index only touches headers and links, so the recorded
// sizes may exceed the spacing.
func newDetachedBlocks(t *testing.T, sizes ...uintptr) []*format.Header {
	t.Helper()
	words := make([]uint64, len(sizes)*8+2)
	base := unsafe.Pointer(&words[0])
	if uintptr(base)&format.AlignmentMask != 0 {
		base = unsafe.Add(base, 8)
	}
	out := make([]*format.Header, len(sizes))
	for i, size := range sizes {
		h := format.At(base, uintptr(i)*64)
		h.Init(size, 0, 0, format.StateInUse)
		out[i] = h
	}
	return out
}

func newTestIndex() *freeIndex {
	return newFreeIndex(newSizeClassTable(ConfigGeneral))
}

func TestFreeIndexInsertIsLIFO(t *testing.T) {
	x := newTestIndex()
	blocks := newDetachedBlocks(t, 48, 48, 48)

	for _, h := range blocks {
		x.insert(h)
		assert.True(t, h.IsFree())
	}
	assert.Equal(t, 3, x.blocks)
	assert.Equal(t, uintptr(3*48), x.bytes)

	assert.Same(t, blocks[2], x.find(48), "most recently freed block first")
	x.remove(blocks[2])
	assert.Same(t, blocks[1], x.find(48))
}

func TestFreeIndexFallsThroughToLargerClass(t *testing.T) {
	x := newTestIndex()
	blocks := newDetachedBlocks(t, 32, 256, 4096)
	for _, h := range blocks {
		x.insert(h)
	}

	assert.Same(t, blocks[1], x.find(48), "smallest populated class above the request")
	assert.Same(t, blocks[1], x.find(256))
	assert.Same(t, blocks[2], x.find(272))
	assert.Nil(t, x.find(8192))
}

func TestFreeIndexLargeClassFirstFit(t *testing.T) {
	x := newTestIndex()
	blocks := newDetachedBlocks(t, 4<<20, 2<<20, 8<<20)
	for _, h := range blocks {
		x.insert(h)
	}
	large := x.largeClass()
	require.Equal(t, 3, x.buckets[large].count)

	// Bucket order is 8M, 2M, 4M (LIFO), so the head fits 3M first.
	assert.Same(t, blocks[2], x.find(3<<20))
	x.remove(blocks[2])
	assert.Same(t, blocks[0], x.find(3<<20))
	assert.Nil(t, x.find(5<<20))
}

func TestFreeIndexFirstFitWithinClass(t *testing.T) {
	x := newTestIndex()
	// Medium classes span several sizes; 1024 and 1232 share a class in
	// ConfigGeneral (1024..1279).
	blocks := newDetachedBlocks(t, 1232, 1024)
	require.Equal(t, x.classes.getSizeClass(1024), x.classes.getSizeClass(1232))
	for _, h := range blocks {
		x.insert(h)
	}

	assert.Same(t, blocks[0], x.find(1100), "1024 is at the head but too small")
	assert.Same(t, blocks[1], x.find(1024))
}

func TestFreeIndexRemoveClearsBitmap(t *testing.T) {
	x := newTestIndex()
	blocks := newDetachedBlocks(t, 64, 64)
	sc := x.classes.getSizeClass(64)

	x.insert(blocks[0])
	x.insert(blocks[1])
	assert.Equal(t, sc, x.nextNonEmpty(0))

	x.remove(blocks[0]) // tail of the list
	assert.Equal(t, sc, x.nextNonEmpty(0))
	assert.Same(t, blocks[1], x.buckets[sc].head)
	assert.Nil(t, blocks[1].Links().Next)

	x.remove(blocks[1])
	assert.Equal(t, -1, x.nextNonEmpty(0))
	assert.Nil(t, x.buckets[sc].head)
	assert.Zero(t, x.blocks)
	assert.Zero(t, x.bytes)
}

func TestFreeIndexNextNonEmptyAcrossWords(t *testing.T) {
	x := newTestIndex()
	require.Greater(t, len(x.buckets), 64, "table must span two bitmap words")

	big := newDetachedBlocks(t, 512<<10)
	sc := x.classes.getSizeClass(512 << 10)
	require.GreaterOrEqual(t, sc, 64)
	x.insert(big[0])

	assert.Equal(t, sc, x.nextNonEmpty(0))
	assert.Equal(t, sc, x.nextNonEmpty(sc))
	assert.Equal(t, -1, x.nextNonEmpty(sc+1))
	assert.Equal(t, -1, x.nextNonEmpty(len(x.buckets)))
}

func TestFreeIndexReset(t *testing.T) {
	x := newTestIndex()
	for _, h := range newDetachedBlocks(t, 32, 64, 1<<21) {
		x.insert(h)
	}
	x.reset()
	assert.Zero(t, x.blocks)
	assert.Equal(t, -1, x.nextNonEmpty(0))
	assert.Nil(t, x.find(32))
}
