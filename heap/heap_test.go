package heap

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/region"
)

// resetHeap installs a small default heap for the duration of a test.
func resetHeap(t *testing.T, opts ...func(*alloc.Config)) {
	t.Helper()
	cfg := alloc.DefaultConfig()
	cfg.Partitions = 2
	cfg.MinRegionSize = 64 << 10
	for _, opt := range opts {
		opt(&cfg)
	}
	ResetForTesting(&cfg)
	t.Cleanup(func() { ResetForTesting(nil) })
}

// recoverErr runs f and returns the error it panicked with, if any.
func recoverErr(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
		}
	}()
	f()
	return nil
}

func bytesAt(p unsafe.Pointer, n uintptr) []byte {
	return unsafe.Slice((*byte)(p), n)
}

func TestMallocAlignedAndWritable(t *testing.T) {
	resetHeap(t)

	for _, size := range []uintptr{0, 1, 16, 17, 100, 4096, 1 << 20, 16 << 20} {
		p := Malloc(size)
		require.NotNil(t, p, "size %d", size)
		assert.Zero(t, uintptr(p)%16, "size %d", size)
		assert.GreaterOrEqual(t, UsableSize(p), size)
		b := bytesAt(p, size)
		for i := range b {
			b[i] = byte(i)
		}
		Free(p)
	}
	assert.Zero(t, Stats().InUseBlocks)
}

func TestFreeNil(t *testing.T) {
	resetHeap(t)
	assert.NotPanics(t, func() { Free(nil) })
}

func TestCallocOverflowReturnsNil(t *testing.T) {
	resetHeap(t)
	assert.Nil(t, Calloc(^uintptr(0), 2))

	p := Calloc(32, 32)
	require.NotNil(t, p)
	for i, c := range bytesAt(p, 1024) {
		require.Zero(t, c, "byte %d", i)
	}
	Free(p)
}

func TestReallocConventions(t *testing.T) {
	resetHeap(t)

	p := Realloc(nil, 40)
	require.NotNil(t, p)
	copy(bytesAt(p, 40), "the quick brown fox jumps over a lazy d")

	p = Realloc(p, 10000)
	require.NotNil(t, p)
	assert.Equal(t, "the quick brown fox", string(bytesAt(p, 19)))

	assert.Nil(t, Realloc(p, 0))
	assert.Zero(t, Stats().InUseBlocks)
}

func TestExhaustionReturnsNil(t *testing.T) {
	src := region.Limit(region.OS(), 64<<10)
	resetHeap(t, func(c *alloc.Config) { c.Source = src })

	assert.Nil(t, Malloc(1<<20))

	p := Malloc(100)
	require.NotNil(t, p)
	copy(bytesAt(p, 5), "hello")
	assert.Nil(t, Realloc(p, 1<<20), "failed realloc returns nil")
	assert.Equal(t, "hello", string(bytesAt(p, 5)), "original survives a failed realloc")
	Free(p)

	assert.Nil(t, Malloc(^uintptr(0)))
}

func TestCheckedFaultsPanic(t *testing.T) {
	resetHeap(t, func(c *alloc.Config) { c.Checked = true })

	a := Malloc(64)
	p := Malloc(64)
	b := Malloc(64)
	Free(p)

	require.ErrorIs(t, recoverErr(func() { Free(p) }), alloc.ErrDoubleFree)
	require.ErrorIs(t, recoverErr(func() { Realloc(p, 128) }), alloc.ErrDoubleFree)
	require.ErrorIs(t, recoverErr(func() { Free(unsafe.Add(a, 8)) }), alloc.ErrInvalidPointer)

	Free(a)
	Free(b)
}

func TestDefaultHeapFromEnvironment(t *testing.T) {
	t.Setenv(alloc.EnvPartitions, "3")
	t.Setenv(alloc.EnvMinRegion, "128KiB")
	ResetForTesting(nil)
	t.Cleanup(func() { ResetForTesting(nil) })

	h := Default()
	assert.Equal(t, 3, h.Partitions())
	assert.Equal(t, uintptr(128<<10), h.Config().MinRegionSize)
}

func TestDefaultHeapBadEnvironmentFallsBack(t *testing.T) {
	t.Setenv(alloc.EnvPartitions, "lots")
	ResetForTesting(nil)
	t.Cleanup(func() { ResetForTesting(nil) })

	assert.Equal(t, alloc.DefaultConfig().Partitions, Default().Partitions())
}

func TestConcurrentMallocFree(t *testing.T) {
	resetHeap(t)

	var wg sync.WaitGroup
	ptrs := make(chan unsafe.Pointer, 256)
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				p := Malloc(uintptr(16 + (w*31+i)%900))
				if p == nil {
					t.Error("unexpected nil")
					return
				}
				if i%2 == 0 {
					ptrs <- p
				} else {
					Free(p)
				}
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		for p := range ptrs {
			Free(p)
		}
		close(done)
	}()
	wg.Wait()
	close(ptrs)
	<-done

	assert.Zero(t, Stats().InUseBlocks)
	_, err := Default().Verify()
	require.NoError(t, err)
}

func TestTrimReturnsMemory(t *testing.T) {
	resetHeap(t, func(c *alloc.Config) {
		c.Partitions = 1
		c.ReleaseEmptyRegions = false
	})

	var ptrs []unsafe.Pointer
	for range 4 {
		ptrs = append(ptrs, Malloc(40<<10))
	}
	for _, p := range ptrs {
		Free(p)
	}
	assert.Positive(t, Trim())
	assert.Equal(t, 1, Stats().Regions)
}
