package alloc

import (
	"fmt"
	"log/slog"
	"math/bits"
	"unsafe"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/heapkit/heap/region"
	"github.com/joshuapare/heapkit/internal/format"
	"github.com/joshuapare/heapkit/internal/logger"
)

// Arena is a single-partition allocator over regions obtained from a
// region.Source. It implements allocate, release, zero-allocate and
// resize-allocate with segregated free lists, block splitting and
// immediate coalescing.
//
// Arena instances are not goroutine-safe. Heap wraps several of them behind
// per-partition locks; a standalone Arena suits a single goroutine or a
// caller that serializes access itself.
type Arena struct {
	id      uint16
	cfg     Config
	src     region.Source
	log     *slog.Logger
	classes *sizeClassTable
	index   *freeIndex

	regions []arenaRegion // sorted by base address
	shared  int           // non-dedicated regions
	reclaim []region.Region

	inUse      int
	inUseBytes uintptr
	stats      Stats

	// Test hook: called after each region is adopted with its length.
	onGrow func(n uintptr)
}

// NewArena returns an empty arena. No memory is mapped until the first
// allocation.
func NewArena(cfg Config) *Arena {
	return newArena(0, cfg.normalize())
}

func newArena(id uint16, cfg Config) *Arena {
	classes := newSizeClassTable(cfg.SizeClasses)
	return &Arena{
		id:      id,
		cfg:     cfg,
		src:     cfg.Source,
		log:     cfg.Logger,
		classes: classes,
		index:   newFreeIndex(classes),
	}
}

// Alloc returns a 16-byte aligned payload of at least size bytes.
// Size 0 yields a unique minimum-size block.
func (a *Arena) Alloc(size uintptr) (unsafe.Pointer, error) {
	need, err := blockSizeFor(size)
	if err != nil {
		return nil, err
	}
	h, err := a.allocBlock(need)
	if err != nil {
		return nil, err
	}
	return h.Payload(), nil
}

// Calloc allocates count*size bytes and zeroes the whole payload.
func (a *Arena) Calloc(count, size uintptr) (unsafe.Pointer, error) {
	n, err := mulSize(count, size)
	if err != nil {
		return nil, err
	}
	p, err := a.Alloc(n)
	if err != nil {
		return nil, err
	}
	format.Zero(p, format.FromPayload(p).PayloadSize())
	return p, nil
}

// Realloc resizes the block at p to hold size bytes.
//
// A nil p behaves like Alloc. Size 0 releases p and returns nil. The block is
// shrunk or grown in place when possible; otherwise the contents move to a
// new block and p is released. On error p is left untouched.
func (a *Arena) Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	if p == nil {
		return a.Alloc(size)
	}
	if size == 0 {
		return nil, a.Free(p)
	}
	h, err := a.block(p)
	if err != nil {
		return nil, err
	}
	need, err := blockSizeFor(size)
	if err != nil {
		return nil, err
	}

	a.stats.ReallocCalls++
	if a.resizeInPlace(h, need) {
		return p, nil
	}

	q, err := a.allocBlock(need)
	if err != nil {
		return nil, err
	}
	format.Copy(q.Payload(), p, min(h.PayloadSize(), size))
	a.release(h)
	a.flush()
	return q.Payload(), nil
}

// Free releases the block at p. A nil p is a no-op.
func (a *Arena) Free(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}
	h, err := a.block(p)
	if err != nil {
		return err
	}
	a.release(h)
	a.flush()
	return nil
}

// UsableSize returns the payload capacity of the block at p, which may
// exceed the size originally requested.
func (a *Arena) UsableSize(p unsafe.Pointer) uintptr {
	if p == nil {
		return 0
	}
	return format.FromPayload(p).PayloadSize()
}

// Trim returns fully free regions beyond the retained count to the source
// and decommits the interior pages of the remaining free blocks.
// Returns the number of bytes handed back.
func (a *Arena) Trim() uintptr {
	n := a.trim()
	a.flush()
	return n
}

// Stats returns a snapshot of the arena's counters and occupancy.
func (a *Arena) Stats() Stats {
	s := a.stats
	s.Regions = len(a.regions)
	for _, r := range a.regions {
		s.MappedBytes += uint64(r.Len())
	}
	s.InUseBlocks = a.inUse
	s.InUseBytes = uint64(a.inUseBytes)
	s.FreeBlocks = a.index.blocks
	s.FreeBytes = uint64(a.index.bytes)
	return s
}

// Close returns every region to the source, live blocks included.
// The arena is empty afterwards and may be reused.
func (a *Arena) Close() error {
	var firstErr error
	for _, r := range a.regions {
		if err := a.src.Release(r.Region); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.regions = nil
	a.shared = 0
	a.index.reset()
	a.inUse = 0
	a.inUseBytes = 0
	a.flush()
	return firstErr
}

// flush releases regions detached by the last operation.
func (a *Arena) flush() {
	if len(a.reclaim) > 0 {
		releaseRegions(a.src, a.log, a.takeReclaimed())
	}
}

// allocBlock serves need bytes from the index, growing once on a miss.
func (a *Arena) allocBlock(need uintptr) (*format.Header, error) {
	if h := a.take(need); h != nil {
		return h, nil
	}
	n, dedicated := a.growSize(need)
	r, err := acquireRegion(a.src, n, need)
	if err != nil {
		a.stats.OutOfMemory++
		return nil, err
	}
	return a.place(r, dedicated, need), nil
}

// take removes a block of at least need bytes from the index and hands it
// out, or returns nil on a miss.
func (a *Arena) take(need uintptr) *format.Header {
	h := a.index.find(need)
	if h == nil {
		return nil
	}
	a.index.remove(h)
	a.carve(h, need)
	return h
}

// place adopts a fresh region and serves need bytes from it. A dedicated
// region hands out its whole block.
func (a *Arena) place(r region.Region, dedicated bool, need uintptr) *format.Header {
	h := a.adopt(r, dedicated)
	if dedicated {
		a.markInUse(h)
		return h
	}
	a.index.insert(h)
	return a.take(need)
}

// carve splits an unlinked free block down to need bytes when the remainder
// can stand alone, links the remainder, and marks the block in use.
func (a *Arena) carve(h *format.Header, need uintptr) {
	if h.Size()-need >= format.MinBlockSize {
		// h was free, so its successor is not: the tail needs no merge.
		a.index.insert(a.split(h, need))
	}
	a.markInUse(h)
}

func (a *Arena) markInUse(h *format.Header) {
	h.SetState(format.StateInUse)
	a.inUse++
	a.inUseBytes += h.Size()
	a.stats.AllocCalls++
}

// split shrinks h to need bytes and returns the new tail block, tagged free
// and not yet linked.
func (a *Arena) split(h *format.Header, need uintptr) *format.Header {
	rem := h.Size() - need
	h.SetSize(need)
	tail := h.Next()
	tail.Init(rem, need, a.id, format.StateFree)
	tail.Next().SetPrevSize(rem)
	a.stats.SplitCount++
	return tail
}

// release returns an in-use or pending block to the index.
func (a *Arena) release(h *format.Header) {
	a.inUse--
	a.inUseBytes -= h.Size()
	a.stats.FreeCalls++
	a.coalesce(h)
}

// coalesce merges h with free physical neighbors and links the result,
// unless the merged block spans a whole region that can be returned.
func (a *Arena) coalesce(h *format.Header) {
	size := h.Size()
	h.SetState(format.StateFree)

	if next := h.Next(); next.IsFree() {
		a.index.remove(next)
		size += next.Size()
		h.SetSize(size)
		a.stats.CoalesceForward++
	}
	if prev := h.Prev(); prev != nil && prev.IsFree() {
		a.index.remove(prev)
		size += prev.Size()
		prev.SetSize(size)
		h = prev
		a.stats.CoalesceBackward++
	}
	h.Next().SetPrevSize(size)

	if spansRegion(h) {
		if i := a.regionIndex(h.Addr()); i >= 0 && a.reclaimable(i, false) {
			a.detach(i)
			return
		}
	}
	a.index.insert(h)
}

// resizeInPlace adjusts h to need bytes without moving it, absorbing a free
// successor when growing. Reports false when the block must move.
func (a *Arena) resizeInPlace(h *format.Header, need uintptr) bool {
	cur := h.Size()
	if need > cur {
		next := h.Next()
		if !next.IsFree() || cur+next.Size() < need {
			return false
		}
		a.index.remove(next)
		cur += next.Size()
		h.SetSize(cur)
		h.Next().SetPrevSize(cur)
		a.inUseBytes += next.Size()
		a.stats.CoalesceForward++
	}

	if cur-need >= format.MinBlockSize {
		tail := a.split(h, need)
		a.inUseBytes -= tail.Size()
		a.coalesce(tail)
	}
	a.stats.ReallocInPlace++
	return true
}

// block maps a payload pointer to its header, validating it in checked mode.
func (a *Arena) block(p unsafe.Pointer) (*format.Header, error) {
	if a.cfg.Checked {
		if err := a.check(p); err != nil {
			return nil, err
		}
	}
	return format.FromPayload(p), nil
}

// check verifies that p is the payload of an in-use block of this arena.
func (a *Arena) check(p unsafe.Pointer) error {
	addr := uintptr(p)
	if err := a.classify(p); err != nil {
		if logger.Enabled(a.log, slog.LevelWarn) {
			a.log.Warn("invalid release", "partition", a.id, "ptr", fmt.Sprintf("%#x", addr), "err", err)
		}
		return fmt.Errorf("%w: %#x", err, addr)
	}
	return nil
}

func (a *Arena) classify(p unsafe.Pointer) error {
	addr := uintptr(p)
	if !format.IsAligned(addr) || addr < format.HeaderSize {
		return ErrInvalidPointer
	}
	i := a.regionIndex(addr - format.HeaderSize)
	if i < 0 || addr >= a.regions[i].End()-format.FenceSize {
		return ErrInvalidPointer
	}
	h := format.FromPayload(p)
	if !h.Valid() || h.Owner() != a.id {
		return ErrInvalidPointer
	}
	switch h.State() {
	case format.StateInUse:
		return nil
	case format.StateFree, format.StatePending:
		return ErrDoubleFree
	}
	return ErrInvalidPointer
}

// blockSizeFor converts a payload request to a block size.
func blockSizeFor(size uintptr) (uintptr, error) {
	need, ok := format.BlockSize(size)
	if !ok {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	return need, nil
}

// mulSize returns count*size, failing when the product overflows uintptr.
func mulSize(count, size uintptr) (uintptr, error) {
	hi, lo := bits.Mul64(uint64(count), uint64(size))
	if hi != 0 || lo > uint64(^uintptr(0)) {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, count, size)
	}
	return uintptr(lo), nil
}

// acquireRegion asks src for n bytes on behalf of a need-byte block.
func acquireRegion(src region.Source, n, need uintptr) (region.Region, error) {
	if n == 0 {
		return region.Region{}, fmt.Errorf("%w: %d byte block", ErrOutOfMemory, need)
	}
	r, err := src.Acquire(n)
	if err != nil {
		return region.Region{}, fmt.Errorf("alloc: grow by %s: %w", humanize.IBytes(uint64(n)), err)
	}
	return r, nil
}
