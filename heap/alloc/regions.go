package alloc

import (
	"log/slog"
	"math"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/heapkit/heap/region"
	"github.com/joshuapare/heapkit/internal/format"
	"github.com/joshuapare/heapkit/internal/logger"
)

// maxGrowth caps a single region request at half the address space (and half
// of what a header can record), so page rounding never overflows.
const maxGrowth = min(format.MaxBlockSize>>1, math.MaxUint>>1)

// arenaRegion is one span owned by an arena.
type arenaRegion struct {
	region.Region
	dedicated bool // holds a single direct allocation
}

// growSize returns how many bytes to request from the source so a block of
// need bytes fits, and whether the request is a direct allocation.
// n is 0 when the request can never be satisfied.
func (a *Arena) growSize(need uintptr) (n uintptr, dedicated bool) {
	if need > maxGrowth {
		return 0, false
	}
	if need > a.cfg.DirectThreshold {
		return need + format.FenceSize, true
	}

	n = need + format.FenceSize
	if m := a.cfg.GrowthMultiplier; m > 1 && need <= (maxGrowth-format.FenceSize)/m {
		n = need*m + format.FenceSize
	}
	return max(n, a.cfg.MinRegionSize), false
}

// adopt takes ownership of r, lays out one free block followed by the fence
// and returns the free block. The block is not linked into the index.
//
// Region layout:
//
//	base                                   base+len-16   base+len
//	| header | free payload ............... | fence hdr |
func (a *Arena) adopt(r region.Region, dedicated bool) *format.Header {
	base := r.Base()
	n := r.Len()

	first := format.At(base, 0)
	first.Init(n-format.FenceSize, 0, a.id, format.StateFree)
	fence := format.At(base, n-format.FenceSize)
	fence.Init(format.FenceSize, n-format.FenceSize, a.id, format.StateInUse)

	i, _ := slices.BinarySearchFunc(a.regions, r.Start(), func(ar arenaRegion, addr uintptr) int {
		switch {
		case ar.Start() < addr:
			return -1
		case ar.Start() > addr:
			return 1
		}
		return 0
	})
	a.regions = slices.Insert(a.regions, i, arenaRegion{Region: r, dedicated: dedicated})
	if !dedicated {
		a.shared++
	}

	a.stats.GrowCalls++
	a.stats.GrowBytes += uint64(n)
	if dedicated {
		a.stats.DirectAllocs++
	}
	if a.onGrow != nil {
		a.onGrow(n)
	}
	if logger.Enabled(a.log, slog.LevelDebug) {
		a.log.Debug("region acquired",
			"partition", a.id,
			"size", humanize.IBytes(uint64(n)),
			"dedicated", dedicated,
			"regions", len(a.regions))
	}
	return first
}

// regionIndex returns the index of the region containing addr, or -1.
// Binary search over regions sorted by base address.
func (a *Arena) regionIndex(addr uintptr) int {
	lo, hi := 0, len(a.regions)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		r := a.regions[mid]
		switch {
		case addr < r.Start():
			hi = mid - 1
		case addr >= r.End():
			lo = mid + 1
		default:
			return mid
		}
	}
	return -1
}

// spansRegion reports whether the free block h covers its whole region.
func spansRegion(h *format.Header) bool {
	return h.PrevSize() == 0 && h.Next().IsFence()
}

// reclaimable reports whether the region at index i may go back to the
// source now that it holds nothing.
func (a *Arena) reclaimable(i int, force bool) bool {
	if a.regions[i].dedicated {
		return true
	}
	return (force || a.cfg.ReleaseEmptyRegions) && a.shared > a.cfg.RetainRegions
}

// detach drops the region at index i from the arena and queues it for
// release. The caller has already unlinked its free block.
func (a *Arena) detach(i int) {
	r := a.regions[i]
	a.regions = slices.Delete(a.regions, i, i+1)
	if !r.dedicated {
		a.shared--
	}
	a.reclaim = append(a.reclaim, r.Region)
	a.stats.RegionsReleased++
	a.stats.BytesReleased += uint64(r.Len())
}

// takeReclaimed hands over the regions detached since the last call. The
// caller releases them to the source, outside any lock.
func (a *Arena) takeReclaimed() []region.Region {
	out := a.reclaim
	a.reclaim = nil
	return out
}

// releaseRegions returns regions to src, logging failures. Release errors
// leave the mapping in place; nothing else references it.
func releaseRegions(src region.Source, log *slog.Logger, rs []region.Region) {
	for _, r := range rs {
		if err := src.Release(r); err != nil {
			log.Warn("region release failed", "base", r.Start(), "size", humanize.IBytes(uint64(r.Len())), "err", err)
			continue
		}
		if logger.Enabled(log, slog.LevelDebug) {
			log.Debug("region released", "size", humanize.IBytes(uint64(r.Len())))
		}
	}
}

// trim releases fully free regions beyond the retained count, then
// decommits the page-aligned interior of every remaining free block that
// spans at least one whole page. Returns the bytes handed back.
func (a *Arena) trim() uintptr {
	var released uintptr
	for i := len(a.regions) - 1; i >= 0; i-- {
		first := format.At(a.regions[i].Base(), 0)
		if first.IsFree() && spansRegion(first) && a.reclaimable(i, true) {
			released += a.regions[i].Len()
			a.index.remove(first)
			a.detach(i)
		}
	}

	page := a.src.PageSize()
	for _, r := range a.regions {
		for h := format.At(r.Base(), 0); !h.IsFence(); h = h.Next() {
			if !h.IsFree() {
				continue
			}
			lo := format.AlignTo(uintptr(h.Payload())+format.LinksSize, page)
			hi := h.Next().Addr() &^ (page - 1)
			if hi <= lo {
				continue
			}
			b := r.Bytes()[lo-r.Start() : hi-r.Start()]
			if err := a.src.Decommit(b); err != nil {
				a.log.Warn("decommit failed", "partition", a.id, "err", err)
				continue
			}
			released += hi - lo
		}
	}

	if released > 0 && logger.Enabled(a.log, slog.LevelDebug) {
		a.log.Debug("trim", "partition", a.id, "released", humanize.IBytes(uint64(released)))
	}
	return released
}
