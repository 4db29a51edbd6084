package alloc

import (
	"fmt"

	"github.com/joshuapare/heapkit/internal/format"
)

// Report summarizes a consistency walk.
type Report struct {
	Regions       int
	Blocks        int   // Blocks walked, fences excluded
	InUse         int   // Blocks handed out
	Pending       int   // Blocks waiting on a remote stack
	Free          int   // Blocks in the free index
	FreePerRegion []int // Free block count of each region, in address order
	LargestFree   uintptr
}

// Add accumulates o into r.
func (r *Report) Add(o Report) {
	r.Regions += o.Regions
	r.Blocks += o.Blocks
	r.InUse += o.InUse
	r.Pending += o.Pending
	r.Free += o.Free
	r.FreePerRegion = append(r.FreePerRegion, o.FreePerRegion...)
	r.LargestFree = max(r.LargestFree, o.LargestFree)
}

// Verify walks every region and every bucket and checks the structural
// invariants of the arena:
//   - block sizes are aligned, at least MinBlockSize, and sum to the region length
//   - each header records its predecessor's size and carries the magic tag
//   - no two physically adjacent blocks are both free
//   - every free block sits in exactly one bucket, the one its size maps to
//   - bucket links are consistent in both directions and the bitmap matches
//
// Violations wrap ErrCorrupt.
func (a *Arena) Verify() (Report, error) {
	rep := Report{Regions: len(a.regions)}
	seen := make(map[*format.Header]bool, a.index.blocks)

	for ri, r := range a.regions {
		if ri > 0 && a.regions[ri-1].End() > r.Start() {
			return rep, corrupt("region %d overlaps its predecessor", ri)
		}
		var (
			off      uintptr
			prevSize uintptr
			prevFree bool
			free     int
		)
		for {
			if off+format.HeaderSize > r.Len() {
				return rep, corrupt("region %d: walk ran past the end at offset %#x", ri, off)
			}
			h := format.At(r.Base(), off)
			if !h.Valid() {
				return rep, corrupt("region %d: bad magic %#x at offset %#x", ri, h.Magic(), off)
			}
			if h.Owner() != a.id {
				return rep, corrupt("region %d: owner %d at offset %#x, want %d", ri, h.Owner(), off, a.id)
			}
			if h.PrevSize() != prevSize {
				return rep, corrupt("region %d: prev size %d at offset %#x, want %d", ri, h.PrevSize(), off, prevSize)
			}
			if h.IsFence() {
				if off+format.FenceSize != r.Len() {
					return rep, corrupt("region %d: fence at offset %#x, region length %d", ri, off, r.Len())
				}
				break
			}

			size := h.Size()
			if size < format.MinBlockSize || !format.IsAligned(size) || off+size > r.Len()-format.FenceSize {
				return rep, corrupt("region %d: bad block size %d at offset %#x", ri, size, off)
			}
			rep.Blocks++

			switch h.State() {
			case format.StateFree:
				if prevFree {
					return rep, corrupt("region %d: adjacent free blocks at offset %#x", ri, off)
				}
				seen[h] = false
				free++
				rep.LargestFree = max(rep.LargestFree, size)
			case format.StateInUse:
				rep.InUse++
			case format.StatePending:
				rep.Pending++
			default:
				return rep, corrupt("region %d: bad state %d at offset %#x", ri, h.State(), off)
			}
			prevFree = h.IsFree()
			prevSize = size
			off += size
		}
		rep.FreePerRegion = append(rep.FreePerRegion, free)
		rep.Free += free
	}

	if err := a.verifyIndex(seen); err != nil {
		return rep, err
	}
	return rep, nil
}

// verifyIndex checks bucket membership against the free blocks found by the
// region walk. seen maps each walked free block to false; it is flipped to
// true once the block is found in a bucket.
func (a *Arena) verifyIndex(seen map[*format.Header]bool) error {
	total := 0
	for sc := range a.index.buckets {
		b := &a.index.buckets[sc]
		var prev *format.Header
		n := 0
		for h := b.head; h != nil; h = h.Links().Next {
			linked, ok := seen[h]
			switch {
			case !ok:
				return corrupt("class %d: block %#x is not a free block of this arena", sc, h.Addr())
			case linked:
				return corrupt("class %d: block %#x linked twice", sc, h.Addr())
			}
			seen[h] = true
			if got := a.classes.getSizeClass(h.Size()); got != sc {
				return corrupt("block %#x of size %d in class %d, want %d", h.Addr(), h.Size(), sc, got)
			}
			if h.Links().Prev != prev {
				return corrupt("class %d: broken back link at %#x", sc, h.Addr())
			}
			prev = h
			n++
		}
		if n != b.count {
			return corrupt("class %d: %d blocks linked, count says %d", sc, n, b.count)
		}
		bit := a.index.nonEmpty[sc/64]&(1<<(sc%64)) != 0
		if bit != (n > 0) {
			return corrupt("class %d: bitmap says non-empty=%v with %d blocks", sc, bit, n)
		}
		total += n
	}
	if total != len(seen) || total != a.index.blocks {
		return corrupt("index holds %d blocks (counter %d), walk found %d free", total, a.index.blocks, len(seen))
	}
	return nil
}

func corrupt(msg string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(msg, args...))
}
