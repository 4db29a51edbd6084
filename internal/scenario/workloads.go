package scenario

import (
	"fmt"
	"math/rand/v2"
	"unsafe"

	"github.com/joshuapare/heapkit/internal/format"
)

// stamp fills n bytes with c and marks the first and last byte.
func stamp(p unsafe.Pointer, n uintptr, c byte) {
	b := format.Bytes(p, n)
	for i := range b {
		b[i] = c
	}
	b[0] = 's'
	b[n-1] = 'e'
}

// checkStamp verifies the marks written by stamp over n bytes.
func checkStamp(p unsafe.Pointer, n uintptr) error {
	b := format.Bytes(p, n)
	if b[0] != 's' || b[n-1] != 'e' {
		return fmt.Errorf("block %p: contents differ from what was written", p)
	}
	return nil
}

func checkAligned(p unsafe.Pointer) error {
	if !format.IsAligned(uintptr(p)) {
		return fmt.Errorf("block %p is not %d-byte aligned", p, format.Alignment)
	}
	return nil
}

func checkFill(p unsafe.Pointer, n uintptr, c byte) error {
	for i, got := range format.Bytes(p, n) {
		if got != c {
			return fmt.Errorf("block %p byte %d = %#x, want %#x", p, i, got, c)
		}
	}
	return nil
}

var reuseScenario = Scenario{
	Name:        "reuse",
	Description: "free A between live blocks, then a smaller request lands at A's address",
	Run: func(a Allocator, _ *rand.Rand) error {
		pa, err := a.Alloc(100)
		if err != nil {
			return err
		}
		pb, err := a.Alloc(200)
		if err != nil {
			return err
		}
		if err := a.Free(pa); err != nil {
			return err
		}
		pc, err := a.Alloc(50)
		if err != nil {
			return err
		}
		if pc != pa {
			return fmt.Errorf("C at %p, want A's block at %p", pc, pa)
		}
		if err := a.Free(pb); err != nil {
			return err
		}
		return a.Free(pc)
	},
}

const (
	mediumOps  = 10000
	mediumSize = 1000
)

var allocFreeScenario = Scenario{
	Name:        "alloc-free",
	Description: "10000 x 1000-byte blocks, every other one freed at once; passes only if freed blocks are reused",
	Quota:       mediumOps * mediumSize * 3 / 4,
	Run: func(a Allocator, _ *rand.Rand) error {
		return interleavedFree(a, func() (unsafe.Pointer, error) { return a.Alloc(mediumSize) })
	},
}

var callocFreeScenario = Scenario{
	Name:        "calloc-free",
	Description: "alloc-free with calloc; every block must come back zeroed even when reused",
	Quota:       mediumOps * mediumSize * 3 / 4,
	Run: func(a Allocator, _ *rand.Rand) error {
		return interleavedFree(a, func() (unsafe.Pointer, error) {
			p, err := a.Calloc(mediumSize, 1)
			if err != nil {
				return nil, err
			}
			return p, checkFill(p, mediumSize, 0)
		})
	},
}

func interleavedFree(a Allocator, next func() (unsafe.Pointer, error)) error {
	ptrs := make([]unsafe.Pointer, mediumOps)
	for i := range ptrs {
		p, err := next()
		if err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
		if err := checkAligned(p); err != nil {
			return err
		}
		stamp(p, mediumSize, byte(i))
		ptrs[i] = p
		if i%2 == 0 {
			if err := checkStamp(p, mediumSize); err != nil {
				return err
			}
			if err := a.Free(p); err != nil {
				return err
			}
		}
	}
	for i := 1; i < len(ptrs); i += 2 {
		if err := checkStamp(ptrs[i], mediumSize); err != nil {
			return err
		}
		if err := a.Free(ptrs[i]); err != nil {
			return err
		}
	}
	return nil
}

var reallocScenario = Scenario{
	Name:        "realloc",
	Description: "10000 random blocks, each resized to a new random size; contents must survive",
	Run: func(a Allocator, rng *rand.Rand) error {
		const maxSize, minSize = 4096, 2
		ptrs := make([]unsafe.Pointer, mediumOps)
		sizes := make([]uintptr, mediumOps)
		for i := range ptrs {
			sizes[i] = uintptr(rng.IntN(maxSize) + minSize)
			p, err := a.Alloc(sizes[i])
			if err != nil {
				return err
			}
			if err := checkAligned(p); err != nil {
				return err
			}
			stamp(p, sizes[i], byte(i))
			ptrs[i] = p
		}
		for i := range ptrs {
			old := sizes[i]
			sizes[i] = uintptr(rng.IntN(maxSize) + minSize)
			p, err := a.Realloc(ptrs[i], sizes[i])
			if err != nil {
				return fmt.Errorf("realloc %d -> %d: %w", old, sizes[i], err)
			}
			if err := checkAligned(p); err != nil {
				return err
			}
			b := format.Bytes(p, sizes[i])
			if b[0] != 's' || (old < sizes[i] && b[old-1] != 'e') {
				return fmt.Errorf("realloc %d -> %d: contents not carried over", old, sizes[i])
			}
			stamp(p, sizes[i], byte(i+1))
			ptrs[i] = p
		}
		for i, p := range ptrs {
			if err := checkStamp(p, sizes[i]); err != nil {
				return err
			}
			if err := a.Free(p); err != nil {
				return err
			}
		}
		return nil
	},
}

var coalescingScenario = Scenario{
	Name:        "coalescing",
	Description: "free every odd block, then double every even one; passes only if neighbors merge",
	Quota:       mediumOps * 2 * mediumSize * 3 / 4,
	Run: func(a Allocator, _ *rand.Rand) error {
		const grown = 2 * mediumSize
		ptrs := make([]unsafe.Pointer, mediumOps)
		for i := range ptrs {
			p, err := a.Alloc(mediumSize)
			if err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			stamp(p, mediumSize, byte(i))
			ptrs[i] = p
		}
		for i := 1; i < len(ptrs); i += 2 {
			if err := checkStamp(ptrs[i], mediumSize); err != nil {
				return err
			}
			if err := a.Free(ptrs[i]); err != nil {
				return err
			}
		}
		for i := 0; i < len(ptrs); i += 2 {
			p, err := a.Realloc(ptrs[i], grown)
			if err != nil {
				return fmt.Errorf("realloc block %d: %w", i, err)
			}
			if err := checkStamp(p, mediumSize); err != nil {
				return err
			}
			stamp(p, grown, byte(i+1))
			ptrs[i] = p
		}
		for i := 0; i < len(ptrs); i += 2 {
			if err := checkStamp(ptrs[i], grown); err != nil {
				return err
			}
			if err := a.Free(ptrs[i]); err != nil {
				return err
			}
		}
		return nil
	},
}

var coalescingMultipleScenario = Scenario{
	Name:        "coalescing-multiple",
	Description: "free four of every five 500-byte blocks, then fit larger blocks into the merged gaps",
	Quota:       mediumOps * 500 * 3 / 2,
	Run: func(a Allocator, rng *rand.Rand) error {
		const size = 500
		ptrs := make([]unsafe.Pointer, mediumOps)
		for i := range ptrs {
			p, err := a.Alloc(size)
			if err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			stamp(p, size, byte(i))
			ptrs[i] = p
		}
		for i, p := range ptrs {
			if i%5 == 0 {
				continue
			}
			if err := checkStamp(p, size); err != nil {
				return err
			}
			if err := a.Free(p); err != nil {
				return err
			}
		}

		newPtrs := make([]unsafe.Pointer, mediumOps/4)
		newSizes := make([]uintptr, len(newPtrs))
		for i := range newPtrs {
			newSizes[i] = uintptr(rng.IntN(3*size) + size)
			p, err := a.Alloc(newSizes[i])
			if err != nil {
				return fmt.Errorf("new block %d of %d bytes: %w", i, newSizes[i], err)
			}
			stamp(p, newSizes[i], byte(i))
			newPtrs[i] = p
		}
		for i := 0; i < len(ptrs); i += 5 {
			if err := checkStamp(ptrs[i], size); err != nil {
				return err
			}
			if err := a.Free(ptrs[i]); err != nil {
				return err
			}
		}
		for i, p := range newPtrs {
			if err := checkStamp(p, newSizes[i]); err != nil {
				return err
			}
			if err := a.Free(p); err != nil {
				return err
			}
		}
		return nil
	},
}

var overlapScenario = Scenario{
	Name:        "overlap",
	Description: "recursively split blocks in three with realloc and malloc; no two live blocks may overlap",
	Run: func(a Allocator, _ *rand.Rand) error {
		for n := uintptr(1 << 20); n > overlapMin; n /= 3 {
			mem, err := a.Alloc(n)
			if err != nil {
				return err
			}
			fillBytes(mem, n, 0xff)
			out, err := breakUp(a, mem, 0xff, n)
			if err != nil {
				return err
			}
			if err := a.Free(out); err != nil {
				return err
			}
		}
		return nil
	},
}

const overlapMin = 1024

func fillBytes(p unsafe.Pointer, n uintptr, c byte) {
	b := format.Bytes(p, n)
	for i := range b {
		b[i] = c
	}
}

func overlaps(p, q unsafe.Pointer, n uintptr) bool {
	a, b := uintptr(p), uintptr(q)
	return (a <= b && b < a+n) || (b <= a && a < b+n)
}

// breakUp shrinks mem to a third, allocates two more thirds beside it,
// recurses into the middle one and grows it back to n bytes.
func breakUp(a Allocator, mem unsafe.Pointer, c byte, n uintptr) (unsafe.Pointer, error) {
	if n < overlapMin {
		return mem, nil
	}
	third := n / 3

	sr1, err := a.Realloc(mem, third)
	if err != nil {
		return nil, err
	}
	sr2, err := a.Alloc(third)
	if err != nil {
		return nil, err
	}
	sr3, err := a.Alloc(third)
	if err != nil {
		return nil, err
	}
	if overlaps(sr1, sr2, third) || overlaps(sr1, sr3, third) || overlaps(sr2, sr3, third) {
		return nil, fmt.Errorf("blocks %p, %p, %p of %d bytes overlap", sr1, sr2, sr3, third)
	}
	if err := checkFill(sr1, third, c); err != nil {
		return nil, err
	}

	fillBytes(sr1, third, 0xab)
	fillBytes(sr2, third, 0xcd)
	fillBytes(sr3, third, 0xef)
	if err := a.Free(sr1); err != nil {
		return nil, err
	}
	if err := a.Free(sr3); err != nil {
		return nil, err
	}

	sr2, err = breakUp(a, sr2, 0xcd, third)
	if err != nil {
		return nil, err
	}
	sr2, err = a.Realloc(sr2, n)
	if err != nil {
		return nil, err
	}
	if err := checkFill(sr2, third, 0xcd); err != nil {
		return nil, err
	}
	fillBytes(sr2, n, c)
	return sr2, nil
}
