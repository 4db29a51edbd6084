package alloc

import (
	"math"
	"strings"
)

// SizeClassConfig defines the allocation size class strategy.
// Different configurations can be tested to find optimal performance/fragmentation tradeoff.
// All sizes are total block sizes, header included.
type SizeClassConfig struct {
	// Name for this configuration (for benchmarking)
	Name string

	// Small allocation settings (linear increments)
	SmallMin       uintptr // Smallest block size (format.MinBlockSize)
	SmallMax       uintptr // Max for linear increments
	SmallIncrement uintptr // Increment size for small allocations (multiple of 16)

	// Medium allocation settings (logarithmic growth)
	MediumMax    uintptr // Max before the unbounded class
	GrowthFactor float64 // Exponential growth factor (1.25, 1.5, 2.0, etc.)
}

// Predefined configurations.
var (
	// ConfigGeneral: one class per 16-byte step up to 1 KiB, then 25% steps to
	// 1 MiB. Small requests always find an exact-size class.
	ConfigGeneral = SizeClassConfig{
		Name:           "General",
		SmallMin:       32,
		SmallMax:       1024,
		SmallIncrement: 16,
		MediumMax:      1 << 20,
		GrowthFactor:   1.25,
	}

	// ConfigFineGrained: Many small buckets, good for varied workloads
	// 32-512 step 16 (30 classes) + 512-1M log growth (~19 classes).
	ConfigFineGrained = SizeClassConfig{
		Name:           "FineGrained",
		SmallMin:       32,
		SmallMax:       512,
		SmallIncrement: 16,
		MediumMax:      1 << 20,
		GrowthFactor:   1.5,
	}

	// ConfigBalanced: Good balance between index size and granularity
	// 32-512 step 32 (15 classes) + 512-64K log growth (~12 classes).
	ConfigBalanced = SizeClassConfig{
		Name:           "Balanced",
		SmallMin:       32,
		SmallMax:       512,
		SmallIncrement: 32,
		MediumMax:      64 << 10,
		GrowthFactor:   1.5,
	}

	// ConfigCoarse: power-of-two classes only, faster operations but more
	// first-fit scanning inside each class.
	ConfigCoarse = SizeClassConfig{
		Name:           "Coarse",
		SmallMin:       32,
		SmallMax:       32,
		SmallIncrement: 16,
		MediumMax:      64 << 10,
		GrowthFactor:   2.0,
	}

	// DefaultSizeClasses is used when a Config leaves SizeClasses empty.
	DefaultSizeClasses = ConfigGeneral
)

// SizeClassPresets lists the predefined configurations in display order.
var SizeClassPresets = []SizeClassConfig{ConfigGeneral, ConfigFineGrained, ConfigBalanced, ConfigCoarse}

// LookupSizeClasses returns the preset whose name matches, ignoring case.
func LookupSizeClasses(name string) (SizeClassConfig, bool) {
	for _, c := range SizeClassPresets {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return SizeClassConfig{}, false
}

// ClassRange is the block size span of one free-list class, bounds
// inclusive. Max is 0 for the unbounded class.
type ClassRange struct {
	Min uintptr
	Max uintptr
}

// Ranges returns the span of every class in ascending order. The last entry
// is the unbounded class shared by all larger blocks.
func (c SizeClassConfig) Ranges() []ClassRange {
	t := newSizeClassTable(c)
	n := t.NumClasses()
	out := make([]ClassRange, 0, n+1)
	for sc := range n {
		out = append(out, ClassRange{Min: t.lowerBound(sc), Max: t.boundaries[sc]})
	}
	return append(out, ClassRange{Min: t.lowerBound(n)})
}

// sizeClassTable holds the computed size class boundaries.
type sizeClassTable struct {
	boundaries []uintptr // Upper bound (inclusive) for each size class
	numClasses int
}

// newSizeClassTable computes size class boundaries from config.
func newSizeClassTable(config SizeClassConfig) *sizeClassTable {
	table := &sizeClassTable{
		boundaries: make([]uintptr, 0, 128),
	}

	// Phase 1: Small allocations (linear increments)
	if config.SmallIncrement > 0 {
		for size := config.SmallMin; size < config.SmallMax; size += config.SmallIncrement {
			table.boundaries = append(table.boundaries, size+config.SmallIncrement-1)
		}
	}

	// Phase 2: Medium allocations (logarithmic growth)
	if config.SmallMax < config.MediumMax {
		size := max(config.SmallMax, config.SmallMin)
		for size < config.MediumMax {
			nextSize := uintptr(math.Ceil(float64(size) * config.GrowthFactor))
			if nextSize <= size {
				nextSize = size + 1 // Ensure progress
			}
			table.boundaries = append(table.boundaries, nextSize-1)
			size = nextSize
		}
	}

	table.numClasses = len(table.boundaries)
	return table
}

// getSizeClass returns the size class index for a given block size.
// Returns table.numClasses for sizes above every boundary (the unbounded class).
func (t *sizeClassTable) getSizeClass(size uintptr) int {
	// Binary search for the smallest boundary >= size
	lo, hi := 0, t.numClasses-1

	for lo <= hi {
		mid := (lo + hi) / 2
		if size <= t.boundaries[mid] {
			if mid == 0 || size > t.boundaries[mid-1] {
				return mid
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}

	return t.numClasses
}

// lowerBound returns the smallest block size that maps to class sc.
func (t *sizeClassTable) lowerBound(sc int) uintptr {
	if sc == 0 {
		return 0
	}
	return t.boundaries[sc-1] + 1
}

// NumClasses returns the number of bounded size classes (excluding the unbounded one).
func (t *sizeClassTable) NumClasses() int {
	return t.numClasses
}
