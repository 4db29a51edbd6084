// Package scenario holds the reproducible workloads heapctl runs against an
// allocator: fixed allocation sequences that check reuse, coalescing,
// resizing and zeroing, and a multi-goroutine stress test.
package scenario

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
	"unsafe"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/region"
)

// Allocator is the error-returning allocation surface shared by alloc.Heap,
// alloc.Local and alloc.Arena.
type Allocator interface {
	Alloc(size uintptr) (unsafe.Pointer, error)
	Calloc(count, size uintptr) (unsafe.Pointer, error)
	Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error)
	Free(p unsafe.Pointer) error
}

var (
	_ Allocator = (*alloc.Heap)(nil)
	_ Allocator = (*alloc.Local)(nil)
	_ Allocator = (*alloc.Arena)(nil)
)

// ErrLeak indicates blocks still in use after a scenario finished.
var ErrLeak = errors.New("scenario: blocks still in use")

// Scenario is one named workload.
type Scenario struct {
	Name        string
	Description string

	// Quota caps the bytes the heap may map, 0 for no cap. A scenario that
	// only passes when freed memory is reused sets it below its total
	// allocation volume.
	Quota uintptr

	Run func(a Allocator, rng *rand.Rand) error
}

// Result describes one scenario run.
type Result struct {
	Name     string
	Elapsed  time.Duration
	Peak     uintptr // Highest mapped byte count
	Quota    uintptr
	Stats    alloc.Stats
	Err      error
	Verified bool
}

// Passed reports whether the scenario ran clean.
func (r Result) Passed() bool { return r.Err == nil && r.Verified }

// All returns every scenario in a stable order.
func All() []Scenario {
	return []Scenario{
		reuseScenario,
		allocFreeScenario,
		callocFreeScenario,
		reallocScenario,
		coalescingScenario,
		coalescingMultipleScenario,
		overlapScenario,
	}
}

// Lookup returns the scenario with the given name.
func Lookup(name string) (Scenario, bool) {
	for _, s := range All() {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

// Run executes s against a fresh heap built from base. Quota-bound scenarios
// get small regions so the quota measures reuse rather than region rounding.
// Everything runs on partition 0.
func Run(s Scenario, base alloc.Config, seed uint64) Result {
	cfg := base
	cfg.Partitions = 1
	if cfg.Source == nil {
		cfg.Source = region.OS()
	}
	quota := ^uintptr(0)
	if s.Quota > 0 {
		cfg.MinRegionSize = 64 << 10
		cfg.GrowthMultiplier = 1
		quota = s.Quota
	}
	limited := region.Limit(cfg.Source, quota)
	cfg.Source = limited

	hp := alloc.New(cfg)
	defer hp.Close()

	res := Result{Name: s.Name, Quota: s.Quota}
	start := time.Now()
	res.Err = s.Run(hp.Local(0), rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
	res.Elapsed = time.Since(start)

	res.Stats = hp.Stats()
	res.Peak = limited.Peak()

	if _, err := hp.Verify(); err != nil {
		res.Err = errors.Join(res.Err, err)
		return res
	}
	if res.Err == nil && res.Stats.InUseBlocks != 0 {
		res.Err = fmt.Errorf("%w: %d", ErrLeak, res.Stats.InUseBlocks)
	}
	res.Verified = true
	return res
}
