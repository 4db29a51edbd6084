// Package region acquires and releases the page-aligned spans of memory that
// the allocator carves into blocks. A Source is the narrow interface to the
// operating system's virtual-memory facility; OS returns the real one and
// Limit wraps any Source with a byte quota.
//
// Sources must be safe for concurrent use: the allocator calls them without
// holding its own locks.
package region

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/heapkit/internal/format"
	"github.com/joshuapare/heapkit/internal/vmem"
)

// ErrOutOfMemory indicates the source cannot satisfy a request.
var ErrOutOfMemory = errors.New("region: out of memory")

// Region is a page-aligned span handed out by a Source.
type Region struct {
	data []byte
}

// New wraps memory obtained elsewhere as a Region. data must be page aligned
// and stay valid until the Region is released.
func New(data []byte) Region {
	return Region{data: data}
}

// Base returns the first address of the region.
func (r Region) Base() unsafe.Pointer {
	if len(r.data) == 0 {
		return nil
	}
	return unsafe.Pointer(&r.data[0])
}

// Start returns the base address as an integer.
func (r Region) Start() uintptr { return uintptr(r.Base()) }

// End returns the address one past the last byte.
func (r Region) End() uintptr { return r.Start() + r.Len() }

// Len returns the region length in bytes.
func (r Region) Len() uintptr { return uintptr(len(r.data)) }

// Bytes exposes the region as a slice.
func (r Region) Bytes() []byte { return r.data }

// Contains reports whether addr falls inside the region.
func (r Region) Contains(addr uintptr) bool {
	return addr >= r.Start() && addr < r.End()
}

// IsZero reports whether r is the zero Region.
func (r Region) IsZero() bool { return len(r.data) == 0 }

// Source hands out and takes back regions.
type Source interface {
	// Acquire maps at least min bytes, rounded up to the page size.
	// Fails with ErrOutOfMemory when the mapping cannot be made.
	Acquire(min uintptr) (Region, error)

	// Release unmaps r. r must hold no live blocks.
	Release(r Region) error

	// Decommit returns the physical pages behind b to the OS while keeping
	// the range mapped. b must be page aligned and lie within one region.
	Decommit(b []byte) error

	// PageSize returns the granularity of Acquire.
	PageSize() uintptr
}

type osSource struct {
	page uintptr
}

// OS returns the Source backed by anonymous memory mappings.
func OS() Source {
	return osSource{page: vmem.PageSize()}
}

func (s osSource) PageSize() uintptr { return s.page }

func (s osSource) Acquire(min uintptr) (Region, error) {
	n := format.AlignTo(min, s.page)
	if n < min {
		return Region{}, fmt.Errorf("acquire %d bytes: %w", min, ErrOutOfMemory)
	}
	data, err := vmem.Map(n)
	if err != nil {
		if errors.Is(err, vmem.ErrNoMemory) {
			return Region{}, fmt.Errorf("acquire %d bytes: %w", n, ErrOutOfMemory)
		}
		return Region{}, err
	}
	return Region{data: data}, nil
}

func (s osSource) Release(r Region) error {
	return vmem.Unmap(r.data)
}

func (s osSource) Decommit(b []byte) error {
	return vmem.Decommit(b)
}

// Limited caps the number of bytes a Source may have outstanding.
type Limited struct {
	src  Source
	max  uintptr
	used atomic.Uintptr
	peak atomic.Uintptr
}

// Limit wraps src so that Acquire fails once max bytes are mapped.
func Limit(src Source, max uintptr) *Limited {
	return &Limited{src: src, max: max}
}

// Used returns the bytes currently mapped through l.
func (l *Limited) Used() uintptr { return l.used.Load() }

// Peak returns the highest value Used has reached.
func (l *Limited) Peak() uintptr { return l.peak.Load() }

// PageSize implements Source.
func (l *Limited) PageSize() uintptr { return l.src.PageSize() }

// Acquire implements Source.
func (l *Limited) Acquire(min uintptr) (Region, error) {
	n := format.AlignTo(min, l.src.PageSize())
	var now uintptr
	for {
		used := l.used.Load()
		if n < min || used+n > l.max || used+n < used {
			return Region{}, fmt.Errorf("acquire %d bytes with %d of %d in use: %w", n, used, l.max, ErrOutOfMemory)
		}
		if l.used.CompareAndSwap(used, used+n) {
			now = used + n
			break
		}
	}
	r, err := l.src.Acquire(n)
	if err != nil {
		l.used.Add(-n)
		return Region{}, err
	}
	if extra := r.Len() - n; extra > 0 {
		now = l.used.Add(extra)
	}
	for {
		p := l.peak.Load()
		if now <= p || l.peak.CompareAndSwap(p, now) {
			break
		}
	}
	return r, nil
}

// Release implements Source.
func (l *Limited) Release(r Region) error {
	if err := l.src.Release(r); err != nil {
		return err
	}
	l.used.Add(-r.Len())
	return nil
}

// Decommit implements Source.
func (l *Limited) Decommit(b []byte) error {
	return l.src.Decommit(b)
}
