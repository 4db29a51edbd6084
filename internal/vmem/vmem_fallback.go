//go:build !unix && !windows

package vmem

import (
	"fmt"
	"sync"
	"unsafe"
)

const fallbackPage = 4096

// live pins the Go slices backing each mapping until Unmap.
var live sync.Map

// PageSize returns the emulated page size.
func PageSize() uintptr { return fallbackPage }

// Map hands out page-aligned memory from the Go heap when the platform has no
// anonymous mapping facility.
func Map(n uintptr) ([]byte, error) {
	if n == 0 || n > maxMapping {
		return nil, fmt.Errorf("vmem: map %d bytes: %w", n, ErrNoMemory)
	}
	raw := make([]byte, n+fallbackPage)
	base := uintptr(unsafe.Pointer(&raw[0]))
	skip := (fallbackPage - base%fallbackPage) % fallbackPage
	data := raw[skip : skip+n : skip+n]
	live.Store(&data[0], raw)
	return data, nil
}

// Unmap drops the pin so the GC can reclaim the memory.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	live.Delete(&data[0])
	return nil
}

// Decommit zeroes the range; there is no OS to hand the pages back to.
func Decommit(data []byte) error {
	clear(data)
	return nil
}
