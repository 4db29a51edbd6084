//go:build windows

package vmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// PageSize returns the platform page size.
func PageSize() uintptr {
	return uintptr(windows.Getpagesize())
}

// Map reserves and commits n bytes of read/write memory.
func Map(n uintptr) ([]byte, error) {
	if n == 0 || n > maxMapping {
		return nil, fmt.Errorf("vmem: map %d bytes: %w", n, ErrNoMemory)
	}
	addr, err := windows.VirtualAlloc(0, n, windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("vmem: map %d bytes: %w: %v", n, ErrNoMemory, err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n), nil
}

// Unmap releases a reservation obtained from Map.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return windows.VirtualFree(uintptr(unsafe.Pointer(&data[0])), 0, windows.MEM_RELEASE)
}

// Decommit drops the physical pages behind data and commits fresh zero pages
// in their place, keeping the range usable.
func Decommit(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	size := uintptr(len(data))
	if err := windows.VirtualFree(addr, size, windows.MEM_DECOMMIT); err != nil {
		return err
	}
	_, err := windows.VirtualAlloc(addr, size, windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err
}
