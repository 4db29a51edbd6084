//go:build unix

package vmem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// PageSize returns the platform page size.
func PageSize() uintptr {
	return uintptr(unix.Getpagesize())
}

// Map reserves n bytes of anonymous read/write memory. n must be a multiple
// of PageSize. The pages are zero-filled by the kernel.
func Map(n uintptr) ([]byte, error) {
	if n == 0 || n > maxMapping {
		return nil, fmt.Errorf("vmem: map %d bytes: %w", n, ErrNoMemory)
	}
	data, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		if errors.Is(err, unix.ENOMEM) || errors.Is(err, unix.EAGAIN) {
			return nil, fmt.Errorf("vmem: map %d bytes: %w", n, ErrNoMemory)
		}
		return nil, fmt.Errorf("vmem: map %d bytes: %w", n, err)
	}
	return data, nil
}

// Unmap returns a mapping obtained from Map to the kernel.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	err := unix.Munmap(data)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}

// Decommit tells the kernel the pages backing data are no longer needed.
// The range stays mapped and reads back as zero on next touch.
func Decommit(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Madvise(data, unix.MADV_DONTNEED)
}
