// Package vmem provides platform-specific helpers for reserving and releasing
// anonymous virtual memory. It is the only place that talks to the OS.
package vmem

import "errors"

// ErrNoMemory is returned when the OS refuses a mapping.
var ErrNoMemory = errors.New("vmem: out of memory")

// maxMapping caps a single request below the point where int conversions
// in the syscall layer would overflow.
const maxMapping = uintptr(^uint(0) >> 2)
