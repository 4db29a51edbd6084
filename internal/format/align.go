package format

// Align returns n rounded up to the next Alignment boundary.
//
// Example:
//
//	Align(1)  = 16
//	Align(16) = 16
//	Align(17) = 32
func Align(n uintptr) uintptr {
	return (n + AlignmentMask) &^ AlignmentMask
}

// AlignTo returns n rounded up to a multiple of a, which must be a power of two.
// Used for page rounding of region sizes.
func AlignTo(n, a uintptr) uintptr {
	return (n + a - 1) &^ (a - 1)
}

// IsAligned reports whether n sits on an Alignment boundary.
func IsAligned(n uintptr) bool {
	return n&AlignmentMask == 0
}

// BlockSize returns the total block size (header included) needed to hold a
// payload of n bytes. The result is aligned and never below MinBlockSize.
// ok is false when the request cannot be represented in a header.
func BlockSize(n uintptr) (size uintptr, ok bool) {
	if uint64(n) > MaxBlockSize-HeaderSize-AlignmentMask || n > ^uintptr(0)-HeaderSize-AlignmentMask {
		return 0, false
	}
	size = Align(n + HeaderSize)
	if size < MinBlockSize {
		size = MinBlockSize
	}
	return size, true
}
