package alloc

import (
	"errors"

	"github.com/joshuapare/heapkit/heap/region"
)

var (
	// ErrOutOfMemory indicates that no free block was large enough and the
	// region source refused to grow the heap.
	ErrOutOfMemory = region.ErrOutOfMemory

	// ErrOverflow indicates that count*size in Calloc does not fit in a uintptr.
	ErrOverflow = errors.New("alloc: size computation overflows")

	// ErrTooLarge indicates a request larger than a block header can record.
	ErrTooLarge = errors.New("alloc: request exceeds maximum block size")

	// ErrInvalidPointer indicates a pointer that was not returned by this heap.
	ErrInvalidPointer = errors.New("alloc: invalid pointer")

	// ErrDoubleFree indicates a release of a block that is not in use.
	ErrDoubleFree = errors.New("alloc: block is not in use")

	// ErrCorrupt is returned by Verify when a structural invariant is broken.
	ErrCorrupt = errors.New("alloc: heap corrupted")
)
