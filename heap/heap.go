// Package heap is the process-wide front end of the allocator: Malloc, Free,
// Calloc and Realloc over a lazily built default alloc.Heap.
//
// The default heap is configured from HEAPKIT_* environment variables on
// first use (see alloc.ConfigFromEnv) and lives for the rest of the process.
// Functions here follow C conventions: allocation failure yields nil, and
// releasing a pointer the heap does not own panics when checked mode catches
// it. Use alloc.Heap directly for error values.
//
// Memory handed out lives outside the Go heap and is never scanned by the
// garbage collector, so payloads must not hold the only reference to Go
// objects. None of these functions may be called from a signal handler.
package heap

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/internal/logger"
)

var (
	mu  sync.Mutex // serializes construction and reset
	def atomic.Pointer[alloc.Heap]
)

// Default returns the process-wide heap, building it on first use.
func Default() *alloc.Heap {
	if h := def.Load(); h != nil {
		return h
	}
	mu.Lock()
	defer mu.Unlock()
	if h := def.Load(); h != nil {
		return h
	}
	h := alloc.New(envConfig())
	def.Store(h)
	return h
}

func envConfig() alloc.Config {
	logger.FromEnv()
	cfg, err := alloc.ConfigFromEnv()
	if err != nil {
		logger.Warn("ignoring heap environment", "err", err)
		cfg = alloc.DefaultConfig()
	}
	return cfg
}

// ResetForTesting releases every region of the default heap and replaces it
// with one built from cfg, or from the environment when cfg is nil. Pointers
// obtained before the reset become invalid. Not for production use.
func ResetForTesting(cfg *alloc.Config) {
	mu.Lock()
	defer mu.Unlock()
	if h := def.Load(); h != nil {
		if err := h.Close(); err != nil {
			logger.Warn("heap reset", "err", err)
		}
	}
	var c alloc.Config
	if cfg != nil {
		c = *cfg
	} else {
		c = envConfig()
	}
	def.Store(alloc.New(c))
}

// Malloc returns a 16-byte aligned block of at least size bytes, or nil when
// memory is exhausted. Malloc(0) returns a unique minimum-size block.
func Malloc(size uintptr) unsafe.Pointer {
	p, err := Default().Alloc(size)
	if err != nil {
		return nil
	}
	return p
}

// Calloc returns a zeroed block of count*size bytes, or nil on overflow or
// exhaustion.
func Calloc(count, size uintptr) unsafe.Pointer {
	p, err := Default().Calloc(count, size)
	if err != nil {
		return nil
	}
	return p
}

// Realloc resizes the block at p. Realloc(nil, n) is Malloc(n) and
// Realloc(p, 0) frees p and returns nil. On failure it returns nil and p is
// still valid.
func Realloc(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	q, err := Default().Realloc(p, size)
	if err != nil {
		fault("realloc", p, err)
		return nil
	}
	return q
}

// Free releases the block at p. Free(nil) does nothing.
func Free(p unsafe.Pointer) {
	if err := Default().Free(p); err != nil {
		fault("free", p, err)
	}
}

// UsableSize returns the payload capacity of the block at p.
func UsableSize(p unsafe.Pointer) uintptr {
	return Default().UsableSize(p)
}

// Trim hands unused memory back to the operating system and returns the
// number of bytes released.
func Trim() uintptr {
	return Default().Trim()
}

// Stats returns the default heap's counters.
func Stats() alloc.Stats {
	return Default().Stats()
}

// fault panics on pointer misuse. Other errors are left to the caller.
func fault(op string, p unsafe.Pointer, err error) {
	if errors.Is(err, alloc.ErrInvalidPointer) || errors.Is(err, alloc.ErrDoubleFree) {
		logger.Error("heap fault", "op", op, "ptr", fmt.Sprintf("%p", p), "err", err)
		panic(fmt.Errorf("heap: %s(%p): %w", op, p, err))
	}
}
