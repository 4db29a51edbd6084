package format

import "unsafe"

// Bytes views n bytes at p as a slice. The memory is not managed by the Go
// runtime; the slice must not outlive the block.
func Bytes(p unsafe.Pointer, n uintptr) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

// Zero clears n bytes at p.
func Zero(p unsafe.Pointer, n uintptr) {
	clear(Bytes(p, n))
}

// Copy moves n bytes from src to dst. The ranges may overlap.
func Copy(dst, src unsafe.Pointer, n uintptr) {
	copy(Bytes(dst, n), Bytes(src, n))
}
