package format

import (
	"sync/atomic"
	"unsafe"
)

// State is the lifecycle tag stored in the low bits of a header.
type State uint8

const (
	// StateFree marks a block that sits in exactly one free-list bucket.
	// Its first LinksSize payload bytes hold FreeLinks.
	StateFree State = 0

	// StateInUse marks a block owned by a caller. The payload is opaque.
	StateInUse State = 1

	// StatePending marks a block released from another partition that is
	// waiting on its owner's remote stack. It is neither in a bucket nor
	// available for coalescing.
	StatePending State = 2
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateInUse:
		return "in-use"
	case StatePending:
		return "pending"
	default:
		return "invalid"
	}
}

// Header precedes every block payload.
//
// Header layout (native endian, two 64-bit words):
//
//	Offset  Bits    Description
//	0x00    0-1     State
//	0x00    4-47    Total block size including the header (multiple of 16)
//	0x00    48-63   Owner partition id
//	0x08    0-47    Size of the physically previous block, 0 for the first
//	0x08    48-63   Magic
type Header struct {
	word uint64
	prev uint64
}

// FreeLinks overlays the payload of a free block and threads it into its
// bucket. It is only meaningful while the header state is StateFree or
// StatePending (where Next links the remote stack).
type FreeLinks struct {
	Prev *Header
	Next *Header
}

// At returns the header located off bytes past base.
func At(base unsafe.Pointer, off uintptr) *Header {
	return (*Header)(unsafe.Add(base, off))
}

// FromPayload returns the header of the block whose payload starts at p.
func FromPayload(p unsafe.Pointer) *Header {
	return (*Header)(unsafe.Add(p, -HeaderSize))
}

// Init writes a complete header. Any previous contents are discarded.
func (h *Header) Init(size, prevSize uintptr, owner uint16, s State) {
	h.word = uint64(size)&sizeMask | uint64(owner)<<ownerShift | uint64(s)&stateMask
	h.prev = uint64(prevSize)&low48Mask | uint64(Magic)<<magicShift
}

// load reads the first word atomically, so a walk over a region may race
// with MarkPending on a neighbor.
func (h *Header) load() uint64 { return atomic.LoadUint64(&h.word) }

// Size returns the total block size including the header.
func (h *Header) Size() uintptr { return uintptr(h.load() & sizeMask) }

// PayloadSize returns the number of bytes available to the caller.
func (h *Header) PayloadSize() uintptr { return h.Size() - HeaderSize }

// State returns the lifecycle tag. Loads are atomic to pair with MarkPending.
func (h *Header) State() State { return State(h.load() & stateMask) }

// Owner returns the id of the partition the block belongs to.
func (h *Header) Owner() uint16 { return uint16(h.load() >> ownerShift) }

// PrevSize returns the size of the physically previous block, or 0 when this
// is the first block of its region.
func (h *Header) PrevSize() uintptr { return uintptr(h.prev & low48Mask) }

// Magic returns the tag written by Init.
func (h *Header) Magic() uint16 { return uint16(h.prev >> magicShift) }

// Valid reports whether the header carries the allocator's magic tag.
func (h *Header) Valid() bool { return h.Magic() == Magic }

// IsFree reports whether the block is linked into a bucket.
func (h *Header) IsFree() bool { return h.State() == StateFree }

// IsFence reports whether h is the closing header of a region.
func (h *Header) IsFence() bool {
	return h.Size() == FenceSize && h.State() == StateInUse
}

// SetSize replaces the size, keeping owner and state.
func (h *Header) SetSize(size uintptr) {
	h.word = h.word&^sizeMask | uint64(size)&sizeMask
}

// SetState replaces the state, keeping owner and size.
func (h *Header) SetState(s State) {
	h.word = h.word&^stateMask | uint64(s)&stateMask
}

// MarkPending tags an in-use block as queued on a remote stack. It is the
// only header write made without the owning partition's lock, so it only
// touches the state bits of a block the caller owns.
func (h *Header) MarkPending() {
	w := atomic.LoadUint64(&h.word)
	atomic.StoreUint64(&h.word, w&^stateMask|uint64(StatePending))
}

// SetPrevSize records the size of the physically previous block.
func (h *Header) SetPrevSize(size uintptr) {
	h.prev = h.prev&^low48Mask | uint64(size)&low48Mask
}

// Next returns the physically following header. The caller must not call it
// on a fence.
func (h *Header) Next() *Header {
	return (*Header)(unsafe.Add(unsafe.Pointer(h), h.Size()))
}

// Prev returns the physically previous header, or nil for the first block.
func (h *Header) Prev() *Header {
	ps := h.PrevSize()
	if ps == 0 {
		return nil
	}
	return (*Header)(unsafe.Add(unsafe.Pointer(h), -int(ps)))
}

// Payload returns the address handed to callers.
func (h *Header) Payload() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), HeaderSize)
}

// Links returns the free-list links overlaying the payload.
func (h *Header) Links() *FreeLinks {
	return (*FreeLinks)(h.Payload())
}

// Addr returns the header address as an integer, for ordering and range checks.
func (h *Header) Addr() uintptr {
	return uintptr(unsafe.Pointer(h))
}
