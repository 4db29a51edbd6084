// Package format defines the in-memory layout of heap blocks: the fixed
// 16-byte header that precedes every payload, the free-list links that
// overlay the payload of free blocks, and the alignment rules that every
// block size obeys. Nothing here takes locks or owns memory; callers hand
// in pointers into regions they manage.
package format

const (
	// HeaderSize is the size of the block header in bytes. The payload
	// starts immediately after it.
	HeaderSize = 16

	// Alignment is the boundary every block and every payload is aligned
	// to. 16 bytes covers the largest fundamental type on amd64/arm64.
	Alignment = 16

	// AlignmentMask masks the low bits that must be zero in an aligned size.
	AlignmentMask = Alignment - 1

	// LinksSize is the number of payload bytes a free block needs for its
	// FreeLinks.
	LinksSize = 16

	// MinBlockSize is the smallest block that can exist on its own: a header
	// plus room for the free-list links once it is released.
	MinBlockSize = HeaderSize + LinksSize

	// FenceSize is the size of the in-use header that closes every region.
	FenceSize = HeaderSize

	// MaxBlockSize is the largest size the 48-bit size field can record.
	MaxBlockSize = (1<<sizeBits - 1) &^ AlignmentMask

	// Magic tags every header written by the allocator. Checked mode
	// rejects pointers whose header does not carry it.
	Magic uint16 = 0xB10C

	// MaxOwner is the largest partition id that fits in a header.
	MaxOwner = 1<<16 - 1
)

const (
	sizeBits   = 48
	ownerShift = sizeBits
	magicShift = sizeBits
	stateMask  = 0x3
	sizeMask   = uint64(MaxBlockSize)
	low48Mask  = uint64(1)<<sizeBits - 1
)
