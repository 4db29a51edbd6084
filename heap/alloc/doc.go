// Package alloc provides block allocation and free-list management over
// memory mapped outside the Go heap.
//
// # Overview
//
// This package implements a general-purpose dynamic allocator with the four
// classic entry points: allocate, release, zero-allocate and resize-allocate.
// Memory comes from page-aligned regions supplied by a region.Source (anonymous
// mmap by default). Regions are carved into blocks that carry a 16-byte header;
// free blocks are kept in segregated free lists, split on allocation and
// merged with their physical neighbors on release.
//
// The garbage collector never scans or moves this memory. Payloads must not
// hold the only reference to a Go heap object.
//
// # Types
//
// Arena: single-partition engine
//
//   - Not goroutine-safe
//   - Alloc, Calloc, Realloc, Free, UsableSize, Trim
//   - Verify walks every region and bucket and checks structural invariants
//
// Heap: concurrency guard over several arenas
//
//   - One mutex per partition, partitions never share blocks
//   - Releases route to the owning partition; a busy owner gets the block
//     through a lock-free remote stack and merges it on its next operation
//   - Region acquisition and release run outside partition locks
//   - Local(i) pins allocations to one partition
//
// # Usage Example
//
//	h := alloc.New(alloc.DefaultConfig())
//	defer h.Close()
//
//	p, err := h.Alloc(256)
//	if err != nil {
//	    return err
//	}
//	buf := unsafe.Slice((*byte)(p), 256)
//	copy(buf, "hello")
//
//	p, err = h.Realloc(p, 4096)
//	if err != nil {
//	    return err
//	}
//	err = h.Free(p)
//
// # Block Layout
//
//	+0x00  state (2 bits) | size (bits 4-47) | owner partition (bits 48-63)
//	+0x08  previous block size (bits 0-47) | magic 0xB10C (bits 48-63)
//	+0x10  payload (16-byte aligned)
//
// A free block stores its bucket links in the first 16 payload bytes, so the
// smallest block is 32 bytes. Every region ends with a 16-byte in-use fence,
// which keeps forward walks inside the region.
//
// # Size Classes
//
// The default table (ConfigGeneral) has one class per 16-byte step from 32
// bytes to 1 KiB and 25% steps from 1 KiB to 1 MiB, followed by one unbounded
// class. Lookup does a bounded first-fit scan of the smallest class that can
// hold the request, then takes the head of the next non-empty class, found
// through a bitmap. Released blocks go to the head of their bucket.
//
// # Growth
//
// A miss maps a new region of max(need*GrowthMultiplier, MinRegionSize)
// bytes rounded up to whole pages. Blocks larger than DirectThreshold get a
// dedicated region that is unmapped as soon as the block is released. With
// ReleaseEmptyRegions set, a region whose blocks are all free goes back to
// the source once more than RetainRegions regions are held.
//
// # Checked Mode
//
// Config.Checked makes Free and Realloc verify the pointer (alignment,
// region membership, magic, owner, state) and return ErrInvalidPointer or
// ErrDoubleFree instead of corrupting the heap.
//
// # Zero and Failure Policies
//
//   - Alloc(0) returns a unique minimum-size block
//   - Realloc(nil, n) is Alloc(n); Realloc(p, 0) frees p and returns nil
//   - Calloc fails with ErrOverflow when count*size overflows
//   - A failed Realloc leaves the original block intact
//
// # Statistics
//
// Stats reports cumulative counters (allocations, splits, coalesces, remote
// releases, growth) and current occupancy. Utilization is in-use bytes over
// mapped bytes.
package alloc
