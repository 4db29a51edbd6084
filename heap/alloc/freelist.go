package alloc

import (
	"math/bits"

	"github.com/joshuapare/heapkit/internal/format"
)

// maxClassScan bounds the first-fit walk of the smallest sufficient class.
// Past it, the head of the next non-empty class is taken instead.
const maxClassScan = 32

// bucket is an intrusive doubly linked list of free blocks of one size class.
type bucket struct {
	head  *format.Header
	count int
}

// freeIndex is the segregated free-list index of one arena.
//
// Every free block is linked into exactly one bucket, chosen by its total
// size. Bucket numClasses is the unbounded class for blocks larger than the
// last boundary. nonEmpty has one bit per bucket so the next populated class
// is found with a few TrailingZeros calls instead of a linear probe.
type freeIndex struct {
	classes  *sizeClassTable
	buckets  []bucket
	nonEmpty []uint64

	blocks int
	bytes  uintptr
}

func newFreeIndex(classes *sizeClassTable) *freeIndex {
	n := classes.NumClasses() + 1
	return &freeIndex{
		classes:  classes,
		buckets:  make([]bucket, n),
		nonEmpty: make([]uint64, (n+63)/64),
	}
}

func (x *freeIndex) largeClass() int { return x.classes.NumClasses() }

// insert marks h free and pushes it at the head of its bucket.
// Most recently freed blocks are found first.
func (x *freeIndex) insert(h *format.Header) {
	sc := x.classes.getSizeClass(h.Size())
	b := &x.buckets[sc]

	h.SetState(format.StateFree)
	l := h.Links()
	l.Prev = nil
	l.Next = b.head
	if b.head != nil {
		b.head.Links().Prev = h
	}
	b.head = h
	b.count++
	x.nonEmpty[sc/64] |= 1 << (sc % 64)

	x.blocks++
	x.bytes += h.Size()
}

// remove unlinks h from its bucket. The state is left as free; callers
// immediately re-tag or merge the block.
func (x *freeIndex) remove(h *format.Header) {
	sc := x.classes.getSizeClass(h.Size())
	b := &x.buckets[sc]

	l := h.Links()
	if l.Prev != nil {
		l.Prev.Links().Next = l.Next
	} else {
		b.head = l.Next
	}
	if l.Next != nil {
		l.Next.Links().Prev = l.Prev
	}
	l.Prev, l.Next = nil, nil
	b.count--
	if b.head == nil {
		x.nonEmpty[sc/64] &^= 1 << (sc % 64)
	}

	x.blocks--
	x.bytes -= h.Size()
}

// find returns a free block of at least size bytes, or nil. The block stays
// linked; callers remove it.
//
// Lookup order:
//  1. first fit within the smallest sufficient class, at most maxClassScan
//     blocks deep (unbounded for the large class)
//  2. head of the next non-empty larger class; every block there fits
//  3. nil
func (x *freeIndex) find(size uintptr) *format.Header {
	sc := x.classes.getSizeClass(size)
	limit := maxClassScan
	if sc == x.largeClass() {
		limit = -1
	}
	for h, n := x.buckets[sc].head, 0; h != nil && n != limit; h, n = h.Links().Next, n+1 {
		if h.Size() >= size {
			return h
		}
	}

	if next := x.nextNonEmpty(sc + 1); next >= 0 {
		return x.buckets[next].head
	}
	return nil
}

// nextNonEmpty returns the first populated class at or after from, or -1.
func (x *freeIndex) nextNonEmpty(from int) int {
	n := len(x.buckets)
	if from >= n {
		return -1
	}
	w := from / 64
	word := x.nonEmpty[w] &^ (1<<(from%64) - 1)
	for {
		if word != 0 {
			sc := w*64 + bits.TrailingZeros64(word)
			if sc >= n {
				return -1
			}
			return sc
		}
		w++
		if w >= len(x.nonEmpty) {
			return -1
		}
		word = x.nonEmpty[w]
	}
}

// reset drops every bucket. Used when all regions are released at once.
func (x *freeIndex) reset() {
	clear(x.buckets)
	clear(x.nonEmpty)
	x.blocks = 0
	x.bytes = 0
}
