package alloc

import (
	"sync/atomic"

	"github.com/joshuapare/heapkit/internal/format"
)

// remoteStack collects blocks released while their owning partition was
// locked by someone else. It is a lock-free LIFO threaded through the
// payloads of the pending blocks; only the owner pops, and it pops
// everything at once.
type remoteStack struct {
	head atomic.Pointer[format.Header]
}

// push tags h pending and links it onto the stack. The caller owns h.
func (s *remoteStack) push(h *format.Header) {
	h.MarkPending()
	l := h.Links()
	for {
		old := s.head.Load()
		l.Next = old
		if s.head.CompareAndSwap(old, h) {
			return
		}
	}
}

// empty reports whether no release is queued.
func (s *remoteStack) empty() bool { return s.head.Load() == nil }

// takeAll detaches the whole stack and returns its first block.
func (s *remoteStack) takeAll() *format.Header {
	if s.empty() {
		return nil
	}
	return s.head.Swap(nil)
}
