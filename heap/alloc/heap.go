package alloc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/joshuapare/heapkit/internal/format"
)

// partition is one independently locked arena plus the stack through which
// other goroutines hand back its blocks while the lock is busy.
type partition struct {
	mu     sync.Mutex
	arena  *Arena
	remote remoteStack
	_      cpu.CacheLinePad
}

// drain returns every block queued on the remote stack to the arena.
// Requires pt.mu.
func (pt *partition) drain() {
	h := pt.remote.takeAll()
	for h != nil {
		next := h.Links().Next
		pt.arena.release(h)
		pt.arena.stats.RemoteFrees++
		h = next
	}
}

// Heap is a goroutine-safe allocator made of independently locked
// partitions. Any goroutine may call any method at any time.
//
// Allocation picks a partition with a per-P affinity hint and falls back to
// probing the others with TryLock, so goroutines on different Ps rarely
// contend. A block always returns to the partition that carved it: if that
// partition's lock is busy, the block is queued on its remote stack and
// merged on the partition's next locked operation.
type Heap struct {
	cfg   Config
	parts []*partition

	affinity sync.Pool // *int partition hints, cached per P
	next     atomic.Uint32
	oom      atomic.Uint64
}

// New builds a Heap. No memory is mapped until the first allocation.
func New(cfg Config) *Heap {
	cfg = cfg.normalize()
	hp := &Heap{
		cfg:   cfg,
		parts: make([]*partition, cfg.Partitions),
	}
	for i := range hp.parts {
		hp.parts[i] = &partition{arena: newArena(uint16(i), cfg)}
	}
	hp.affinity.New = func() any {
		i := int(hp.next.Add(1)-1) % len(hp.parts)
		return &i
	}
	return hp
}

// Partitions returns the number of partitions.
func (hp *Heap) Partitions() int { return len(hp.parts) }

// Config returns the normalized configuration the heap runs with.
func (hp *Heap) Config() Config { return hp.cfg }

// lockAny locks and returns a partition for an allocation. The hinted
// partition is tried first, then the rest in order; when all are busy it
// waits on the hinted one.
func (hp *Heap) lockAny() *partition {
	hint := hp.affinity.Get().(*int)
	defer hp.affinity.Put(hint)

	n := len(hp.parts)
	for i := range n {
		k := (*hint + i) % n
		if pt := hp.parts[k]; pt.mu.TryLock() {
			*hint = k
			return pt
		}
	}
	pt := hp.parts[*hint]
	pt.mu.Lock()
	return pt
}

// unlock releases pt and then returns any regions it detached to the source.
// Releases queued while pt was held are drained here when the lock is still
// free, so an idle partition does not keep them pending.
func (hp *Heap) unlock(pt *partition) {
	for {
		rs := pt.arena.takeReclaimed()
		pt.mu.Unlock()
		if len(rs) > 0 {
			releaseRegions(hp.cfg.Source, hp.cfg.Logger, rs)
		}
		if pt.remote.empty() || !pt.mu.TryLock() {
			return
		}
		pt.drain()
	}
}

// owner returns the partition that carved the block at p.
func (hp *Heap) owner(p unsafe.Pointer) (*partition, error) {
	if hp.cfg.Checked {
		return hp.locate(p)
	}
	id := int(format.FromPayload(p).Owner())
	if id >= len(hp.parts) {
		return nil, fmt.Errorf("%w: %#x has owner %d", ErrInvalidPointer, uintptr(p), id)
	}
	return hp.parts[id], nil
}

// locate finds the partition holding p by region lookup alone, without
// reading memory at p.
func (hp *Heap) locate(p unsafe.Pointer) (*partition, error) {
	addr := uintptr(p)
	if format.IsAligned(addr) && addr >= format.HeaderSize {
		for _, pt := range hp.parts {
			pt.mu.Lock()
			found := pt.arena.regionIndex(addr-format.HeaderSize) >= 0
			pt.mu.Unlock()
			if found {
				return pt, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %#x", ErrInvalidPointer, addr)
}

// Alloc returns a 16-byte aligned payload of at least size bytes.
// Size 0 yields a unique minimum-size block.
func (hp *Heap) Alloc(size uintptr) (unsafe.Pointer, error) {
	need, err := blockSizeFor(size)
	if err != nil {
		return nil, err
	}
	return hp.allocOn(hp.lockAny(), need)
}

// allocOn serves need bytes from the locked partition pt and unlocks it.
// On a miss the lock is dropped while the source maps a new region; the
// region is then adopted under the lock, and the lookup runs again over
// everything the partition holds by then.
func (hp *Heap) allocOn(pt *partition, need uintptr) (unsafe.Pointer, error) {
	pt.drain()
	if h := pt.arena.take(need); h != nil {
		hp.unlock(pt)
		return h.Payload(), nil
	}

	n, dedicated := pt.arena.growSize(need)
	pt.mu.Unlock()
	r, err := acquireRegion(hp.cfg.Source, n, need)
	if err != nil {
		hp.oom.Add(1)
		return nil, err
	}

	pt.mu.Lock()
	pt.drain()
	h := pt.arena.place(r, dedicated, need)
	hp.unlock(pt)
	return h.Payload(), nil
}

// Calloc allocates count*size bytes and zeroes the whole payload.
func (hp *Heap) Calloc(count, size uintptr) (unsafe.Pointer, error) {
	n, err := mulSize(count, size)
	if err != nil {
		return nil, err
	}
	p, err := hp.Alloc(n)
	if err != nil {
		return nil, err
	}
	format.Zero(p, format.FromPayload(p).PayloadSize())
	return p, nil
}

// Realloc resizes the block at p to hold size bytes. Semantics match
// Arena.Realloc. A moved block is allocated from any partition.
func (hp *Heap) Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	return hp.realloc(p, size, hp.Alloc)
}

func (hp *Heap) realloc(p unsafe.Pointer, size uintptr, alloc func(uintptr) (unsafe.Pointer, error)) (unsafe.Pointer, error) {
	if p == nil {
		return alloc(size)
	}
	if size == 0 {
		return nil, hp.Free(p)
	}
	need, err := blockSizeFor(size)
	if err != nil {
		return nil, err
	}
	pt, err := hp.owner(p)
	if err != nil {
		return nil, err
	}

	pt.mu.Lock()
	pt.drain()
	h, err := pt.arena.block(p)
	if err != nil {
		hp.unlock(pt)
		return nil, err
	}
	pt.arena.stats.ReallocCalls++
	if pt.arena.resizeInPlace(h, need) {
		hp.unlock(pt)
		return p, nil
	}
	old := h.PayloadSize()
	hp.unlock(pt)

	q, err := alloc(size)
	if err != nil {
		return nil, err
	}
	format.Copy(q, p, min(old, size))
	if err := hp.Free(p); err != nil {
		return nil, err
	}
	return q, nil
}

// Free releases the block at p. A nil p is a no-op.
//
// If the owning partition is busy the release is deferred through its remote
// stack, except in checked mode where Free waits so that misuse is reported
// to the caller.
func (hp *Heap) Free(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}
	pt, err := hp.owner(p)
	if err != nil {
		return err
	}

	if hp.cfg.Checked {
		pt.mu.Lock()
		pt.drain()
		h, err := pt.arena.block(p)
		if err == nil {
			pt.arena.release(h)
		}
		hp.unlock(pt)
		return err
	}

	h := format.FromPayload(p)
	if pt.mu.TryLock() {
		pt.drain()
		pt.arena.release(h)
		hp.unlock(pt)
		return nil
	}
	pt.remote.push(h)
	// The holder may have unlocked before the push landed.
	if pt.mu.TryLock() {
		pt.drain()
		hp.unlock(pt)
	}
	return nil
}

// UsableSize returns the payload capacity of the block at p.
func (hp *Heap) UsableSize(p unsafe.Pointer) uintptr {
	if p == nil {
		return 0
	}
	return format.FromPayload(p).PayloadSize()
}

// Trim runs Arena.Trim on every partition in turn and returns the total
// number of bytes handed back. Decommit happens under each partition's lock.
func (hp *Heap) Trim() uintptr {
	var total uintptr
	for _, pt := range hp.parts {
		pt.mu.Lock()
		pt.drain()
		total += pt.arena.trim()
		hp.unlock(pt)
	}
	return total
}

// Stats returns the sum of every partition's counters.
func (hp *Heap) Stats() Stats {
	var s Stats
	for _, pt := range hp.parts {
		pt.mu.Lock()
		pt.drain()
		s.Add(pt.arena.Stats())
		hp.unlock(pt)
	}
	s.OutOfMemory += hp.oom.Load()
	return s
}

// PartitionStats returns one snapshot per partition, in partition order.
func (hp *Heap) PartitionStats() []Stats {
	out := make([]Stats, len(hp.parts))
	for i, pt := range hp.parts {
		pt.mu.Lock()
		pt.drain()
		out[i] = pt.arena.Stats()
		hp.unlock(pt)
	}
	return out
}

// Verify locks every partition, drains pending releases and checks each
// arena. The heap is quiescent for the duration of the walk.
func (hp *Heap) Verify() (Report, error) {
	for _, pt := range hp.parts {
		pt.mu.Lock()
	}
	defer func() {
		for _, pt := range hp.parts {
			hp.unlock(pt)
		}
	}()

	var rep Report
	for i, pt := range hp.parts {
		pt.drain()
		r, err := pt.arena.Verify()
		rep.Add(r)
		if err != nil {
			return rep, fmt.Errorf("partition %d: %w", i, err)
		}
	}
	return rep, nil
}

// Close returns every region of every partition to the source. Blocks still
// in use become invalid. The Heap stays usable and maps afresh on demand.
func (hp *Heap) Close() error {
	var firstErr error
	for _, pt := range hp.parts {
		pt.mu.Lock()
		pt.remote.takeAll()
		if err := pt.arena.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		pt.mu.Unlock()
	}
	return firstErr
}

// Local returns a handle whose allocations always come from partition i
// (modulo the partition count). Releases still route to the owning partition.
func (hp *Heap) Local(i int) *Local {
	n := len(hp.parts)
	return &Local{hp: hp, pt: hp.parts[(i%n+n)%n]}
}

// Local binds allocations to one partition of a Heap. It suits worker pools
// with one long-lived goroutine per partition. A Local is safe for
// concurrent use; callers sharing one simply contend on its lock.
type Local struct {
	hp *Heap
	pt *partition
}

// Alloc allocates from the bound partition, waiting for its lock.
func (l *Local) Alloc(size uintptr) (unsafe.Pointer, error) {
	need, err := blockSizeFor(size)
	if err != nil {
		return nil, err
	}
	l.pt.mu.Lock()
	return l.hp.allocOn(l.pt, need)
}

// Calloc allocates count*size zeroed bytes from the bound partition.
func (l *Local) Calloc(count, size uintptr) (unsafe.Pointer, error) {
	n, err := mulSize(count, size)
	if err != nil {
		return nil, err
	}
	p, err := l.Alloc(n)
	if err != nil {
		return nil, err
	}
	format.Zero(p, format.FromPayload(p).PayloadSize())
	return p, nil
}

// Realloc resizes p; a moved block comes from the bound partition.
func (l *Local) Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	return l.hp.realloc(p, size, l.Alloc)
}

// Free releases p to its owning partition.
func (l *Local) Free(p unsafe.Pointer) error {
	return l.hp.Free(p)
}
