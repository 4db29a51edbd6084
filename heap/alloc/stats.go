package alloc

// Stats tracks allocator activity and current occupancy.
// Counters are cumulative; the occupancy fields describe the moment the
// snapshot was taken.
type Stats struct {
	AllocCalls       uint64 // Successful Alloc/Calloc calls, and Realloc calls that allocated
	FreeCalls        uint64 // Blocks released, including remote releases
	ReallocCalls     uint64 // Realloc calls with a non-nil pointer and non-zero size
	ReallocInPlace   uint64 // Realloc calls satisfied without moving
	GrowCalls        uint64 // Regions acquired from the source
	GrowBytes        uint64 // Total bytes acquired
	DirectAllocs     uint64 // Regions acquired for a single large block
	SplitCount       uint64 // Number of block splits
	CoalesceForward  uint64 // Merges with the following block
	CoalesceBackward uint64 // Merges with the preceding block
	RemoteFrees      uint64 // Releases deferred through a remote stack
	RegionsReleased  uint64 // Regions returned to the source
	BytesReleased    uint64 // Bytes returned to the source
	OutOfMemory      uint64 // Requests that failed because the source refused to grow

	Regions     int    // Regions currently held
	MappedBytes uint64 // Bytes in held regions
	InUseBlocks int    // Blocks currently handed out
	InUseBytes  uint64 // Total size of in-use blocks, headers included
	FreeBlocks  int    // Blocks in the free index
	FreeBytes   uint64 // Total size of free blocks
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.AllocCalls += o.AllocCalls
	s.FreeCalls += o.FreeCalls
	s.ReallocCalls += o.ReallocCalls
	s.ReallocInPlace += o.ReallocInPlace
	s.GrowCalls += o.GrowCalls
	s.GrowBytes += o.GrowBytes
	s.DirectAllocs += o.DirectAllocs
	s.SplitCount += o.SplitCount
	s.CoalesceForward += o.CoalesceForward
	s.CoalesceBackward += o.CoalesceBackward
	s.RemoteFrees += o.RemoteFrees
	s.RegionsReleased += o.RegionsReleased
	s.BytesReleased += o.BytesReleased
	s.OutOfMemory += o.OutOfMemory

	s.Regions += o.Regions
	s.MappedBytes += o.MappedBytes
	s.InUseBlocks += o.InUseBlocks
	s.InUseBytes += o.InUseBytes
	s.FreeBlocks += o.FreeBlocks
	s.FreeBytes += o.FreeBytes
}

// Utilization returns the percentage of mapped bytes held by in-use blocks.
// Fences and pending remote releases count as overhead.
func (s Stats) Utilization() float64 {
	if s.MappedBytes == 0 {
		return 0
	}
	return float64(s.InUseBytes) / float64(s.MappedBytes) * 100
}
