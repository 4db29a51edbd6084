package scenario

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/heapkit/heap/alloc"
)

// StressOptions configures Stress.
type StressOptions struct {
	Workers    int     // Goroutines allocating concurrently
	Iterations int     // Allocate/free rounds per worker
	Objects    int     // Objects per round, split across workers
	ObjectSize uintptr // Bytes per object
	Work       int     // Busy-loop iterations between operations

	// Cross hands each round's batch to the next worker, so every release
	// lands on a partition the releasing goroutine did not allocate from.
	Cross bool

	// Pin binds worker i to partition i through Heap.Local.
	Pin bool
}

// DefaultStressOptions returns the classic threadtest shape: 10000 8-byte
// objects, 50 rounds, one worker per P.
func DefaultStressOptions() StressOptions {
	return StressOptions{
		Workers:    runtime.GOMAXPROCS(0),
		Iterations: 50,
		Objects:    10000,
		ObjectSize: 8,
	}
}

// StressResult summarizes a Stress run.
type StressResult struct {
	Options StressOptions
	Ops     uint64 // Alloc plus Free calls
	Elapsed time.Duration
	Stats   alloc.Stats
}

// OpsPerSecond returns the combined allocation and release rate.
func (r StressResult) OpsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

var errCorruptObject = errors.New("scenario: object contents overwritten")

var spinSink atomic.Uint64

func spin(n int) {
	if n <= 0 {
		return
	}
	var x uint64
	for i := range n {
		x = x*31 + uint64(i)
	}
	spinSink.Add(x)
}

func writeTag(p unsafe.Pointer, size uintptr, tag int) {
	switch {
	case size >= 4:
		*(*int32)(p) = int32(tag)
	case size > 0:
		*(*byte)(p) = byte(tag)
	}
}

func checkTag(p unsafe.Pointer, size uintptr, tag int) bool {
	switch {
	case size >= 4:
		return *(*int32)(p) == int32(tag)
	case size > 0:
		return *(*byte)(p) == byte(tag)
	}
	return true
}

// Stress runs opts.Workers goroutines that each allocate a batch, tag every
// object, then verify and release the batch, opts.Iterations times. The first
// error cancels the remaining workers.
func Stress(ctx context.Context, hp *alloc.Heap, opts StressOptions) (StressResult, error) {
	workers := max(opts.Workers, 1)
	per := max(opts.Objects/workers, 1)
	res := StressResult{Options: opts}

	inbox := make([]chan []unsafe.Pointer, workers)
	for i := range inbox {
		inbox[i] = make(chan []unsafe.Pointer, 1)
	}

	var ops atomic.Uint64
	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := range workers {
		var a Allocator = hp
		if opts.Pin {
			a = hp.Local(w)
		}
		g.Go(func() error {
			for range opts.Iterations {
				if err := ctx.Err(); err != nil {
					return err
				}
				batch := make([]unsafe.Pointer, per)
				for i := range batch {
					p, err := a.Alloc(opts.ObjectSize)
					if err != nil {
						for _, q := range batch[:i] {
							_ = a.Free(q)
						}
						return fmt.Errorf("worker %d: alloc %d bytes: %w", w, opts.ObjectSize, err)
					}
					writeTag(p, opts.ObjectSize, i)
					batch[i] = p
					spin(opts.Work)
				}

				if opts.Cross {
					select {
					case inbox[(w+1)%workers] <- batch:
					case <-ctx.Done():
						return ctx.Err()
					}
					select {
					case batch = <-inbox[w]:
					case <-ctx.Done():
						return ctx.Err()
					}
				}

				for i, p := range batch {
					if !checkTag(p, opts.ObjectSize, i) {
						return fmt.Errorf("worker %d: object %d at %p: %w", w, i, p, errCorruptObject)
					}
					if err := a.Free(p); err != nil {
						return fmt.Errorf("worker %d: free %p: %w", w, p, err)
					}
					spin(opts.Work)
				}
				ops.Add(2 * uint64(per))
			}
			return nil
		})
	}
	err := g.Wait()
	res.Elapsed = time.Since(start)
	res.Ops = ops.Load()
	res.Stats = hp.Stats()
	return res, err
}
