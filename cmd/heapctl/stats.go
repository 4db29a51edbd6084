package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"text/tabwriter"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/heapkit/heap/alloc"
)

var (
	statsObjects int
	statsMinSize string
	statsMaxSize string
	statsKeep    int
	statsSeed    uint64
	statsTrim    bool
)

func init() {
	cmd := newStatsCmd()
	cmd.Flags().IntVar(&statsObjects, "objects", 20000, "Objects allocated per partition")
	cmd.Flags().StringVar(&statsMinSize, "min-size", "16", "Smallest object size")
	cmd.Flags().StringVar(&statsMaxSize, "max-size", "4KiB", "Largest object size")
	cmd.Flags().IntVar(&statsKeep, "keep", 2, "Keep one object in every N live before reporting (1 keeps all)")
	cmd.Flags().Uint64Var(&statsSeed, "seed", 1, "Seed for object sizes")
	cmd.Flags().BoolVar(&statsTrim, "trim", false, "Trim free pages before reporting")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show heap statistics after a fragmenting workload",
		Long: `The stats command fills every partition with objects of random size,
frees all but one in every --keep of them, and reports how the heap holds the
survivors: regions, occupancy, free-list shape and activity counters.

Example:
  heapctl stats
  heapctl stats --partitions 4 --objects 50000 --keep 3
  heapctl stats --size-classes coarse --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
	return cmd
}

// HeapStats is the report printed by the stats command.
type HeapStats struct {
	Partitions  int           `json:"partitions"`
	SizeClasses string        `json:"size_classes"`
	Live        int           `json:"live_objects"`
	Trimmed     uint64        `json:"trimmed_bytes"`
	Utilization float64       `json:"utilization_pct"`
	Total       alloc.Stats   `json:"total"`
	PerPart     []alloc.Stats `json:"per_partition"`
	Layout      alloc.Report  `json:"layout"`
}

// fragment allocates statsObjects objects on every partition and frees all
// but one in keep. It returns the survivors.
func fragment(hp *alloc.Heap, minSize, maxSize uintptr, keep int) ([][]unsafe.Pointer, error) {
	live := make([][]unsafe.Pointer, hp.Partitions())
	var g errgroup.Group
	for i := range live {
		g.Go(func() error {
			l := hp.Local(i)
			rng := rand.New(rand.NewPCG(statsSeed, uint64(i)))
			ptrs := make([]unsafe.Pointer, 0, statsObjects)
			for range statsObjects {
				size := minSize + uintptr(rng.Uint64N(uint64(maxSize-minSize+1)))
				p, err := l.Alloc(size)
				if err != nil {
					for _, q := range ptrs {
						_ = l.Free(q)
					}
					return fmt.Errorf("partition %d: alloc %s: %w", i, formatBytes(size), err)
				}
				ptrs = append(ptrs, p)
			}
			kept := ptrs[:0]
			for j, p := range ptrs {
				if j%keep == 0 {
					kept = append(kept, p)
					continue
				}
				if err := l.Free(p); err != nil {
					return err
				}
			}
			live[i] = kept
			return nil
		})
	}
	return live, g.Wait()
}

func runStats() error {
	minSize, err := humanize.ParseBytes(statsMinSize)
	if err != nil {
		return fmt.Errorf("--min-size: %w", err)
	}
	maxSize, err := humanize.ParseBytes(statsMaxSize)
	if err != nil {
		return fmt.Errorf("--max-size: %w", err)
	}
	if maxSize < minSize {
		return fmt.Errorf("--max-size %s is below --min-size %s", statsMaxSize, statsMinSize)
	}
	if statsKeep < 1 || statsObjects < 0 {
		return fmt.Errorf("--keep must be at least 1 and --objects non-negative")
	}
	cfg, err := heapConfig()
	if err != nil {
		return err
	}

	hp := alloc.New(cfg)
	defer hp.Close()

	printVerbose("Allocating %s objects of %s-%s on %d partitions\n",
		formatNumber(statsObjects), formatBytes(minSize), formatBytes(maxSize), hp.Partitions())
	live, err := fragment(hp, uintptr(minSize), uintptr(maxSize), statsKeep)
	if err != nil {
		return err
	}

	stats := HeapStats{
		Partitions:  hp.Partitions(),
		SizeClasses: hp.Config().SizeClasses.Name,
	}
	for _, ptrs := range live {
		stats.Live += len(ptrs)
	}
	if statsTrim {
		stats.Trimmed = uint64(hp.Trim())
	}
	stats.Total = hp.Stats()
	stats.PerPart = hp.PartitionStats()
	stats.Utilization = stats.Total.Utilization()
	stats.Layout, err = hp.Verify()
	if err != nil {
		return fmt.Errorf("heap inconsistent: %w", err)
	}

	if jsonOut {
		return printJSON(stats)
	}
	printHeapStats(stats)
	return nil
}

func printHeapStats(stats HeapStats) {
	t := stats.Total

	printInfo("\nHeap Statistics\n")
	printInfo("%s\n\n", strings.Repeat("═", 40))

	printInfo("Configuration:\n")
	printInfo("  Partitions: %d\n", stats.Partitions)
	printInfo("  Size classes: %s\n\n", stats.SizeClasses)

	printInfo("Occupancy:\n")
	printInfo("  Live objects: %s\n", formatNumber(stats.Live))
	printInfo("  Regions: %d (%s mapped)\n", t.Regions, formatBytes(t.MappedBytes))
	printInfo("  In use: %s blocks, %s\n", formatNumber(t.InUseBlocks), formatBytes(t.InUseBytes))
	printInfo("  Free: %s blocks, %s\n", formatNumber(t.FreeBlocks), formatBytes(t.FreeBytes))
	printInfo("  Largest free block: %s\n", formatBytes(stats.Layout.LargestFree))
	printInfo("  Utilization: %s\n", formatPercent(stats.Utilization))
	if stats.Trimmed > 0 {
		printInfo("  Trimmed: %s\n", formatBytes(stats.Trimmed))
	}
	printInfo("\n")

	printInfo("Activity:\n")
	printInfo("  Allocations: %s\n", formatNumber(t.AllocCalls))
	printInfo("  Frees: %s (%s deferred)\n", formatNumber(t.FreeCalls), formatNumber(t.RemoteFrees))
	printInfo("  Splits: %s\n", formatNumber(t.SplitCount))
	printInfo("  Merges: %s forward, %s backward\n", formatNumber(t.CoalesceForward), formatNumber(t.CoalesceBackward))
	printInfo("  Growth: %s regions, %s (%s direct)\n", formatNumber(t.GrowCalls), formatBytes(t.GrowBytes), formatNumber(t.DirectAllocs))
	printInfo("  Released: %s regions, %s\n\n", formatNumber(t.RegionsReleased), formatBytes(t.BytesReleased))

	if quiet || len(stats.PerPart) < 2 {
		return
	}
	printInfo("Partitions:\n")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "  #\tregions\tmapped\tin use\tfree\tutil\t")
	for i, s := range stats.PerPart {
		fmt.Fprintf(w, "  %d\t%d\t%s\t%s\t%s\t%s\t\n",
			i, s.Regions, formatBytes(s.MappedBytes), formatBytes(s.InUseBytes), formatBytes(s.FreeBytes), formatPercent(s.Utilization()))
	}
	w.Flush()

	if verbose {
		printInfo("\nFree blocks per region:\n")
		for i, n := range stats.Layout.FreePerRegion {
			printInfo("  region %d: %d\n", i, n)
		}
	}
}
