package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/internal/scenario"
)

var (
	stressWorkers    int
	stressIterations int
	stressObjects    int
	stressSize       string
	stressWork       int
	stressCross      bool
	stressPin        bool
	stressTimeout    time.Duration
)

func init() {
	cmd := newStressCmd()
	def := scenario.DefaultStressOptions()
	cmd.Flags().IntVarP(&stressWorkers, "workers", "w", def.Workers, "Goroutines allocating concurrently")
	cmd.Flags().IntVarP(&stressIterations, "iterations", "n", def.Iterations, "Allocate/free rounds per worker")
	cmd.Flags().IntVar(&stressObjects, "objects", def.Objects, "Objects per round, split across workers")
	cmd.Flags().StringVar(&stressSize, "size", humanize.IBytes(uint64(def.ObjectSize)), "Bytes per object")
	cmd.Flags().IntVar(&stressWork, "work", def.Work, "Busy-loop iterations between operations")
	cmd.Flags().BoolVar(&stressCross, "cross", false, "Release every batch from a different worker than allocated it")
	cmd.Flags().BoolVar(&stressPin, "pin", false, "Bind worker i to partition i")
	cmd.Flags().DurationVar(&stressTimeout, "timeout", 0, "Abort the run after this long (0 for no limit)")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a multi-goroutine allocate/free workload",
		Long: `The stress command starts a number of workers that each allocate a batch
of objects, tag them, then verify and free them, round after round. With
--cross every batch is freed by the next worker, so releases cross partitions.

Example:
  heapctl stress
  heapctl stress --workers 8 --objects 100000 --size 64
  heapctl stress --cross --partitions 4 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd.Context())
		},
	}
	return cmd
}

func stressOptions() (scenario.StressOptions, error) {
	size, err := humanize.ParseBytes(stressSize)
	if err != nil {
		return scenario.StressOptions{}, fmt.Errorf("--size: %w", err)
	}
	if stressWorkers < 1 || stressIterations < 0 || stressObjects < 1 {
		return scenario.StressOptions{}, fmt.Errorf("--workers and --objects must be positive")
	}
	return scenario.StressOptions{
		Workers:    stressWorkers,
		Iterations: stressIterations,
		Objects:    stressObjects,
		ObjectSize: uintptr(size),
		Work:       stressWork,
		Cross:      stressCross,
		Pin:        stressPin,
	}, nil
}

// StressReport is the JSON form of a stress run.
type StressReport struct {
	Workers      int         `json:"workers"`
	Iterations   int         `json:"iterations"`
	Objects      int         `json:"objects"`
	ObjectSize   uint64      `json:"object_size"`
	Cross        bool        `json:"cross"`
	Pin          bool        `json:"pin"`
	Partitions   int         `json:"partitions"`
	Ops          uint64      `json:"ops"`
	ElapsedMS    float64     `json:"elapsed_ms"`
	OpsPerSecond float64     `json:"ops_per_second"`
	Stats        alloc.Stats `json:"stats"`
}

func runStress(ctx context.Context) error {
	opts, err := stressOptions()
	if err != nil {
		return err
	}
	cfg, err := heapConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if stressTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stressTimeout)
		defer cancel()
	}

	hp := alloc.New(cfg)
	defer hp.Close()

	printVerbose("Running %d workers x %d rounds of %s objects (%s each) on %d partitions\n",
		opts.Workers, opts.Iterations, formatNumber(opts.Objects), formatBytes(opts.ObjectSize), hp.Partitions())

	res, err := scenario.Stress(ctx, hp, opts)
	if err != nil {
		return fmt.Errorf("stress: %w", err)
	}
	if _, err := hp.Verify(); err != nil {
		return fmt.Errorf("stress: heap inconsistent after run: %w", err)
	}

	if jsonOut {
		return printJSON(StressReport{
			Workers:      opts.Workers,
			Iterations:   opts.Iterations,
			Objects:      opts.Objects,
			ObjectSize:   uint64(opts.ObjectSize),
			Cross:        opts.Cross,
			Pin:          opts.Pin,
			Partitions:   hp.Partitions(),
			Ops:          res.Ops,
			ElapsedMS:    float64(res.Elapsed.Microseconds()) / 1000,
			OpsPerSecond: res.OpsPerSecond(),
			Stats:        res.Stats,
		})
	}

	printInfo("Stress: %d workers, %d partitions\n", opts.Workers, hp.Partitions())
	printInfo("  Operations: %s in %s\n", formatNumber(res.Ops), res.Elapsed.Round(time.Microsecond))
	printInfo("  Throughput: %s ops/s\n", formatNumber(uint64(res.OpsPerSecond())))
	printInfo("  Regions mapped: %s (%s)\n", formatNumber(res.Stats.GrowCalls), formatBytes(res.Stats.GrowBytes))
	printInfo("  Remote frees: %s\n", formatNumber(res.Stats.RemoteFrees))
	printVerbose("  Splits: %s, merges: %s forward / %s backward\n",
		formatNumber(res.Stats.SplitCount), formatNumber(res.Stats.CoalesceForward), formatNumber(res.Stats.CoalesceBackward))
	return nil
}
