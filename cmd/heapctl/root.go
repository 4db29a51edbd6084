package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/internal/logger"
)

var (
	// Global flags
	verbose  bool
	quiet    bool
	jsonOut  bool
	logLevel string
	logJSON  bool

	// Heap configuration flags
	partitions      int
	checkedMode     bool
	minRegion       string
	directThreshold string
	noReclaim       bool
	sizeClasses     string
)

var rootCmd = &cobra.Command{
	Use:   "heapctl",
	Short: "Exercise and inspect the heapkit allocator",
	Long: `heapctl drives the heapkit allocator with reproducible workloads:
multi-goroutine stress runs, fixed scenarios that check reuse, coalescing
and resizing, and statistics about how a heap lays out its regions.

Heap settings start from the HEAPKIT_* environment variables; flags override them.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	pf.BoolVar(&jsonOut, "json", false, "Output in JSON format")
	pf.StringVar(&logLevel, "log-level", "", "Log allocator events to stderr at this level (debug, info, warn, error)")
	pf.BoolVar(&logJSON, "log-json", false, "Emit log records as JSON")

	pf.IntVarP(&partitions, "partitions", "p", 0, "Number of heap partitions (default: GOMAXPROCS, at most 16)")
	pf.BoolVar(&checkedMode, "checked", false, "Validate every pointer passed to free and realloc")
	pf.StringVar(&minRegion, "min-region", "", "Smallest region mapped on growth, e.g. 4MiB")
	pf.StringVar(&directThreshold, "direct-threshold", "", "Block size served by a dedicated region, e.g. 8MiB")
	pf.BoolVar(&noReclaim, "no-reclaim", false, "Keep empty regions mapped instead of returning them")
	pf.StringVar(&sizeClasses, "size-classes", "", "Free-list size class preset (general, finegrained, balanced, coarse)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	if logLevel == "" {
		logger.FromEnv()
		return nil
	}
	level, ok := logger.ParseLevel(logLevel)
	if !ok {
		return fmt.Errorf("invalid --log-level %q", logLevel)
	}
	logger.Init(logger.Options{Enabled: true, Level: level, JSON: logJSON})
	return nil
}

// heapConfig builds the allocator configuration from the environment and
// the persistent flags.
func heapConfig() (alloc.Config, error) {
	cfg, err := alloc.ConfigFromEnv()
	if err != nil {
		return cfg, err
	}
	if partitions < 0 {
		return cfg, fmt.Errorf("--partitions must be positive, got %d", partitions)
	}
	if partitions > 0 {
		cfg.Partitions = partitions
	}
	if checkedMode {
		cfg.Checked = true
	}
	if noReclaim {
		cfg.ReleaseEmptyRegions = false
	}
	if minRegion != "" {
		n, err := humanize.ParseBytes(minRegion)
		if err != nil {
			return cfg, fmt.Errorf("--min-region: %w", err)
		}
		cfg.MinRegionSize = uintptr(n)
	}
	if directThreshold != "" {
		n, err := humanize.ParseBytes(directThreshold)
		if err != nil {
			return cfg, fmt.Errorf("--direct-threshold: %w", err)
		}
		cfg.DirectThreshold = uintptr(n)
	}
	if sizeClasses != "" {
		sc, ok := alloc.LookupSizeClasses(sizeClasses)
		if !ok {
			return cfg, fmt.Errorf("unknown size class preset %q", sizeClasses)
		}
		cfg.SizeClasses = sc
	}
	cfg.Logger = logger.L
	return cfg, nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
