package alloc

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/heapkit/heap/region"
	"github.com/joshuapare/heapkit/internal/format"
	"github.com/joshuapare/heapkit/internal/logger"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvPartitions      = "HEAPKIT_PARTITIONS"
	EnvChecked         = "HEAPKIT_CHECKED"
	EnvMinRegion       = "HEAPKIT_MIN_REGION"
	EnvDirectThreshold = "HEAPKIT_DIRECT_THRESHOLD"
	EnvReclaim         = "HEAPKIT_RECLAIM"
)

const (
	defaultMinRegion        = 4 << 20
	defaultDirectThreshold  = 8 << 20
	defaultGrowthMultiplier = 4
	maxDefaultPartitions    = 16
)

// Config controls how a Heap or Arena obtains and recycles memory.
// The zero value is not usable; start from DefaultConfig.
type Config struct {
	// Partitions is the number of independently locked arenas in a Heap.
	// Ignored by a standalone Arena.
	Partitions int

	// SizeClasses selects the free-list bucket layout.
	SizeClasses SizeClassConfig

	// MinRegionSize is the smallest span requested from Source on growth.
	MinRegionSize uintptr

	// GrowthMultiplier scales the failed request when sizing a new region,
	// so a run of similar requests does not grow once per request.
	GrowthMultiplier uintptr

	// DirectThreshold is the block size above which a request gets a
	// dedicated region that goes back to Source as soon as it is freed.
	DirectThreshold uintptr

	// ReleaseEmptyRegions returns a region to Source once every block in it
	// is free, keeping at least RetainRegions regions per partition.
	ReleaseEmptyRegions bool
	RetainRegions       int

	// Checked validates every pointer passed to Free and Realloc and turns
	// misuse into ErrInvalidPointer or ErrDoubleFree.
	Checked bool

	// Source supplies regions. Defaults to region.OS().
	Source region.Source

	// Logger receives growth, release and fault events. Defaults to logger.L
	// as it stands when the Heap or Arena is built.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by the process-wide heap when
// no environment overrides are present.
func DefaultConfig() Config {
	return Config{
		Partitions:          min(runtime.GOMAXPROCS(0), maxDefaultPartitions),
		SizeClasses:         DefaultSizeClasses,
		MinRegionSize:       defaultMinRegion,
		GrowthMultiplier:    defaultGrowthMultiplier,
		DirectThreshold:     defaultDirectThreshold,
		ReleaseEmptyRegions: true,
		RetainRegions:       1,
	}
}

// ConfigFromEnv returns DefaultConfig adjusted by the HEAPKIT_* variables.
// Sizes accept humanized values such as "512KiB" or "8MB".
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv(EnvPartitions); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("alloc: %s=%q: want a positive integer", EnvPartitions, v)
		}
		cfg.Partitions = n
	}
	if v := os.Getenv(EnvChecked); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("alloc: %s: %w", EnvChecked, err)
		}
		cfg.Checked = b
	}
	if v := os.Getenv(EnvReclaim); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("alloc: %s: %w", EnvReclaim, err)
		}
		cfg.ReleaseEmptyRegions = b
	}
	if v := os.Getenv(EnvMinRegion); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return cfg, fmt.Errorf("alloc: %s: %w", EnvMinRegion, err)
		}
		cfg.MinRegionSize = uintptr(n)
	}
	if v := os.Getenv(EnvDirectThreshold); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return cfg, fmt.Errorf("alloc: %s: %w", EnvDirectThreshold, err)
		}
		cfg.DirectThreshold = uintptr(n)
	}
	return cfg, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

// normalize fills unset fields with defaults and clamps the rest to values
// the block layout can represent.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.Partitions < 1 {
		c.Partitions = def.Partitions
	}
	if c.Partitions > format.MaxOwner+1 {
		c.Partitions = format.MaxOwner + 1
	}
	if c.SizeClasses.SmallMin == 0 && c.SizeClasses.MediumMax == 0 {
		c.SizeClasses = def.SizeClasses
	}
	if c.GrowthMultiplier == 0 {
		c.GrowthMultiplier = 1
	}
	if c.MinRegionSize == 0 {
		c.MinRegionSize = def.MinRegionSize
	}
	if c.DirectThreshold == 0 || c.DirectThreshold > maxGrowth {
		c.DirectThreshold = maxGrowth
	}
	if c.RetainRegions < 0 {
		c.RetainRegions = 0
	}
	if c.Source == nil {
		c.Source = region.OS()
	}
	if c.Logger == nil {
		c.Logger = logger.L
	}
	return c
}
