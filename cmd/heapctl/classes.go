package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/heap/alloc"
)

func init() {
	rootCmd.AddCommand(newClassesCmd())
}

func newClassesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classes [preset]",
		Short: "Show free-list size class boundaries",
		Long: `The classes command prints the block size range of every free-list
class for a size class preset. Without an argument it lists the presets.

Example:
  heapctl classes
  heapctl classes general
  heapctl classes coarse --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return listPresets()
			}
			return showClasses(args[0])
		},
	}
	return cmd
}

// SizeClass is one row of the classes output.
type SizeClass struct {
	Index int    `json:"index"`
	Min   uint64 `json:"min"`
	Max   uint64 `json:"max,omitempty"` // 0 for the unbounded class
}

func listPresets() error {
	if jsonOut {
		return printJSON(alloc.SizeClassPresets)
	}
	for _, c := range alloc.SizeClassPresets {
		printInfo("%-12s %3d classes, linear to %s, x%.2f to %s\n",
			strings.ToLower(c.Name), len(c.Ranges()), formatBytes(c.SmallMax), c.GrowthFactor, formatBytes(c.MediumMax))
	}
	return nil
}

func showClasses(name string) error {
	preset, ok := alloc.LookupSizeClasses(name)
	if !ok {
		return fmt.Errorf("unknown size class preset %q", name)
	}
	ranges := preset.Ranges()
	classes := make([]SizeClass, len(ranges))
	for i, r := range ranges {
		classes[i] = SizeClass{Index: i, Min: uint64(r.Min), Max: uint64(r.Max)}
	}

	if jsonOut {
		return printJSON(classes)
	}
	printInfo("Size classes: %s\n", preset.Name)
	for _, c := range classes {
		if c.Max == 0 {
			printInfo("  %3d  %s and up\n", c.Index, formatBytes(c.Min))
			continue
		}
		printInfo("  %3d  %s - %s\n", c.Index, formatBytes(c.Min), formatBytes(c.Max))
	}
	return nil
}
