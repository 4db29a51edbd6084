package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/internal/scenario"
)

var (
	scenarioList bool
	scenarioSeed uint64
)

func init() {
	cmd := newScenarioCmd()
	cmd.Flags().BoolVarP(&scenarioList, "list", "l", false, "List available scenarios and exit")
	cmd.Flags().Uint64Var(&scenarioSeed, "seed", 1, "Seed for scenarios that draw random sizes")
	rootCmd.AddCommand(cmd)
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario [name...]",
		Short: "Run fixed allocation scenarios",
		Long: `The scenario command runs fixed allocation sequences against a fresh
single-partition heap and checks the outcome. Scenarios with a quota cap the
memory the heap may map, so they fail unless freed blocks are reused and
neighbors merge. Every run ends with a consistency walk and a leak check.

With no names every scenario runs.

Example:
  heapctl scenario
  heapctl scenario coalescing realloc --checked
  heapctl scenario --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(args)
		},
	}
	return cmd
}

// ScenarioOutcome is the JSON form of one scenario result.
type ScenarioOutcome struct {
	Name      string  `json:"name"`
	Passed    bool    `json:"passed"`
	Error     string  `json:"error,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms"`
	Peak      uint64  `json:"peak_bytes"`
	Quota     uint64  `json:"quota_bytes,omitempty"`
	Allocs    uint64  `json:"allocs"`
	Frees     uint64  `json:"frees"`
}

func selectScenarios(names []string) ([]scenario.Scenario, error) {
	if len(names) == 0 {
		return scenario.All(), nil
	}
	out := make([]scenario.Scenario, 0, len(names))
	for _, name := range names {
		s, ok := scenario.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q (see heapctl scenario --list)", name)
		}
		out = append(out, s)
	}
	return out, nil
}

func runScenarios(names []string) error {
	if scenarioList {
		return listScenarios()
	}
	selected, err := selectScenarios(names)
	if err != nil {
		return err
	}
	cfg, err := heapConfig()
	if err != nil {
		return err
	}

	var (
		outcomes []ScenarioOutcome
		failed   []string
	)
	for _, s := range selected {
		printVerbose("Running %s...\n", s.Name)
		res := scenario.Run(s, cfg, scenarioSeed)

		o := ScenarioOutcome{
			Name:      res.Name,
			Passed:    res.Passed(),
			ElapsedMS: float64(res.Elapsed.Microseconds()) / 1000,
			Peak:      uint64(res.Peak),
			Quota:     uint64(res.Quota),
			Allocs:    res.Stats.AllocCalls,
			Frees:     res.Stats.FreeCalls,
		}
		if res.Err != nil {
			o.Error = res.Err.Error()
		}
		outcomes = append(outcomes, o)
		if !o.Passed {
			failed = append(failed, s.Name)
		}

		if jsonOut {
			continue
		}
		status := "PASS"
		if !o.Passed {
			status = "FAIL"
		}
		line := fmt.Sprintf("%-4s %-20s %10s  peak %s", status, s.Name, res.Elapsed.Round(time.Microsecond), formatBytes(res.Peak))
		if res.Quota > 0 {
			line += fmt.Sprintf(" of %s", formatBytes(res.Quota))
		}
		printInfo("%s\n", line)
		if res.Err != nil {
			printInfo("     %v\n", res.Err)
		}
	}

	if jsonOut {
		if err := printJSON(outcomes); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d scenarios failed: %s", len(failed), len(selected), strings.Join(failed, ", "))
	}
	return nil
}

func listScenarios() error {
	all := scenario.All()
	if jsonOut {
		type entry struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Quota       uint64 `json:"quota_bytes,omitempty"`
		}
		out := make([]entry, len(all))
		for i, s := range all {
			out[i] = entry{s.Name, s.Description, uint64(s.Quota)}
		}
		return printJSON(out)
	}
	for _, s := range all {
		printInfo("%-20s %s\n", s.Name, s.Description)
	}
	return nil
}
