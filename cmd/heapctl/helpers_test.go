package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/internal/scenario"
)

// resetFlags restores every package-level flag to its default and clears
// the HEAPKIT_* environment.
func resetFlags(t *testing.T) {
	t.Helper()
	for _, env := range []string{alloc.EnvPartitions, alloc.EnvChecked, alloc.EnvMinRegion, alloc.EnvDirectThreshold, alloc.EnvReclaim} {
		t.Setenv(env, "")
	}

	verbose, quiet, jsonOut = false, false, false
	logLevel, logJSON = "", false
	partitions, checkedMode, noReclaim = 0, false, false
	minRegion, directThreshold, sizeClasses = "", "", ""

	def := scenario.DefaultStressOptions()
	stressWorkers, stressIterations, stressObjects = def.Workers, def.Iterations, def.Objects
	stressSize, stressWork = "8", 0
	stressCross, stressPin, stressTimeout = false, false, 0

	scenarioList, scenarioSeed = false, 1

	statsObjects, statsMinSize, statsMaxSize = 20000, "16", "4KiB"
	statsKeep, statsSeed, statsTrim = 2, 1, false
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan struct{})
	var buf bytes.Buffer
	go func() {
		defer close(done)
		buf.ReadFrom(r)
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	<-done

	return buf.String(), fnErr
}

// assertJSON checks that output is valid JSON
func assertJSON(t *testing.T, output string) {
	t.Helper()
	var result any
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Errorf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}
