package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var numbers = message.NewPrinter(language.English)

// formatBytes renders n with a binary unit, e.g. "4.0 MiB".
func formatBytes[T ~uint64 | ~uintptr | ~int](n T) string {
	return humanize.IBytes(uint64(n))
}

// formatNumber renders n with thousands separators.
func formatNumber[T ~uint64 | ~int](n T) string {
	return numbers.Sprintf("%d", uint64(n))
}

// formatPercent renders a value already scaled to 0-100.
func formatPercent(pct float64) string {
	return fmt.Sprintf("%.1f%%", pct)
}
