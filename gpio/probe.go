// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package gpio

import (
	"fmt"
	"io"

	"github.com/warthog618/go-gpiocdev"
)

// ProbeResult is one chip/line claim attempt from Probe.
type ProbeResult struct {
	Chip string
	Line int
	Err  error
}

// defaultProbeLines are common BCM pins worth checking when the operator
// gives none.
var defaultProbeLines = []int{4, 17, 27, 22}

// Probe enumerates the gpiochip devices and attempts a transient input
// claim of each requested line on each chip. It is a field diagnostic for
// "which chip does my line live on", not part of the sampling path.
func Probe(lines []int) []ProbeResult {
	if len(lines) == 0 {
		lines = defaultProbeLines
	}

	var results []ProbeResult
	for _, chip := range gpiocdev.Chips() {
		for _, line := range lines {
			l, err := gpiocdev.RequestLine(chip, line, gpiocdev.AsInput)
			if err == nil {
				l.Close()
			}
			results = append(results, ProbeResult{Chip: chip, Line: line, Err: err})
		}
	}
	return results
}

// WriteProbeReport runs Probe and writes a human-readable summary, the
// output of the -gpio-diag mode.
func WriteProbeReport(w io.Writer, lines []int) {
	if len(lines) == 0 {
		lines = defaultProbeLines
	}

	chips := gpiocdev.Chips()
	if len(chips) == 0 {
		fmt.Fprintln(w, "Found chips: NONE")
		return
	}
	fmt.Fprintf(w, "Found chips: %v\n", chips)

	results := Probe(lines)
	available := make(map[int][]string)
	for _, r := range results {
		if r.Err == nil {
			fmt.Fprintf(w, "  claim OK   line %d on %s\n", r.Line, r.Chip)
			available[r.Line] = append(available[r.Line], r.Chip)
		} else {
			fmt.Fprintf(w, "  claim FAIL line %d on %s: %v\n", r.Line, r.Chip, r.Err)
		}
	}

	fmt.Fprintln(w, "Summary:")
	for _, line := range lines {
		if chips := available[line]; len(chips) > 0 {
			fmt.Fprintf(w, "  line %d available on %v\n", line, chips)
		} else {
			fmt.Fprintf(w, "  line %d not claimable on any chip (check gpioinfo line names)\n", line)
		}
	}
}
