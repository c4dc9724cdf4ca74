package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/jakopako/goverify/internal/artifact"
	"github.com/jakopako/goverify/internal/types"
	"github.com/jakopako/goverify/internal/utils"
	"github.com/olekukonko/tablewriter"
)

// PrintSummary prints a table with one row per result followed by the list of
// failed steps.
func PrintSummary(out io.Writer, results []types.Result) error {
	// sort by name alphabetically
	sorted := make([]types.Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Scenario < sorted[j].Scenario
	})

	table := tablewriter.NewWriter(out)
	table.Header("Scenario", "Status", "Passed", "Failed", "Skipped", "Duration", "Run")

	var nrPassed, nrFailed, nrSkipped, nrFailedRuns int
	var total time.Duration
	for _, r := range sorted {
		passed, failed, skipped := count(r)
		nrPassed += passed
		nrFailed += failed
		nrSkipped += skipped
		if !r.Passed() {
			nrFailedRuns++
		}
		total += r.Duration()
		if err := table.Append([]string{
			r.Scenario,
			string(r.Status),
			strconv.Itoa(passed),
			strconv.Itoa(failed),
			strconv.Itoa(skipped),
			r.Duration().Round(time.Millisecond).String(),
			artifact.ShortID(r.RunID),
		}); err != nil {
			return err
		}
	}
	table.Footer(
		"total",
		fmt.Sprintf("%d/%d failed", nrFailedRuns, len(sorted)),
		strconv.Itoa(nrPassed),
		strconv.Itoa(nrFailed),
		strconv.Itoa(nrSkipped),
		total.Round(time.Millisecond).String(),
		"",
	)
	if err := table.Render(); err != nil {
		return err
	}

	for _, r := range sorted {
		for _, o := range r.Failed() {
			fmt.Fprintf(out, "%s: step %d (%s): %s: %s\n", r.Scenario, o.Index, o.Kind, o.ErrorKind, utils.ShortenString(o.Message, 300))
		}
	}
	return nil
}

func count(r types.Result) (passed, failed, skipped int) {
	for _, o := range r.Steps {
		switch o.Status {
		case types.StatusPassed:
			passed++
		case types.StatusFailed:
			failed++
		case types.StatusSkipped:
			skipped++
		}
	}
	return passed, failed, skipped
}
