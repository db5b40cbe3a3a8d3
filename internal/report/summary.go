package report

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/zjy-dev/baztest/internal/coverage"
	"github.com/zjy-dev/baztest/internal/runner"
	"github.com/zjy-dev/baztest/internal/state"
)

// RenderSummary writes a table of every target's final status.
func RenderSummary(w io.Writer, result *runner.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Run %s", result.RunID)
	t.AppendHeader(table.Row{"Target", "Status", "Duration", "Message"})
	for _, e := range result.Entries {
		t.AppendRow(table.Row{e.Target.Label, e.Status, formatDuration(e.Duration), e.Message})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d targets", len(result.Entries)),
		fmt.Sprintf("%d passed", result.Counts[state.Passed]),
		fmt.Sprintf("%d failed", result.Counts[state.Failed]),
		fmt.Sprintf("%d errored, %d cancelled", result.Counts[state.Errored], result.Counts[state.Cancelled]),
	})
	t.Render()
}

// RenderCoverage writes a per-file line and branch coverage table.
func RenderCoverage(w io.Writer, r coverage.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"File", "Lines", "Line %", "Branches", "Branch %"})
	for _, f := range r {
		t.AppendRow(table.Row{
			f.Path,
			fmt.Sprintf("%d/%d", f.LinesHit(), f.LinesFound()),
			percent(f.LinesHit(), f.LinesFound()),
			fmt.Sprintf("%d/%d", f.BranchesHit(), f.BranchesFound()),
			percent(f.BranchesHit(), f.BranchesFound()),
		})
	}
	s := r.Summary()
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d files", s.Files),
		fmt.Sprintf("%d/%d", s.TotalCoveredLines, s.TotalLines),
		percent(s.TotalCoveredLines, s.TotalLines),
		fmt.Sprintf("%d/%d", s.TotalCoveredBranches, s.TotalBranches),
		percent(s.TotalCoveredBranches, s.TotalBranches),
	})
	t.Render()
}

func percent(hit, found int) string {
	if found == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(hit)*100/float64(found))
}
