package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/zjy-dev/baztest/internal/runner"
	"github.com/zjy-dev/baztest/internal/state"
)

// MarkdownReporter implements the Reporter interface by saving reports as markdown files.
type MarkdownReporter struct {
	outputDir string
}

// NewMarkdownReporter creates a new MarkdownReporter.
func NewMarkdownReporter(outputDir string) *MarkdownReporter {
	return &MarkdownReporter{
		outputDir: outputDir,
	}
}

// Save writes the run to <outputDir>/run_<run id>.md. Output is included
// for targets that did not pass.
func (r *MarkdownReporter) Save(result *runner.Result, rec *Recorder) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	reportPath := filepath.Join(r.outputDir, fmt.Sprintf("run_%s.md", result.RunID))

	var b strings.Builder
	fmt.Fprintf(&b, "# Test Run %s\n\n", result.RunID)
	fmt.Fprintf(&b, "- **Passed:** %d\n", result.Counts[state.Passed])
	fmt.Fprintf(&b, "- **Failed:** %d\n", result.Counts[state.Failed])
	fmt.Fprintf(&b, "- **Errored:** %d\n", result.Counts[state.Errored])
	fmt.Fprintf(&b, "- **Cancelled:** %d\n\n", result.Counts[state.Cancelled])

	b.WriteString("## Targets\n\n")
	b.WriteString("| Target | Status | Duration | Message |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, e := range result.Entries {
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n", e.Target.Label, e.Status, formatDuration(e.Duration), e.Message)
	}
	b.WriteString("\n")

	ids := make([]string, 0, len(result.Entries))
	for _, e := range result.Entries {
		ids = append(ids, e.Target.ID)
	}

	if rec != nil {
		if cov := rec.AllCoverage(ids); len(cov) > 0 {
			s := cov.Summary()
			b.WriteString("## Coverage\n\n")
			fmt.Fprintf(&b, "**Lines:** %d/%d (%.1f%%)\n\n", s.TotalCoveredLines, s.TotalLines, s.CoveragePercentage)
			b.WriteString("| File | Lines hit | Lines found |\n")
			b.WriteString("|---|---|---|\n")
			for _, f := range cov {
				fmt.Fprintf(&b, "| `%s` | %d | %d |\n", f.Path, f.LinesHit(), f.LinesFound())
			}
			b.WriteString("\n")
		}

		for _, e := range result.Entries {
			if e.Status != state.Failed && e.Status != state.Errored {
				continue
			}
			out := rec.Output(e.Target.ID)
			if out == "" {
				continue
			}
			fmt.Fprintf(&b, "## Output: %s\n\n```\n%s\n```\n\n", e.Target.Label, strings.TrimRight(stripansi.Strip(out), "\n"))
		}
	}

	if err := os.WriteFile(reportPath, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", reportPath, err)
	}
	return reportPath, nil
}
