package coverage

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"
	"github.com/zjy-dev/gcovr-json-util/v2/pkg/gcovr"
)

// LoadGcovrUncovered reads a gcovr-json-util uncovered report from path.
func LoadGcovrUncovered(path string) (*gcovr.UncoveredReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gcovr report %s: %w", path, err)
	}
	var report gcovr.UncoveredReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse gcovr report %s: %w", path, err)
	}
	return &report, nil
}

// FromGcovrUncovered converts gcovr-json-util's UncoveredReport into a
// Report in which every uncovered line is a zero-count LineHit.
//
// Parameters:
//   - report: The gcovr UncoveredReport to convert
//   - baseDir: Directory that relative file paths are resolved against
func FromGcovrUncovered(report *gcovr.UncoveredReport, baseDir string) Report {
	if report == nil {
		return Report{}
	}

	out := make(Report, 0, len(report.Files))
	for _, gcovrFile := range report.Files {
		seen := make(map[int]bool)
		fc := &FileCoverage{
			Path:  ResolvePath(baseDir, gcovrFile.FilePath),
			Lines: []LineHit{},
		}
		for _, gcovrFunc := range gcovrFile.UncoveredFunctions {
			for _, line := range gcovrFunc.UncoveredLineNumbers {
				if line < 1 || seen[line] {
					continue
				}
				seen[line] = true
				fc.Lines = append(fc.Lines, LineHit{Line: line, Count: 0})
			}
		}
		sort.Slice(fc.Lines, func(i, j int) bool { return fc.Lines[i].Line < fc.Lines[j].Line })
		out = append(out, fc)
	}
	return out
}
