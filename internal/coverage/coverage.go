package coverage

import "sort"

// LineHit is the execution count recorded for one source line.
type LineHit struct {
	Line  int   `json:"line"`
	Count int64 `json:"count"`
}

// BranchHit is one BRDA entry. Executed is false when the block containing
// the branch was never reached (the "-" marker); Taken is 0 in that case.
type BranchHit struct {
	Line     int   `json:"line"`
	Block    int   `json:"block"`
	Branch   int   `json:"branch"`
	Taken    int64 `json:"taken"`
	Executed bool  `json:"executed"`
}

// FileCoverage holds the coverage of a single source file.
type FileCoverage struct {
	// Path is the resolved absolute path of the source file.
	Path string `json:"path"`

	// Lines is ordered by line number, one entry per line.
	Lines []LineHit `json:"lines"`

	// Branches keeps the order of the artifact.
	Branches []BranchHit `json:"branches,omitempty"`
}

// Line returns the hit recorded for line n.
func (f *FileCoverage) Line(n int) (LineHit, bool) {
	i := sort.Search(len(f.Lines), func(i int) bool { return f.Lines[i].Line >= n })
	if i < len(f.Lines) && f.Lines[i].Line == n {
		return f.Lines[i], true
	}
	return LineHit{}, false
}

// LinesFound returns the number of instrumented lines.
func (f *FileCoverage) LinesFound() int {
	return len(f.Lines)
}

// LinesHit returns the number of lines executed at least once.
func (f *FileCoverage) LinesHit() int {
	n := 0
	for _, l := range f.Lines {
		if l.Count > 0 {
			n++
		}
	}
	return n
}

// BranchesFound returns the number of branches.
func (f *FileCoverage) BranchesFound() int {
	return len(f.Branches)
}

// BranchesHit returns the number of branches taken at least once.
func (f *FileCoverage) BranchesHit() int {
	n := 0
	for _, b := range f.Branches {
		if b.Executed && b.Taken > 0 {
			n++
		}
	}
	return n
}

// Report is the ordered list of file records parsed from one artifact.
type Report []*FileCoverage

// CoverageStats holds coverage totals for display.
type CoverageStats struct {
	Files int

	TotalLines        int
	TotalCoveredLines int

	TotalBranches        int
	TotalCoveredBranches int

	// Overall line coverage percentage (0-100)
	CoveragePercentage float64
}

// Summary totals the report.
func (r Report) Summary() CoverageStats {
	var s CoverageStats
	for _, f := range r {
		s.Files++
		s.TotalLines += f.LinesFound()
		s.TotalCoveredLines += f.LinesHit()
		s.TotalBranches += f.BranchesFound()
		s.TotalCoveredBranches += f.BranchesHit()
	}
	if s.TotalLines > 0 {
		s.CoveragePercentage = float64(s.TotalCoveredLines) * 100 / float64(s.TotalLines)
	}
	return s
}
