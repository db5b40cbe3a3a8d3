package report

import (
	"sync"

	"github.com/zjy-dev/baztest/internal/coverage"
	"github.com/zjy-dev/baztest/internal/runner"
)

// DefaultOutputLimit is the number of trailing output bytes kept per target.
const DefaultOutputLimit = 64 * 1024

// Recorder keeps the coverage and the tail of the output of every target so
// that reporters can use them after the run.
type Recorder struct {
	runner.NopSink

	mu       sync.Mutex
	limit    int
	output   map[string][]byte
	coverage map[string]coverage.Report
}

// NewRecorder creates a Recorder keeping at most limit output bytes per
// target; limit <= 0 selects DefaultOutputLimit.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	return &Recorder{
		limit:    limit,
		output:   make(map[string][]byte),
		coverage: make(map[string]coverage.Report),
	}
}

func (r *Recorder) OnOutput(t runner.Target, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := append(r.output[t.ID], text...)
	if len(buf) > r.limit {
		buf = append([]byte(nil), buf[len(buf)-r.limit:]...)
	}
	r.output[t.ID] = buf
}

func (r *Recorder) OnCoverage(t runner.Target, f *coverage.FileCoverage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.coverage[t.ID] = append(r.coverage[t.ID], f)
}

// Output returns the recorded output tail of target id.
func (r *Recorder) Output(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.output[id])
}

// Coverage returns the coverage reported for target id.
func (r *Recorder) Coverage(id string) coverage.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coverage[id]
}

// AllCoverage returns every recorded record, grouped by target in the order
// targets are given.
func (r *Recorder) AllCoverage(ids []string) coverage.Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all coverage.Report
	for _, id := range ids {
		all = append(all, r.coverage[id]...)
	}
	return all
}
