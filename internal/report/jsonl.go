package report

import (
	"io"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/goccy/go-json"

	"github.com/zjy-dev/baztest/internal/coverage"
	"github.com/zjy-dev/baztest/internal/logger"
	"github.com/zjy-dev/baztest/internal/runner"
)

// Event is one line written by JSONSink.
type Event struct {
	Time       time.Time              `json:"time"`
	RunID      string                 `json:"run_id,omitempty"`
	Action     string                 `json:"action"`
	Target     string                 `json:"target"`
	Output     string                 `json:"output,omitempty"`
	Message    string                 `json:"message,omitempty"`
	ElapsedSec float64                `json:"elapsed,omitempty"`
	Coverage   *coverage.FileCoverage `json:"coverage,omitempty"`
}

// Event actions.
const (
	ActionEnqueued  = "enqueued"
	ActionStarted   = "started"
	ActionOutput    = "output"
	ActionPassed    = "passed"
	ActionFailed    = "failed"
	ActionErrored   = "errored"
	ActionCancelled = "cancelled"
	ActionCoverage  = "coverage"
)

// JSONSink writes every event as one JSON object per line. ANSI escapes
// are stripped from output.
type JSONSink struct {
	mu    sync.Mutex
	enc   *json.Encoder
	runID string
	now   func() time.Time
}

var _ runner.Sink = (*JSONSink)(nil)

// NewJSONSink creates a JSONSink writing to w.
func NewJSONSink(w io.Writer, runID string) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w), runID: runID, now: time.Now}
}

func (j *JSONSink) emit(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e.Time = j.now()
	e.RunID = j.runID
	if err := j.enc.Encode(e); err != nil {
		logger.Warn("Failed to write event for %s: %v", e.Target, err)
	}
}

func (j *JSONSink) OnEnqueued(t runner.Target) {
	j.emit(Event{Action: ActionEnqueued, Target: t.ID})
}

func (j *JSONSink) OnStarted(t runner.Target) {
	j.emit(Event{Action: ActionStarted, Target: t.ID})
}

func (j *JSONSink) OnOutput(t runner.Target, out string) {
	j.emit(Event{Action: ActionOutput, Target: t.ID, Output: stripansi.Strip(out)})
}

func (j *JSONSink) OnPassed(t runner.Target, d time.Duration) {
	j.emit(Event{Action: ActionPassed, Target: t.ID, ElapsedSec: d.Seconds()})
}

func (j *JSONSink) OnFailed(t runner.Target, msg string, d time.Duration) {
	j.emit(Event{Action: ActionFailed, Target: t.ID, Message: msg, ElapsedSec: d.Seconds()})
}

func (j *JSONSink) OnErrored(t runner.Target, msg string, d time.Duration) {
	j.emit(Event{Action: ActionErrored, Target: t.ID, Message: msg, ElapsedSec: d.Seconds()})
}

func (j *JSONSink) OnCancelled(t runner.Target) {
	j.emit(Event{Action: ActionCancelled, Target: t.ID})
}

func (j *JSONSink) OnCoverage(t runner.Target, f *coverage.FileCoverage) {
	j.emit(Event{Action: ActionCoverage, Target: t.ID, Coverage: f})
}
