// Package report contains the sinks that receive run events and the
// reporters that persist a finished run.
package report

import (
	"time"

	"github.com/zjy-dev/baztest/internal/coverage"
	"github.com/zjy-dev/baztest/internal/runner"
)

// Reporter defines the interface for saving run reports.
type Reporter interface {
	// Save writes the report of a finished run to disk and returns its path.
	Save(result *runner.Result, rec *Recorder) (string, error)
}

// MultiSink forwards every event to each of its sinks in order.
type MultiSink []runner.Sink

var _ runner.Sink = MultiSink(nil)

func (m MultiSink) OnEnqueued(t runner.Target) {
	for _, s := range m {
		s.OnEnqueued(t)
	}
}

func (m MultiSink) OnStarted(t runner.Target) {
	for _, s := range m {
		s.OnStarted(t)
	}
}

func (m MultiSink) OnOutput(t runner.Target, text string) {
	for _, s := range m {
		s.OnOutput(t, text)
	}
}

func (m MultiSink) OnPassed(t runner.Target, d time.Duration) {
	for _, s := range m {
		s.OnPassed(t, d)
	}
}

func (m MultiSink) OnFailed(t runner.Target, msg string, d time.Duration) {
	for _, s := range m {
		s.OnFailed(t, msg, d)
	}
}

func (m MultiSink) OnErrored(t runner.Target, msg string, d time.Duration) {
	for _, s := range m {
		s.OnErrored(t, msg, d)
	}
}

func (m MultiSink) OnCancelled(t runner.Target) {
	for _, s := range m {
		s.OnCancelled(t)
	}
}

func (m MultiSink) OnCoverage(t runner.Target, f *coverage.FileCoverage) {
	for _, s := range m {
		s.OnCoverage(t, f)
	}
}
