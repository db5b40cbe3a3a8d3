package runner

import (
	"time"

	"github.com/zjy-dev/baztest/internal/coverage"
)

// Sink receives the events of a run as they happen. Implementations must
// not retain or modify the FileCoverage they are handed.
type Sink interface {
	OnEnqueued(target Target)
	OnStarted(target Target)
	// OnOutput receives raw process output chunks in production order.
	OnOutput(target Target, text string)
	OnPassed(target Target, duration time.Duration)
	OnFailed(target Target, message string, duration time.Duration)
	OnErrored(target Target, message string, duration time.Duration)
	OnCancelled(target Target)
	// OnCoverage is only called after OnPassed for the same target.
	OnCoverage(target Target, file *coverage.FileCoverage)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) OnEnqueued(Target) {}
func (NopSink) OnStarted(Target) {}
func (NopSink) OnOutput(Target, string) {}
func (NopSink) OnPassed(Target, time.Duration) {}
func (NopSink) OnFailed(Target, string, time.Duration) {}
func (NopSink) OnErrored(Target, string, time.Duration) {}
func (NopSink) OnCancelled(Target) {}
func (NopSink) OnCoverage(Target, *coverage.FileCoverage) {}
