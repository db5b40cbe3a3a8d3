package report

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/zjy-dev/baztest/internal/coverage"
	"github.com/zjy-dev/baztest/internal/runner"
)

// ConsoleSink writes status lines and, optionally, the raw test output.
type ConsoleSink struct {
	mu         sync.Mutex
	w          io.Writer
	showOutput bool
	color      bool
}

var _ runner.Sink = (*ConsoleSink)(nil)

// NewConsoleSink creates a ConsoleSink writing to w.
func NewConsoleSink(w io.Writer, showOutput, color bool) *ConsoleSink {
	return &ConsoleSink{w: w, showOutput: showOutput, color: color}
}

func (c *ConsoleSink) status(colour text.Color, label string, t runner.Target, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.color {
		label = colour.Sprint(label)
	}
	if detail != "" {
		fmt.Fprintf(c.w, "%s %s %s\n", label, t.Label, detail)
		return
	}
	fmt.Fprintf(c.w, "%s %s\n", label, t.Label)
}

func (c *ConsoleSink) OnEnqueued(t runner.Target) {}

func (c *ConsoleSink) OnStarted(t runner.Target) {
	c.status(text.FgCyan, "[ RUN      ]", t, "")
}

func (c *ConsoleSink) OnOutput(t runner.Target, out string) {
	if !c.showOutput {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.color {
		out = stripansi.Strip(out)
	}
	io.WriteString(c.w, out)
}

func (c *ConsoleSink) OnPassed(t runner.Target, d time.Duration) {
	c.status(text.FgGreen, "[   PASSED ]", t, fmt.Sprintf("(%s)", formatDuration(d)))
}

func (c *ConsoleSink) OnFailed(t runner.Target, msg string, d time.Duration) {
	c.status(text.FgRed, "[   FAILED ]", t, fmt.Sprintf("(%s)", formatDuration(d)))
}

func (c *ConsoleSink) OnErrored(t runner.Target, msg string, d time.Duration) {
	c.status(text.FgYellow, "[  ERRORED ]", t, fmt.Sprintf("(%s): %s", formatDuration(d), msg))
}

func (c *ConsoleSink) OnCancelled(t runner.Target) {
	c.status(text.FgHiBlack, "[ CANCELED ]", t, "")
}

func (c *ConsoleSink) OnCoverage(t runner.Target, f *coverage.FileCoverage) {}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
