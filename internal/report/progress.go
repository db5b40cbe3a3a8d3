package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"

	"github.com/zjy-dev/baztest/internal/coverage"
	"github.com/zjy-dev/baztest/internal/runner"
)

// Box drawing characters (Unicode)
const (
	boxTopLeft     = "╔"
	boxTopRight    = "╗"
	boxBottomLeft  = "╚"
	boxBottomRight = "╝"
	boxHorizontal  = "═"
	boxVertical    = "║"
	boxTeeRight    = "╠"
	boxTeeLeft     = "╣"
)

const panelWidth = 60

// ProgressSink redraws a small status panel in place after every event.
// It is meant for interactive terminals when raw output is not shown.
type ProgressSink struct {
	runner.NopSink

	mu           sync.Mutex
	w            io.Writer
	color        bool
	start        time.Time
	lastRender   time.Time
	minRenderGap time.Duration
	renderLines  int
	now          func() time.Time

	total, passed, failed, errored, cancelled int
	current                                   string
	linesHit, linesFound                      int
}

var _ runner.Sink = (*ProgressSink)(nil)

// NewProgressSink creates a ProgressSink drawing on w.
func NewProgressSink(w io.Writer, color bool) *ProgressSink {
	return &ProgressSink{
		w:            w,
		color:        color,
		start:        time.Now(),
		minRenderGap: 100 * time.Millisecond,
		now:          time.Now,
	}
}

func (p *ProgressSink) update(force bool, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn()

	now := p.now()
	if !force && now.Sub(p.lastRender) < p.minRenderGap {
		return
	}
	p.lastRender = now

	// Move up and clear the previous panel before drawing the new one.
	fmt.Fprint(p.w, strings.Repeat("\033[A\033[2K", p.renderLines))
	panel := p.buildPanel(now)
	fmt.Fprint(p.w, panel)
	p.renderLines = strings.Count(panel, "\n")
}

func (p *ProgressSink) OnEnqueued(t runner.Target) {
	p.update(false, func() { p.total++ })
}

func (p *ProgressSink) OnStarted(t runner.Target) {
	p.update(true, func() { p.current = t.Label })
}

func (p *ProgressSink) OnPassed(t runner.Target, d time.Duration) {
	p.update(true, func() { p.passed++; p.current = "" })
}

func (p *ProgressSink) OnFailed(t runner.Target, msg string, d time.Duration) {
	p.update(true, func() { p.failed++; p.current = "" })
}

func (p *ProgressSink) OnErrored(t runner.Target, msg string, d time.Duration) {
	p.update(true, func() { p.errored++; p.current = "" })
}

func (p *ProgressSink) OnCancelled(t runner.Target) {
	p.update(true, func() { p.cancelled++ })
}

func (p *ProgressSink) OnCoverage(t runner.Target, f *coverage.FileCoverage) {
	p.update(false, func() {
		p.linesHit += f.LinesHit()
		p.linesFound += f.LinesFound()
	})
}

// Clear removes the panel from the terminal.
func (p *ProgressSink) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.w, strings.Repeat("\033[A\033[2K", p.renderLines))
	p.renderLines = 0
}

func (p *ProgressSink) colorize(s string, c text.Color) string {
	if !p.color {
		return s
	}
	return c.Sprint(s)
}

func (p *ProgressSink) separator(left, right string) string {
	return p.colorize(left+strings.Repeat(boxHorizontal, panelWidth-2)+right, text.FgCyan) + "\n"
}

func (p *ProgressSink) buildPanel(now time.Time) string {
	var sb strings.Builder

	sb.WriteString(p.separator(boxTopLeft, boxTopRight))

	done := p.passed + p.failed + p.errored + p.cancelled
	current := p.current
	if current == "" {
		current = "-"
	}
	sb.WriteString(p.row("Elapsed", now.Sub(p.start).Round(time.Second).String(), text.FgWhite))
	sb.WriteString(p.row("Progress", fmt.Sprintf("%d/%d", done, p.total), text.FgWhite))
	sb.WriteString(p.row("Running", current, text.FgCyan))

	sb.WriteString(p.separator(boxTeeRight, boxTeeLeft))

	sb.WriteString(p.row("Passed", fmt.Sprintf("%d", p.passed), text.FgGreen))
	failedColor := text.FgGreen
	if p.failed > 0 {
		failedColor = text.FgRed
	}
	sb.WriteString(p.row("Failed", fmt.Sprintf("%d", p.failed), failedColor))
	sb.WriteString(p.row("Errored", fmt.Sprintf("%d", p.errored), text.FgYellow))
	sb.WriteString(p.row("Cancelled", fmt.Sprintf("%d", p.cancelled), text.FgHiBlack))

	if p.linesFound > 0 {
		sb.WriteString(p.separator(boxTeeRight, boxTeeLeft))
		sb.WriteString(p.coverageBar())
	}

	sb.WriteString(p.separator(boxBottomLeft, boxBottomRight))
	return sb.String()
}

// row formats a single row with label and value.
func (p *ProgressSink) row(label, value string, valueColor text.Color) string {
	const labelWidth = 12
	valueWidth := panelWidth - labelWidth - 4
	value = trimLeft(value, valueWidth)

	var sb strings.Builder
	sb.WriteString(p.colorize(boxVertical, text.FgCyan))
	sb.WriteString(" ")
	sb.WriteString(p.colorize(label, text.Faint))
	sb.WriteString(strings.Repeat(" ", labelWidth-len(label)))
	sb.WriteString(strings.Repeat(" ", valueWidth-text.RuneWidthWithoutEscSequences(value)))
	sb.WriteString(p.colorize(value, valueColor))
	sb.WriteString(" ")
	sb.WriteString(p.colorize(boxVertical, text.FgCyan))
	sb.WriteString("\n")
	return sb.String()
}

// trimLeft shortens s to at most width display columns by replacing its
// head with "...", keeping the end of long labels visible.
func trimLeft(s string, width int) string {
	if text.RuneWidthWithoutEscSequences(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && text.RuneWidthWithoutEscSequences(string(runes))+3 > width {
		runes = runes[1:]
	}
	return "..." + string(runes)
}

// coverageBar formats a line coverage progress bar.
func (p *ProgressSink) coverageBar() string {
	pct := float64(p.linesHit) * 100 / float64(p.linesFound)
	label := fmt.Sprintf("Coverage %.1f%% (%d/%d lines)", pct, p.linesHit, p.linesFound)
	if len(label) > panelWidth-4 {
		label = label[:panelWidth-4]
	}

	barWidth := panelWidth - 6
	filled := barWidth * p.linesHit / p.linesFound
	if filled > barWidth {
		filled = barWidth
	}

	var sb strings.Builder
	sb.WriteString(p.colorize(boxVertical, text.FgCyan))
	sb.WriteString(" ")
	sb.WriteString(label)
	sb.WriteString(strings.Repeat(" ", panelWidth-3-len(label)))
	sb.WriteString(p.colorize(boxVertical, text.FgCyan))
	sb.WriteString("\n")

	sb.WriteString(p.colorize(boxVertical, text.FgCyan))
	sb.WriteString(" [")
	sb.WriteString(p.colorize(strings.Repeat("█", filled), text.FgGreen))
	sb.WriteString(p.colorize(strings.Repeat("░", barWidth-filled), text.Faint))
	sb.WriteString("] ")
	sb.WriteString(p.colorize(boxVertical, text.FgCyan))
	sb.WriteString("\n")
	return sb.String()
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
