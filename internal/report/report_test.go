package report

import (
	"bufio"
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/baztest/internal/coverage"
	"github.com/zjy-dev/baztest/internal/runner"
	"github.com/zjy-dev/baztest/internal/state"
)

var (
	target = runner.Target{ID: "//pkg:lib_test", Label: "//pkg:lib_test"}
	file   = &coverage.FileCoverage{
		Path:  "/ws/pkg/lib.cc",
		Lines: []coverage.LineHit{{Line: 1, Count: 2}, {Line: 2, Count: 0}},
	}
)

func sampleResult() *runner.Result {
	return &runner.Result{Snapshot: state.Snapshot{
		RunID: "abc",
		Entries: []state.Entry{
			{Target: target, Status: state.Passed, Duration: 1200 * time.Millisecond},
			{Target: runner.Target{ID: "//pkg:bad_test", Label: "//pkg:bad_test"}, Status: state.Failed, Message: "failed"},
		},
		Counts: state.Counts{state.Passed: 1, state.Failed: 1},
	}}
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleSink(&buf, true, false)

	c.OnStarted(target)
	c.OnOutput(target, "\033[32mINFO:\033[0m Build completed\n")
	c.OnPassed(target, 1500*time.Millisecond)
	c.OnErrored(target, "Error parsing coverage data: boom", time.Second)
	c.OnCancelled(target)

	out := buf.String()
	assert.Contains(t, out, "[ RUN      ] //pkg:lib_test")
	assert.Contains(t, out, "INFO: Build completed\n")
	assert.Contains(t, out, "[   PASSED ] //pkg:lib_test (1.5s)")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "[ CANCELED ]")
	assert.NotContains(t, out, "\033[")
}

func TestConsoleSink_HidesOutput(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleSink(&buf, false, false)
	c.OnOutput(target, "noise\n")
	assert.Empty(t, buf.String())
}

func TestJSONSink(t *testing.T) {
	var buf bytes.Buffer
	j := NewJSONSink(&buf, "run-1")
	j.now = func() time.Time { return time.Unix(0, 0).UTC() }

	j.OnStarted(target)
	j.OnOutput(target, "\033[31mFAIL\033[0m\n")
	j.OnFailed(target, "failed", 2*time.Second)
	j.OnCoverage(target, file)

	var events []Event
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.Len(t, events, 4)

	assert.Equal(t, ActionStarted, events[0].Action)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, "FAIL\n", events[1].Output)
	assert.Equal(t, ActionFailed, events[2].Action)
	assert.Equal(t, 2.0, events[2].ElapsedSec)
	require.NotNil(t, events[3].Coverage)
	assert.Equal(t, file.Lines, events[3].Coverage.Lines)
}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsSink(reg)

	m.OnPassed(target, time.Second)
	m.OnPassed(target, time.Second)
	m.OnFailed(target, "failed", time.Second)
	m.OnCancelled(target)
	m.OnOutput(target, "12345")
	m.OnCoverage(target, file)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("cancelled")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.OutputBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CoveredLines))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TotalLines))
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder(8)
	rec.OnOutput(target, "0123")
	rec.OnOutput(target, "456789")
	rec.OnCoverage(target, file)

	assert.Equal(t, "23456789", rec.Output(target.ID))
	assert.Equal(t, coverage.Report{file}, rec.Coverage(target.ID))
	assert.Equal(t, coverage.Report{file}, rec.AllCoverage([]string{"//other:x", target.ID}))
}

func TestMultiSink(t *testing.T) {
	a, b := NewRecorder(0), NewRecorder(0)
	m := MultiSink{a, b}
	m.OnOutput(target, "hello")
	m.OnCoverage(target, file)

	assert.Equal(t, "hello", a.Output(target.ID))
	assert.Equal(t, "hello", b.Output(target.ID))
	assert.Len(t, b.Coverage(target.ID), 1)
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	RenderSummary(&buf, sampleResult())

	out := buf.String()
	assert.Contains(t, out, "//pkg:lib_test")
	assert.Contains(t, out, "passed")
	assert.Contains(t, out, "//pkg:bad_test")
	assert.Contains(t, out, "1 FAILED")
}

func TestRenderCoverage(t *testing.T) {
	var buf bytes.Buffer
	RenderCoverage(&buf, coverage.Report{file})

	out := buf.String()
	assert.Contains(t, out, "/ws/pkg/lib.cc")
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "50.0%")
	assert.True(t, strings.Count(out, "\n") > 3)
}

func TestProgressSink(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressSink(&buf, false)
	now := time.Unix(100, 0)
	p.start = now
	p.now = func() time.Time { return now }

	other := runner.Target{ID: "//pkg:other_test", Label: "//pkg:other_test"}
	p.OnEnqueued(target)
	p.OnEnqueued(other)
	p.OnStarted(target)
	assert.Contains(t, buf.String(), "//pkg:lib_test")

	buf.Reset()
	p.OnPassed(target, time.Second)
	p.OnCoverage(target, file)
	p.OnCancelled(other)

	out := buf.String()
	assert.Contains(t, out, "2/2")
	assert.Contains(t, out, "Cancelled")
	assert.Contains(t, out, "Coverage 50.0%", "rate-limited updates show up in the next forced render")
	assert.Contains(t, out, "\033[A\033[2K", "previous panel is cleared")

	buf.Reset()
	p.Clear()
	assert.True(t, strings.HasPrefix(buf.String(), "\033[A\033[2K"))
	assert.Zero(t, p.renderLines)
}

func TestProgressSink_CoverageBar(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressSink(&buf, false)
	p.OnCoverage(target, file)
	p.OnPassed(target, time.Second)

	out := buf.String()
	assert.Contains(t, out, "Coverage 50.0% (1/2 lines)")
	assert.Contains(t, out, strings.Repeat("█", 27)+strings.Repeat("░", 27))
}

func TestProgressSink_LongLabel(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressSink(&buf, false)
	long := runner.Target{ID: "long", Label: "//服务/测试/目录:" + strings.Repeat("長い名前_", 8) + "test"}
	p.OnStarted(long)

	out := buf.String()
	require.True(t, utf8.ValidString(out))
	var running string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Running") {
			running = line
		}
	}
	require.NotEmpty(t, running)
	assert.Contains(t, running, "...")
	assert.Contains(t, running, "test ")
	assert.Equal(t, panelWidth, text.RuneWidthWithoutEscSequences(running))
}

func TestTrimLeft(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{name: "fits", in: "//a:a_test", width: 20, want: "//a:a_test"},
		{name: "ascii", in: "//pkg/deep:a_test", width: 10, want: "...:a_test"},
		{name: "multibyte", in: "//é/é/é:é_test", width: 9, want: "...é_test"},
		{name: "wide runes", in: "//测试:测试", width: 8, want: "...:测试"},
		{name: "wide rune does not split", in: "//测试:测试", width: 6, want: "...试"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := trimLeft(tt.in, tt.width)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, text.RuneWidthWithoutEscSequences(got), tt.width)
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTerminal(f))
}
