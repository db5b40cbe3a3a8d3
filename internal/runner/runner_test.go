package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/baztest/internal/coverage"
	"github.com/zjy-dev/baztest/internal/state"
)

type testOutcome struct {
	code   int
	err    error
	output []string
	// during runs while the target is executing.
	during func()
}

type fakeExecutor struct {
	mu       sync.Mutex
	outcomes map[string]testOutcome
	calls    []string
	args     [][]string
	coverage []bool
	targets  []Target
	queryErr error
}

func (f *fakeExecutor) Test(ctx context.Context, target string, cov bool, extraArgs []string, onOutput func(string)) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	f.args = append(f.args, extraArgs)
	f.coverage = append(f.coverage, cov)
	o := f.outcomes[target]
	f.mu.Unlock()

	for _, chunk := range o.output {
		onOutput(chunk)
	}
	if o.during != nil {
		o.during()
	}
	return o.code, o.err
}

func (f *fakeExecutor) QueryTargets(ctx context.Context, expr string) ([]Target, error) {
	return f.targets, f.queryErr
}

func (f *fakeExecutor) OutputPath(ctx context.Context) (string, error) {
	return "/out", nil
}

type fakeCollector struct {
	report coverage.Report
	err    error
	calls  int
}

func (c *fakeCollector) Collect(ctx context.Context, workspace string) (coverage.Report, error) {
	c.calls++
	return c.report, c.err
}

type event struct {
	kind    string
	target  string
	text    string
	message string
}

type recordingSink struct {
	events []event
}

func (s *recordingSink) add(e event) { s.events = append(s.events, e) }

func (s *recordingSink) OnEnqueued(t Target) { s.add(event{kind: "enqueued", target: t.ID}) }
func (s *recordingSink) OnStarted(t Target)  { s.add(event{kind: "started", target: t.ID}) }
func (s *recordingSink) OnOutput(t Target, text string) {
	s.add(event{kind: "output", target: t.ID, text: text})
}
func (s *recordingSink) OnPassed(t Target, d time.Duration) {
	s.add(event{kind: "passed", target: t.ID})
}
func (s *recordingSink) OnFailed(t Target, msg string, d time.Duration) {
	s.add(event{kind: "failed", target: t.ID, message: msg})
}
func (s *recordingSink) OnErrored(t Target, msg string, d time.Duration) {
	s.add(event{kind: "errored", target: t.ID, message: msg})
}
func (s *recordingSink) OnCancelled(t Target) { s.add(event{kind: "cancelled", target: t.ID}) }
func (s *recordingSink) OnCoverage(t Target, f *coverage.FileCoverage) {
	s.add(event{kind: "coverage", target: t.ID, text: f.Path})
}

func (s *recordingSink) ofTarget(id string) []event {
	var out []event
	for _, e := range s.events {
		if e.target == id {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) kinds(id string) []string {
	var out []string
	for _, e := range s.ofTarget(id) {
		if e.kind != "output" {
			out = append(out, e.kind)
		}
	}
	return out
}

var (
	tgt1 = Target{ID: "//pkg:t1", Label: "//pkg:t1"}
	tgt2 = Target{ID: "//pkg:t2", Label: "//pkg:t2"}
	tgt3 = Target{ID: "//pkg:t3", Label: "//pkg:t3"}
)

func newTestRunner(exec *fakeExecutor, col *fakeCollector) *Runner {
	r := New(exec, Options{Workspace: "/ws", Collector: col})
	r.newRunID = func() string { return "run-test" }
	return r
}

func statuses(res *Result) map[string]state.Status {
	out := make(map[string]state.Status)
	for _, e := range res.Entries {
		out[e.Target.ID] = e.Status
	}
	return out
}

func TestRun_FailedAndPassed(t *testing.T) {
	exec := &fakeExecutor{outcomes: map[string]testOutcome{
		tgt1.ID: {code: 1},
		tgt2.ID: {code: 0},
	}}
	col := &fakeCollector{}
	r := newTestRunner(exec, col)
	sink := &recordingSink{}

	res, err := r.Run(context.Background(), Request{Include: []Target{tgt1, tgt2}}, sink)
	require.NoError(t, err)

	assert.Equal(t, map[string]state.Status{tgt1.ID: state.Failed, tgt2.ID: state.Passed}, statuses(res))
	assert.Equal(t, 0, col.calls, "coverage must not be collected outside coverage mode")
	assert.False(t, res.OK())
	assert.Equal(t, "run-test", res.RunID)

	assert.Equal(t, []string{"enqueued", "started", "failed"}, sink.kinds(tgt1.ID))
	assert.Equal(t, FailedMessage, sink.ofTarget(tgt1.ID)[2].message)
	assert.Equal(t, []string{"enqueued", "started", "passed"}, sink.kinds(tgt2.ID))
}

func TestRun_CoveragePassed(t *testing.T) {
	exec := &fakeExecutor{outcomes: map[string]testOutcome{tgt1.ID: {code: 0}}}
	col := &fakeCollector{report: coverage.Report{
		{Path: "/ws/a.cc", Lines: []coverage.LineHit{{Line: 1, Count: 1}}},
		{Path: "/ws/b.cc"},
	}}
	r := newTestRunner(exec, col)
	sink := &recordingSink{}

	res, err := r.Run(context.Background(), Request{Include: []Target{tgt1}, Coverage: true}, sink)
	require.NoError(t, err)

	assert.Equal(t, state.Passed, statuses(res)[tgt1.ID])
	assert.True(t, res.OK())
	assert.Equal(t, 1, col.calls)
	assert.Equal(t, []string{"enqueued", "started", "passed", "coverage", "coverage"}, sink.kinds(tgt1.ID))
	assert.Equal(t, []bool{true}, exec.coverage)
	assert.Contains(t, exec.args[0], "--combined_report=lcov")
}

func TestRun_CoverageFailureIsErrored(t *testing.T) {
	exec := &fakeExecutor{outcomes: map[string]testOutcome{tgt1.ID: {code: 0}}}
	col := &fakeCollector{err: errors.New("failed to read coverage report: no such file")}
	r := newTestRunner(exec, col)
	sink := &recordingSink{}

	res, err := r.Run(context.Background(), Request{Include: []Target{tgt1}, Coverage: true}, sink)
	require.NoError(t, err)

	assert.Equal(t, state.Errored, statuses(res)[tgt1.ID])
	evs := sink.ofTarget(tgt1.ID)
	last := evs[len(evs)-1]
	assert.Equal(t, "errored", last.kind)
	assert.Contains(t, last.message, "no such file")
	assert.NotContains(t, sink.kinds(tgt1.ID), "passed")
}

func TestRun_CoverageArtifactMissing(t *testing.T) {
	exec := &fakeExecutor{outcomes: map[string]testOutcome{tgt1.ID: {code: 0}}}
	r := New(exec, Options{Workspace: "/ws"})
	r.collector.(*coverage.Collector).ReadFile = func(string) ([]byte, error) {
		return nil, fmt.Errorf("open: %w", errors.New("file does not exist"))
	}

	res, err := r.Run(context.Background(), Request{Include: []Target{tgt1}, Coverage: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, state.Errored, statuses(res)[tgt1.ID])
	assert.Contains(t, res.Entries[0].Message, "Error parsing coverage data")
}

func TestRun_FailedSkipsCoverage(t *testing.T) {
	exec := &fakeExecutor{outcomes: map[string]testOutcome{tgt1.ID: {code: 3}}}
	col := &fakeCollector{}
	r := newTestRunner(exec, col)

	res, err := r.Run(context.Background(), Request{Include: []Target{tgt1}, Coverage: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, state.Failed, statuses(res)[tgt1.ID])
	assert.Equal(t, 0, col.calls)
}

func TestRun_SpawnErrorIsErroredAndContinues(t *testing.T) {
	exec := &fakeExecutor{outcomes: map[string]testOutcome{
		tgt1.ID: {code: -1, err: errors.New("bazel: executable not found")},
		tgt2.ID: {code: 0},
	}}
	r := newTestRunner(exec, &fakeCollector{})

	res, err := r.Run(context.Background(), Request{Include: []Target{tgt1, tgt2}}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]state.Status{tgt1.ID: state.Errored, tgt2.ID: state.Passed}, statuses(res))
}

func TestRun_OutputIsStreamedInOrder(t *testing.T) {
	exec := &fakeExecutor{outcomes: map[string]testOutcome{
		tgt1.ID: {output: []string{"INFO: ", "Build completed\n", "PASSED\n"}},
	}}
	r := newTestRunner(exec, &fakeCollector{})
	sink := &recordingSink{}

	_, err := r.Run(context.Background(), Request{Include: []Target{tgt1}}, sink)
	require.NoError(t, err)

	var chunks []string
	for _, e := range sink.ofTarget(tgt1.ID) {
		if e.kind == "output" {
			chunks = append(chunks, e.text)
		}
	}
	assert.Equal(t, []string{"INFO: ", "Build completed\n", "PASSED\n"}, chunks)

	// Output arrives between started and the terminal event.
	evs := sink.ofTarget(tgt1.ID)
	assert.Equal(t, "started", evs[1].kind)
	assert.Equal(t, "passed", evs[len(evs)-1].kind)
}

func TestRun_CancelAfterFirstTargetStarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &fakeExecutor{outcomes: map[string]testOutcome{
		tgt1.ID: {code: 0, during: cancel},
		tgt2.ID: {code: 0},
	}}
	r := newTestRunner(exec, &fakeCollector{})
	sink := &recordingSink{}

	res, err := r.Run(ctx, Request{Include: []Target{tgt1, tgt2}}, sink)
	require.NoError(t, err)

	assert.Equal(t, map[string]state.Status{tgt1.ID: state.Passed, tgt2.ID: state.Cancelled}, statuses(res))
	assert.Equal(t, []string{tgt1.ID}, exec.calls)
	assert.Equal(t, []string{"enqueued", "cancelled"}, sink.kinds(tgt2.ID))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := &fakeExecutor{}
	r := newTestRunner(exec, &fakeCollector{})

	res, err := r.Run(ctx, Request{Include: []Target{tgt1, tgt2, tgt3}}, nil)
	require.NoError(t, err)
	assert.Empty(t, exec.calls)
	assert.Equal(t, 3, res.Counts[state.Cancelled])
}

func TestRun_EveryTargetEndsTerminal(t *testing.T) {
	for cancelAt := 0; cancelAt <= 3; cancelAt++ {
		t.Run(fmt.Sprintf("cancel after %d", cancelAt), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			targets := []Target{tgt1, tgt2, tgt3}
			outcomes := map[string]testOutcome{
				tgt1.ID: {code: 0},
				tgt2.ID: {code: 1},
				tgt3.ID: {code: 0},
			}
			if cancelAt > 0 {
				o := outcomes[targets[cancelAt-1].ID]
				o.during = cancel
				outcomes[targets[cancelAt-1].ID] = o
			}

			r := newTestRunner(&fakeExecutor{outcomes: outcomes}, &fakeCollector{})
			res, err := r.Run(ctx, Request{Include: targets}, nil)
			require.NoError(t, err)

			require.Len(t, res.Entries, len(targets))
			terminal := 0
			for _, e := range res.Entries {
				if e.Status.Terminal() {
					terminal++
				}
			}
			assert.Equal(t, len(targets), terminal)
		})
	}
}

func TestRun_AllKnownMinusExcluded(t *testing.T) {
	exec := &fakeExecutor{targets: []Target{tgt3, tgt1, tgt2, tgt1}}
	r := newTestRunner(exec, &fakeCollector{})

	known, err := r.Discover(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []Target{tgt1, tgt2, tgt3}, known)

	res, err := r.Run(context.Background(), Request{Exclude: []Target{tgt2}}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{tgt1.ID, tgt3.ID}, exec.calls)
	assert.Len(t, res.Entries, 2)
}

func TestRun_ExcludeAppliesToInclude(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRunner(exec, &fakeCollector{})

	res, err := r.Run(context.Background(), Request{
		Include: []Target{tgt1, tgt2, tgt3},
		Exclude: []Target{tgt2},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{tgt1.ID, tgt3.ID}, exec.calls)
	assert.Len(t, res.Entries, 2)
}

func TestRun_DuplicateIncludeRunsOnce(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRunner(exec, &fakeCollector{})

	res, err := r.Run(context.Background(), Request{Include: []Target{tgt1, tgt1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{tgt1.ID}, exec.calls)
	assert.Len(t, res.Entries, 1)
}

func TestRun_Args(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRunner(exec, &fakeCollector{report: coverage.Report{}})

	_, err := r.Run(context.Background(), Request{Include: []Target{tgt1}, ExtraArgs: []string{"--config=ci"}}, nil)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), Request{Include: []Target{tgt1}, Coverage: true, ExtraArgs: []string{"--config=ci"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"--curses=no", "--color=yes", "--test_output=all", "--config=ci"}, exec.args[0])
	assert.Equal(t, []string{"--curses=no", "--color=yes", "--test_output=all", "--combined_report=lcov", "--config=ci"}, exec.args[1])
}

func TestDiscover_Error(t *testing.T) {
	exec := &fakeExecutor{queryErr: errors.New("query failed")}
	r := newTestRunner(exec, &fakeCollector{})

	_, err := r.Discover(context.Background(), "//...")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to discover targets")
	assert.Empty(t, r.Known)
}

func TestRun_ExplicitRunID(t *testing.T) {
	r := newTestRunner(&fakeExecutor{}, &fakeCollector{})

	res, err := r.Run(context.Background(), Request{Include: []Target{tgt1}, RunID: "nightly-42"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "nightly-42", res.RunID)
}
