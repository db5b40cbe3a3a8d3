// Package runner drives a test run: it selects targets, executes them one at
// a time through bazel, tracks their state and collects coverage.
package runner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/zjy-dev/baztest/internal/coverage"
	"github.com/zjy-dev/baztest/internal/logger"
	"github.com/zjy-dev/baztest/internal/state"
)

// Target identifies a test target.
type Target = state.Target

// DefaultQuery selects every test rule in the workspace.
const DefaultQuery = "kind('.*_test rule', ...)"

// FailedMessage is reported for targets whose test process exits non-zero.
const FailedMessage = "failed"

var (
	// DefaultTestArgs are passed to every bazel test/coverage invocation.
	DefaultTestArgs = []string{"--curses=no", "--color=yes", "--test_output=all"}

	// DefaultCoverageArgs are appended in coverage mode so that bazel writes
	// the combined LCOV report.
	DefaultCoverageArgs = []string{"--combined_report=lcov"}
)

// Executor runs bazel on behalf of the runner.
type Executor interface {
	// Test runs target and returns its exit code. Output chunks are passed
	// to onOutput as they are produced.
	Test(ctx context.Context, target string, coverage bool, extraArgs []string, onOutput func(string)) (int, error)

	// QueryTargets returns the targets matching expr.
	QueryTargets(ctx context.Context, expr string) ([]Target, error)

	// OutputPath returns bazel's output directory.
	OutputPath(ctx context.Context) (string, error)
}

// CoverageCollector loads the coverage produced by the last coverage run.
type CoverageCollector interface {
	Collect(ctx context.Context, workspace string) (coverage.Report, error)
}

// Request selects the targets of a run.
type Request struct {
	// Include lists the targets to run. When empty, every known target is
	// run. Targets in Exclude are dropped from either set.
	Include []Target
	Exclude []Target

	// Coverage runs `bazel coverage` and collects LCOV data for passing targets.
	Coverage bool

	// ExtraArgs are appended after the configured bazel arguments.
	ExtraArgs []string

	// RunID names the run. A random id is generated when empty.
	RunID string
}

// Result is the final state of a run.
type Result struct {
	state.Snapshot
}

// OK reports whether no target failed or errored.
func (r *Result) OK() bool {
	return r.Counts[state.Failed] == 0 && r.Counts[state.Errored] == 0
}

// Options configures a Runner.
type Options struct {
	// Workspace is the base directory for relative coverage paths.
	Workspace string

	// TestArgs defaults to DefaultTestArgs.
	TestArgs []string

	// CoverageArgs defaults to DefaultCoverageArgs.
	CoverageArgs []string

	// Collector defaults to a coverage.Collector reading through the executor.
	Collector CoverageCollector
}

// Runner executes runs against a single workspace. It holds no per-run
// state; each call to Run gets its own tracker.
type Runner struct {
	executor     Executor
	collector    CoverageCollector
	workspace    string
	testArgs     []string
	coverageArgs []string

	// Known is the result of the last Discover.
	Known []Target

	now      func() time.Time
	newRunID func() string
}

// New creates a Runner.
func New(executor Executor, opts Options) *Runner {
	r := &Runner{
		executor:     executor,
		collector:    opts.Collector,
		workspace:    opts.Workspace,
		testArgs:     opts.TestArgs,
		coverageArgs: opts.CoverageArgs,
		now:          time.Now,
		newRunID:     uuid.NewString,
	}
	if r.collector == nil {
		r.collector = coverage.NewCollector(executor)
	}
	if r.testArgs == nil {
		r.testArgs = DefaultTestArgs
	}
	if r.coverageArgs == nil {
		r.coverageArgs = DefaultCoverageArgs
	}
	return r
}

// Discover queries the workspace for test targets, sorted by label, and
// stores them in Known.
func (r *Runner) Discover(ctx context.Context, query string) ([]Target, error) {
	if query == "" {
		query = DefaultQuery
	}
	found, err := r.executor.QueryTargets(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to discover targets: %w", err)
	}

	seen := make(map[string]bool, len(found))
	targets := make([]Target, 0, len(found))
	for _, t := range found {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		targets = append(targets, t)
	}
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].Label < targets[j].Label })

	r.Known = targets
	return targets, nil
}

// selectTargets builds the initial target set of req. Exclude applies to
// explicit includes as well as to the known targets.
func (r *Runner) selectTargets(req Request) []Target {
	excluded := make(map[string]bool, len(req.Exclude))
	for _, t := range req.Exclude {
		excluded[t.ID] = true
	}

	candidates := r.Known
	if len(req.Include) > 0 {
		candidates = req.Include
	}
	var targets []Target
	for _, t := range candidates {
		if excluded[t.ID] {
			if len(req.Include) > 0 {
				logger.Warn("Skipping %s: target is both included and excluded", t.ID)
			}
			continue
		}
		targets = append(targets, t)
	}
	return targets
}

func (r *Runner) args(req Request) []string {
	args := append([]string{}, r.testArgs...)
	if req.Coverage {
		args = append(args, r.coverageArgs...)
	}
	return append(args, req.ExtraArgs...)
}

// Run executes the targets selected by req one at a time.
//
// Cancelling ctx stops the run before the next target is selected; a target
// already running is allowed to finish and reports its real outcome, and
// every target not yet started ends Cancelled.
func (r *Runner) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	if sink == nil {
		sink = NopSink{}
	}

	runID := req.RunID
	if runID == "" {
		runID = r.newRunID()
	}
	tracker := state.NewTracker(runID)
	log := logger.With(map[string]interface{}{"run": tracker.RunID()})

	var queue []Target
	for _, t := range r.selectTargets(req) {
		if err := tracker.Enqueue(t); err != nil {
			log.Warn("Skipping target %s: %v", t.ID, err)
			continue
		}
		queue = append(queue, t)
		sink.OnEnqueued(t)
	}
	log.Info("Starting run with %d targets (coverage=%t)", len(queue), req.Coverage)

	args := r.args(req)
	// In-flight targets run to completion even if ctx is cancelled.
	execCtx := context.WithoutCancel(ctx)

	for len(queue) > 0 && ctx.Err() == nil {
		target := queue[0]
		queue = queue[1:]
		r.runTarget(execCtx, tracker, target, req.Coverage, args, sink)
	}

	if ctx.Err() != nil {
		cancelled := tracker.CancelRemaining()
		if len(cancelled) > 0 {
			log.Warn("Run cancelled, %d targets not started", len(cancelled))
		}
		for _, t := range cancelled {
			sink.OnCancelled(t)
		}
	}

	result := &Result{Snapshot: tracker.Snapshot()}
	log.Info("Run finished: %d passed, %d failed, %d errored, %d cancelled",
		result.Counts[state.Passed], result.Counts[state.Failed],
		result.Counts[state.Errored], result.Counts[state.Cancelled])
	return result, nil
}

// runTarget drives one target from Enqueued to a terminal state.
func (r *Runner) runTarget(ctx context.Context, tracker *state.Tracker, target Target, withCoverage bool, args []string, sink Sink) {
	log := logger.With(map[string]interface{}{"run": tracker.RunID(), "target": target.ID})

	if err := tracker.Begin(target.ID); err != nil {
		log.Error("Cannot start target: %v", err)
		return
	}
	start := r.now()
	sink.OnStarted(target)

	code, err := r.executor.Test(ctx, target.ID, withCoverage, args, func(chunk string) {
		sink.OnOutput(target, chunk)
	})
	duration := r.now().Sub(start)

	switch {
	case err != nil:
		r.complete(tracker, target, state.Errored, duration, err.Error(), sink)
	case code != 0:
		log.Debug("Exited with code %d", code)
		r.complete(tracker, target, state.Failed, duration, FailedMessage, sink)
	case withCoverage:
		report, err := r.collector.Collect(ctx, r.workspace)
		if err != nil {
			log.Warn("Coverage collection failed: %v", err)
			r.complete(tracker, target, state.Errored, duration, fmt.Sprintf("Error parsing coverage data: %v", err), sink)
			return
		}
		r.complete(tracker, target, state.Passed, duration, "", sink)
		for _, file := range report {
			sink.OnCoverage(target, file)
		}
		log.Debug("Reported coverage for %d files", len(report))
	default:
		r.complete(tracker, target, state.Passed, duration, "", sink)
	}
}

func (r *Runner) complete(tracker *state.Tracker, target Target, outcome state.Status, duration time.Duration, message string, sink Sink) {
	if err := tracker.Complete(target.ID, outcome, duration, message); err != nil {
		logger.Error("Cannot complete %s: %v", target.ID, err)
		return
	}
	switch outcome {
	case state.Passed:
		sink.OnPassed(target, duration)
	case state.Failed:
		sink.OnFailed(target, message, duration)
	case state.Errored:
		sink.OnErrored(target, message, duration)
	}
}
