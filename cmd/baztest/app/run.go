package app

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zjy-dev/baztest/internal/config"
	"github.com/zjy-dev/baztest/internal/coverage"
	"github.com/zjy-dev/baztest/internal/logger"
	"github.com/zjy-dev/baztest/internal/report"
	"github.com/zjy-dev/baztest/internal/runner"
	"github.com/zjy-dev/baztest/internal/state"
)

type runOptions struct {
	coverage    bool
	exclude     []string
	targetsFile string
	showOutput  bool
	progress    bool
	eventsFile  string
	resultsFile string
	reportDir   string
	metricsFile string
	coverageMap string
	runID       string
}

// NewRunCommand creates the "run" subcommand.
func NewRunCommand(g *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [targets...] [-- bazel args...]",
		Short: "Run test targets one at a time.",
		Long: `Run test targets one at a time through bazel.

Without targets, every test target of the workspace (see "baztest discover")
is run, minus the excluded ones. Targets run in the order given. Arguments
after "--" are passed to every bazel invocation.

With --coverage, targets run through "bazel coverage" and the LCOV report of
each passing target is collected and summarized.

Interrupting the run lets the current target finish; targets not yet started
are reported as cancelled.

The command exits with status 1 when any target failed or errored.

Examples:
  # Run every test target
  baztest run

  # Run two targets with coverage
  baztest run --coverage //lib:lib_test //server:server_test

  # Everything except slow tests, passing extra flags to bazel
  baztest run --exclude //slow:slow_test -- --config=ci

  # Write JSON events and a results file for CI
  baztest run --json events.jsonl --results-file out/results.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("targets-file") {
				opts.targetsFile = cfg.TargetsFile
			}

			labels, extraArgs := args, []string(nil)
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				labels, extraArgs = args[:dash], args[dash:]
			}

			return runTests(cmd, cfg, opts, labels, extraArgs)
		},
	}

	cmd.Flags().BoolVar(&opts.coverage, "coverage", false, "Run with bazel coverage and collect LCOV data")
	cmd.Flags().StringSliceVarP(&opts.exclude, "exclude", "x", nil, "Targets to skip when running all targets")
	cmd.Flags().StringVarP(&opts.targetsFile, "targets-file", "f", "", "YAML file listing targets to include/exclude")
	cmd.Flags().BoolVar(&opts.showOutput, "show-output", true, "Print bazel output while targets run")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "Draw a live progress panel on stderr (implies --show-output=false)")
	cmd.Flags().StringVar(&opts.eventsFile, "json", "", "Write JSON-lines events to this file (\"-\" for stdout)")
	cmd.Flags().StringVar(&opts.resultsFile, "results-file", "", "Write the final run state as JSON to this file")
	cmd.Flags().StringVar(&opts.reportDir, "report-dir", "", "Write a markdown run report into this directory")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write prometheus metrics in text format to this file")
	cmd.Flags().StringVar(&opts.coverageMap, "coverage-map", "", "Record the first target covering each line in this JSON file (accumulates across runs)")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Run id (default: random UUID)")

	return cmd
}

func toTargets(labels []string) []runner.Target {
	targets := make([]runner.Target, 0, len(labels))
	for _, l := range labels {
		targets = append(targets, runner.Target{ID: l, Label: l})
	}
	return targets
}

func runTests(cmd *cobra.Command, cfg *config.Config, opts *runOptions, labels, extraArgs []string) error {
	include, exclude := labels, opts.exclude
	if opts.targetsFile != "" {
		t, err := config.LoadTargetsFile(opts.targetsFile)
		if err != nil {
			return err
		}
		if len(include) == 0 {
			include = t.Include
		}
		exclude = append(exclude, t.Exclude...)
	}

	r, err := newRunner(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(include) == 0 {
		known, err := r.Discover(ctx, cfg.Bazel.Query)
		if err != nil {
			return err
		}
		logger.Info("Discovered %d test targets", len(known))
	}

	runID := opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	out := cmd.OutOrStdout()
	consoleOut := out
	if opts.eventsFile == "-" {
		consoleOut = cmd.ErrOrStderr()
	}

	var progress *report.ProgressSink
	if opts.progress {
		if stderr := cmd.ErrOrStderr(); report.IsTerminal(stderr) {
			progress = report.NewProgressSink(stderr, cfg.Log.Color)
		} else {
			logger.Warn("stderr is not a terminal, --progress ignored")
		}
	}

	rec := report.NewRecorder(0)
	sinks := report.MultiSink{
		report.NewConsoleSink(consoleOut, opts.showOutput && progress == nil, cfg.Log.Color),
		rec,
	}
	if progress != nil {
		sinks = append(sinks, progress)
	}

	if opts.eventsFile != "" {
		w, closeEvents, err := openOutput(opts.eventsFile, out)
		if err != nil {
			return err
		}
		defer closeEvents()
		sinks = append(sinks, report.NewJSONSink(w, runID))
	}

	var registry *prometheus.Registry
	if opts.metricsFile != "" {
		registry = prometheus.NewRegistry()
		sinks = append(sinks, report.NewMetricsSink(registry))
	}

	result, err := r.Run(ctx, runner.Request{
		Include:   toTargets(include),
		Exclude:   toTargets(exclude),
		Coverage:  opts.coverage,
		ExtraArgs: extraArgs,
		RunID:     runID,
	}, sinks)
	if err != nil {
		return err
	}
	if progress != nil {
		progress.Clear()
	}

	if opts.eventsFile != "-" {
		fmt.Fprintln(out)
		report.RenderSummary(out, result)
		if opts.coverage {
			if cov := rec.AllCoverage(entryIDs(result)); len(cov) > 0 {
				report.RenderCoverage(out, cov)
			}
		}
	}

	if opts.resultsFile != "" {
		if err := result.Save(opts.resultsFile); err != nil {
			return err
		}
		logger.Info("Results written to %s", opts.resultsFile)
	}
	if opts.reportDir != "" {
		path, err := report.NewMarkdownReporter(opts.reportDir).Save(result, rec)
		if err != nil {
			return err
		}
		logger.Info("Report written to %s", path)
	}
	if opts.coverageMap != "" {
		if err := updateCoverageMap(opts.coverageMap, result, rec); err != nil {
			return err
		}
	}
	if registry != nil {
		if err := prometheus.WriteToTextfile(opts.metricsFile, registry); err != nil {
			return fmt.Errorf("failed to write metrics file: %w", err)
		}
	}

	if !result.OK() {
		return fmt.Errorf("%d of %d targets failed or errored",
			result.Counts[state.Failed]+result.Counts[state.Errored], len(result.Entries))
	}
	return nil
}

// updateCoverageMap attributes newly covered lines to targets in run order.
func updateCoverageMap(path string, result *runner.Result, rec *report.Recorder) error {
	mapping, err := coverage.NewMapping(path)
	if err != nil {
		return err
	}
	for _, id := range entryIDs(result) {
		added := 0
		for _, f := range rec.Coverage(id) {
			added += mapping.RecordFile(f, id)
		}
		if added > 0 {
			logger.Debug("%s covered %d new lines", id, added)
		}
	}
	if err := mapping.Save(path); err != nil {
		return err
	}
	logger.Info("Coverage map has %d covered lines", mapping.TotalCoveredLines())
	return nil
}

func entryIDs(result *runner.Result) []string {
	ids := make([]string, 0, len(result.Entries))
	for _, e := range result.Entries {
		ids = append(ids, e.Target.ID)
	}
	return ids
}

// openOutput opens path for writing; "-" selects stdout.
func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "-" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}
