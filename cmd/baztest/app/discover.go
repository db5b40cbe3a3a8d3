package app

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/zjy-dev/baztest/internal/bazel"
	"github.com/zjy-dev/baztest/internal/config"
	"github.com/zjy-dev/baztest/internal/exec"
	"github.com/zjy-dev/baztest/internal/runner"
)

// newRunner builds a runner for the configured workspace.
func newRunner(cfg *config.Config) (*runner.Runner, error) {
	workspace, err := resolveWorkspace(cfg.Bazel.Workspace)
	if err != nil {
		return nil, err
	}
	client := bazel.NewClient(exec.NewCommandExecutor(), cfg.Bazel.Path, workspace)
	return runner.New(client, runner.Options{
		Workspace:    workspace,
		TestArgs:     cfg.Bazel.TestArgs,
		CoverageArgs: cfg.Bazel.CoverageArgs,
	}), nil
}

// NewDiscoverCommand creates the "discover" subcommand.
func NewDiscoverCommand(g *globalOptions) *cobra.Command {
	var (
		query  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the test targets of the workspace.",
		Long: `List the test targets of the workspace, sorted by label.

Targets are found with "bazel query". The query defaults to every test rule
in the workspace and can be set in the config file under 'bazel.query'.

Examples:
  # List every test target
  baztest discover

  # Only targets under //server
  baztest discover --query "kind('.*_test rule', //server/...)"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("query") {
				query = cfg.Bazel.Query
			}

			r, err := newRunner(cfg)
			if err != nil {
				return err
			}
			targets, err := r.Discover(cmd.Context(), query)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(targets)
			}
			for _, t := range targets {
				fmt.Fprintln(out, t.Label)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", runner.DefaultQuery, "bazel query expression selecting the targets")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print targets as JSON")

	return cmd
}
