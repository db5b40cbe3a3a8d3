package app

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zjy-dev/baztest/internal/bazel"
	"github.com/zjy-dev/baztest/internal/config"
	"github.com/zjy-dev/baztest/internal/logger"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configFile string
	bazelPath  string
	workspace  string
	logLevel   string
	noColor    bool
}

func (o *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configFile, "config", "c", "", "Config file (default: baztest.yaml in ., ./configs or $HOME/.baztest)")
	fs.StringVar(&o.bazelPath, "bazel", "bazel", "Path to the bazel executable")
	fs.StringVarP(&o.workspace, "workspace", "w", ".", "Bazel workspace directory")
	fs.StringVar(&o.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.BoolVar(&o.noColor, "no-color", false, "Disable colored output")
}

// load reads the config file and applies every flag the user set on top of
// it, then initializes the logger.
func (o *globalOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("bazel") {
		cfg.Bazel.Path = o.bazelPath
	}
	if flags.Changed("workspace") {
		cfg.Bazel.Workspace = o.workspace
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("no-color") {
		cfg.Log.Color = !o.noColor
	}

	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetColorEnable(cfg.Log.Color)
	logger.SetLevel(cfg.Log.Level)

	return cfg, nil
}

// resolveWorkspace returns the absolute workspace root. A directory inside a
// workspace resolves to its root; a directory outside any workspace is used
// as is.
func resolveWorkspace(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace %s: %w", dir, err)
	}
	root, err := bazel.FindWorkspace(abs)
	if errors.Is(err, bazel.ErrNoWorkspace) {
		logger.Warn("No Bazel workspace found above %s, using it as is", abs)
		return abs, nil
	}
	if err != nil {
		return "", err
	}
	return root, nil
}

// NewBaztestCommand creates the root command for the baztest tool.
func NewBaztestCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "baztest",
		Short: "Discover and run Bazel test targets.",
		Long: `baztest is a command-line tool that discovers Bazel test targets, runs them
one at a time and collects LCOV coverage for coverage runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewDiscoverCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewLcovCommand(opts))

	return cmd
}
