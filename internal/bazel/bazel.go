// Package bazel wraps the bazel subcommands the test runner needs: test,
// coverage, query and info.
package bazel

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/zjy-dev/baztest/internal/exec"
	"github.com/zjy-dev/baztest/internal/logger"
	"github.com/zjy-dev/baztest/internal/state"
)

const (
	CommandTest     = "test"
	CommandCoverage = "coverage"
	CommandQuery    = "query"
	CommandInfo     = "info"

	// InfoOutputPath is the `bazel info` key for the output directory.
	InfoOutputPath = "output_path"
)

// Client runs bazel in a single workspace.
type Client struct {
	executor  exec.Executor
	bazelPath string
	workspace string
}

// NewClient creates a Client that runs bazelPath inside workspace.
func NewClient(executor exec.Executor, bazelPath, workspace string) *Client {
	if bazelPath == "" {
		bazelPath = "bazel"
	}
	return &Client{
		executor:  executor,
		bazelPath: bazelPath,
		workspace: workspace,
	}
}

// Workspace returns the workspace directory commands run in.
func (c *Client) Workspace() string {
	return c.workspace
}

// Test runs `bazel test` (or `bazel coverage` when coverage is set) for
// target, streaming output to onOutput, and returns the exit code.
func (c *Client) Test(ctx context.Context, target string, coverage bool, extraArgs []string, onOutput func(string)) (int, error) {
	command := CommandTest
	if coverage {
		command = CommandCoverage
	}
	args := make([]string, 0, len(extraArgs)+2)
	args = append(args, command)
	args = append(args, extraArgs...)
	args = append(args, target)

	logger.Debug("Running %s %s", c.bazelPath, strings.Join(args, " "))
	code, err := c.executor.Stream(ctx, c.workspace, onOutput, c.bazelPath, args...)
	if err != nil {
		return code, fmt.Errorf("failed to run bazel %s %s: %w", command, target, err)
	}
	return code, nil
}

// QueryTargets runs `bazel query expr --output=label` and returns one
// target per reported label, in bazel's order.
func (c *Client) QueryTargets(ctx context.Context, expr string) ([]state.Target, error) {
	result, err := c.executor.Run(ctx, c.workspace, c.bazelPath, CommandQuery, expr, "--output=label")
	if err != nil {
		return nil, fmt.Errorf("failed to run bazel query: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("bazel query %q exited with code %d: %s", expr, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return parseLabels(result.Stdout), nil
}

// Info returns the value of a single `bazel info` key.
func (c *Client) Info(ctx context.Context, key string) (string, error) {
	result, err := c.executor.Run(ctx, c.workspace, c.bazelPath, CommandInfo, key)
	if err != nil {
		return "", fmt.Errorf("failed to run bazel info: %w", err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("bazel info %s exited with code %d: %s", key, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	value := strings.TrimSpace(result.Stdout)
	if value == "" {
		return "", fmt.Errorf("bazel info %s returned no value", key)
	}
	return value, nil
}

// OutputPath returns `bazel info output_path`.
func (c *Client) OutputPath(ctx context.Context) (string, error) {
	return c.Info(ctx, InfoOutputPath)
}

func parseLabels(out string) []state.Target {
	var targets []state.Target
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		label := strings.TrimSpace(scanner.Text())
		if label == "" {
			continue
		}
		// --output=label_kind prefixes the rule kind: "cc_test rule //a:b".
		if i := strings.LastIndex(label, " "); i >= 0 {
			label = label[i+1:]
		}
		targets = append(targets, state.Target{ID: label, Label: label})
	}
	return targets
}
