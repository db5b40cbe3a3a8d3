package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/zjy-dev/baztest/internal/coverage"
	"github.com/zjy-dev/baztest/internal/logger"
	"github.com/zjy-dev/baztest/internal/report"
)

// NewLcovCommand creates the "lcov" subcommand.
func NewLcovCommand(g *globalOptions) *cobra.Command {
	var (
		baseDir        string
		gcovrUncovered string
		outFile        string
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "lcov [file]",
		Short: "Show the coverage of an LCOV file.",
		Long: `Parse a local LCOV coverage file and print a per-file summary.

Relative source paths are resolved against --base, which defaults to the
workspace root. A gcovr uncovered-lines JSON report can be given instead of,
or in addition to, the LCOV file.

Examples:
  # Summarize the last coverage run
  baztest lcov bazel-out/_coverage/_coverage_report.dat

  # Rewrite a report with absolute paths
  baztest lcov coverage.dat --base /src/repo --out coverage.abs.dat

  # Show lines gcovr reported as uncovered
  baztest lcov --gcovr-uncovered uncovered.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && gcovrUncovered == "" {
				return errors.New("an LCOV file or --gcovr-uncovered is required")
			}

			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("base") {
				if baseDir, err = resolveWorkspace(cfg.Bazel.Workspace); err != nil {
					return err
				}
			}
			if baseDir, err = filepath.Abs(baseDir); err != nil {
				return fmt.Errorf("failed to resolve base directory: %w", err)
			}

			var rep coverage.Report
			if len(args) == 1 {
				raw, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read coverage file: %w", err)
				}
				rep, err = coverage.ParseLcovBytes(cmd.Context(), baseDir, raw)
				if err != nil {
					return fmt.Errorf("failed to parse coverage file %s: %w", args[0], err)
				}
				logger.Debug("Parsed %d records from %s", len(rep), args[0])
			}
			if gcovrUncovered != "" {
				uncovered, err := coverage.LoadGcovrUncovered(gcovrUncovered)
				if err != nil {
					return err
				}
				rep = append(rep, coverage.FromGcovrUncovered(uncovered, baseDir)...)
			}

			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", outFile, err)
				}
				if err := rep.WriteLcov(f); err != nil {
					f.Close()
					return fmt.Errorf("failed to write %s: %w", outFile, err)
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("failed to write %s: %w", outFile, err)
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			report.RenderCoverage(out, rep)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseDir, "base", ".", "Directory relative source paths are resolved against (default: workspace root)")
	cmd.Flags().StringVar(&gcovrUncovered, "gcovr-uncovered", "", "gcovr uncovered-lines JSON report to include")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write the parsed report back as LCOV with resolved paths")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the parsed report as JSON")

	return cmd
}
