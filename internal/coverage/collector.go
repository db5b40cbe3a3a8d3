package coverage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// ArtifactDir is the directory under bazel's output_path holding the combined report.
	ArtifactDir = "_coverage"

	// ArtifactName is the combined LCOV report written by --combined_report=lcov.
	ArtifactName = "_coverage_report.dat"
)

// OutputPathProvider reports the build tool's output directory.
type OutputPathProvider interface {
	OutputPath(ctx context.Context) (string, error)
}

// Collector reads the combined coverage artifact left by a coverage run and
// parses it.
type Collector struct {
	info OutputPathProvider

	// ReadFile reads the artifact. Defaults to os.ReadFile.
	ReadFile func(name string) ([]byte, error)
}

// NewCollector creates a Collector that locates artifacts through info.
func NewCollector(info OutputPathProvider) *Collector {
	return &Collector{
		info:     info,
		ReadFile: os.ReadFile,
	}
}

// ArtifactPath returns the combined report location under outputPath.
func ArtifactPath(outputPath string) string {
	return filepath.Join(outputPath, ArtifactDir, ArtifactName)
}

// Collect parses the artifact of the run that just finished, resolving
// relative source paths against workspace.
func (c *Collector) Collect(ctx context.Context, workspace string) (Report, error) {
	outputPath, err := c.info.OutputPath(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get output path: %w", err)
	}

	path := ArtifactPath(outputPath)
	raw, err := c.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read coverage report %s: %w", path, err)
	}

	report, err := ParseLcovBytes(ctx, workspace, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse coverage report %s: %w", path, err)
	}
	return report, nil
}
