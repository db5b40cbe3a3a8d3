package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zjy-dev/baztest/internal/runner"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. BAZTEST_BAZEL_PATH for bazel.path.
const EnvPrefix = "BAZTEST"

// DefaultConfigName is the base name of the config file searched for when
// no explicit file is given.
const DefaultConfigName = "baztest"

// Config is the top-level baztest configuration.
type Config struct {
	Bazel BazelConfig `mapstructure:"bazel"`
	Log   LogConfig   `mapstructure:"log"`

	// TargetsFile is an optional YAML file listing the targets to run.
	TargetsFile string `mapstructure:"targets_file"`
}

// BazelConfig holds how bazel is invoked.
type BazelConfig struct {
	Path         string   `mapstructure:"path"`
	Workspace    string   `mapstructure:"workspace"`
	Query        string   `mapstructure:"query"`
	TestArgs     []string `mapstructure:"test_args"`
	CoverageArgs []string `mapstructure:"coverage_args"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Color bool   `mapstructure:"color"`
}

// Targets is the content of a targets file.
type Targets struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// NewViper returns a viper instance with defaults and environment bindings
// set. An explicit configFile must exist; otherwise baztest.yaml is looked
// up in the working directory, its configs directory and $HOME/.baztest, and
// a missing file is not an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		return v, nil
	}

	v.SetConfigName(DefaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("configs")
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		v.AddConfigPath(filepath.Join(home, ".baztest"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return v, nil
}

// LoadConfig loads the baztest configuration. See NewViper for the lookup
// rules.
func LoadConfig(configFile string) (*Config, error) {
	v, err := NewViper(configFile)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bazel.path", "bazel")
	v.SetDefault("bazel.workspace", ".")
	v.SetDefault("bazel.query", runner.DefaultQuery)
	v.SetDefault("bazel.test_args", runner.DefaultTestArgs)
	v.SetDefault("bazel.coverage_args", runner.DefaultCoverageArgs)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.color", true)
	v.SetDefault("targets_file", "")
}

// LoadTargetsFile parses a YAML targets file. Both a plain list of labels
// and a mapping with include/exclude lists are accepted.
func LoadTargetsFile(path string) (*Targets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file %s: %w", path, err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse targets file %s: %w", path, err)
	}
	if len(node.Content) == 0 {
		return &Targets{}, nil
	}

	var targets Targets
	if node.Content[0].Kind == yaml.SequenceNode {
		err = node.Content[0].Decode(&targets.Include)
	} else {
		err = node.Content[0].Decode(&targets)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse targets file %s: %w", path, err)
	}
	return &targets, nil
}
