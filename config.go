package featex

import (
	"errors"
	"fmt"
	"os"

	"github.com/unixpickle/featex/model"
	"gopkg.in/yaml.v3"
)

// InputType identifies the kind of files in an input
// directory.
type InputType string

const (
	// Images are raster images in any supported format.
	Images InputType = "images"

	// Features are .npz archives written by a previous run.
	Features InputType = "features"
)

// Defaults used by DefaultConfig.
const (
	DefaultBatchSize = 32
	DefaultOutputDir = "features/output/"
)

// Config configures an extraction run.
type Config struct {
	// InputDir is a flat directory of files named
	// "<index>.<ext>".
	InputDir string `yaml:"input_dir"`

	// LayerName is the layer whose output is extracted.
	LayerName string `yaml:"layer_name"`

	InputType InputType `yaml:"input_type"`

	// ModelPath is a saved model file.
	// If empty, DefaultModel is used.
	ModelPath string `yaml:"model,omitempty"`

	// Flatten reduces every feature record to one dimension.
	Flatten bool `yaml:"flatten"`

	BatchSize int    `yaml:"batch_size"`
	OutputDir string `yaml:"output_dir"`

	// FilterFiles list example indexes, one per line.
	// When set, only the listed examples are processed.
	FilterFiles []string `yaml:"filter_indexes,omitempty"`

	// CustomMetrics names metrics which saved models may
	// refer to.
	// They are loaded as no-op placeholders.
	CustomMetrics []string `yaml:"custom_metrics,omitempty"`

	DefaultModel string `yaml:"default_model"`

	// WeightsDir may hold saved weights for DefaultModel.
	WeightsDir string `yaml:"weights_dir,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`
}

// A ConfigError indicates that a run was misconfigured,
// as opposed to failing on bad input data.
type ConfigError struct {
	Err error
}

func (c *ConfigError) Error() string {
	return "configuration: " + c.Err.Error()
}

func (c *ConfigError) Unwrap() error {
	return c.Err
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{Err: fmt.Errorf(format, args...)}
}

// DefaultConfig returns a Config with every default set.
func DefaultConfig() *Config {
	return &Config{
		InputType:     Images,
		BatchSize:     DefaultBatchSize,
		OutputDir:     DefaultOutputDir,
		CustomMetrics: append([]string{}, model.DefaultPlaceholders...),
		DefaultModel:  model.DefaultPretrained,
	}
}

// LoadConfigFile reads a YAML config file.
// Fields missing from the file keep their defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, configErrorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config for missing or invalid
// fields.
func (c *Config) Validate() error {
	var errs []error
	if c.InputDir == "" {
		errs = append(errs, errors.New("missing input directory"))
	}
	if c.LayerName == "" {
		errs = append(errs, errors.New("missing layer name"))
	}
	if c.InputType != Images && c.InputType != Features {
		errs = append(errs, fmt.Errorf("unknown input type %q (expected %q or %q)",
			c.InputType, Images, Features))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", c.BatchSize))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("missing output directory"))
	}
	if c.ModelPath == "" && c.DefaultModel == "" {
		errs = append(errs, errors.New("no model path or default model"))
	}
	if len(errs) > 0 {
		return &ConfigError{Err: errors.Join(errs...)}
	}
	return nil
}
