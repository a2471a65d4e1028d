// Package config handles run configuration for ditto (ditto.yaml).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/ditto-runner/pkg/executor"
	"github.com/devicelab-dev/ditto-runner/pkg/flow"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// File names searched by LoadFromDir, in order.
var fileNames = []string{"ditto.yaml", "ditto.yml"}

// Config represents the run configuration (ditto.yaml). Durations are in
// seconds.
type Config struct {
	// Device settings
	Device string `yaml:"device"` // adb serial; empty picks the only device

	// Locator settings
	MinConfidence float64 `yaml:"min_confidence"`
	FilterAds     bool    `yaml:"filter_ads"`

	// Step runtime
	Timeout             float64 `yaml:"timeout"`
	Retries             int     `yaml:"retries"`
	RetryDelay          float64 `yaml:"retry_delay"`
	Backoff             string  `yaml:"backoff"` // fixed, exponential
	StepDelay           float64 `yaml:"step_delay"`
	StopOnFailure       bool    `yaml:"stop_on_failure"`
	ScreenshotOnFailure bool    `yaml:"screenshot_on_failure"`
	MaxIterations       int     `yaml:"max_iterations"`
	PollInterval        float64 `yaml:"poll_interval"`

	// Output
	OutputDir string `yaml:"output_dir"`
	LogFile   string `yaml:"log_file"`

	// Variables seed the run below the CLI --var overrides. VariablesFile
	// is read on top of them.
	Variables     map[string]vars.Value `yaml:"variables"`
	VariablesFile string                `yaml:"variables_file"`

	// dir is the directory of the loaded file; relative paths resolve
	// against it.
	dir string
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		MinConfidence: 0.3,
		FilterAds:     true,
		Timeout:       5.0,
		Retries:       2,
		RetryDelay:    1.0,
		Backoff:       flow.BackoffFixed,
		StepDelay:     0.3,
		StopOnFailure: true,
		MaxIterations: 1000,
		PollInterval:  0.5,
		OutputDir:     "reports",
	}
}

// Load loads configuration from a file. Keys missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// LoadFromDir looks for ditto.yaml or ditto.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range fileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	// No config file found, return defaults
	return Default(), nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %v", c.MinConfidence)
	}
	if c.Backoff != flow.BackoffFixed && c.Backoff != flow.BackoffExponential {
		return fmt.Errorf("backoff must be %q or %q, got %q", flow.BackoffFixed, flow.BackoffExponential, c.Backoff)
	}
	if c.Timeout < 0 || c.RetryDelay < 0 || c.StepDelay < 0 || c.PollInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	return nil
}

// Dir returns the directory the configuration was loaded from, or "".
func (c *Config) Dir() string {
	return c.dir
}

// FileVariables returns the configured variables merged with the variables
// file. File values win.
func (c *Config) FileVariables() (map[string]vars.Value, error) {
	out := make(map[string]vars.Value, len(c.Variables))
	for k, v := range c.Variables {
		out[k] = v
	}
	if c.VariablesFile == "" {
		return out, nil
	}
	path := c.VariablesFile
	if !filepath.IsAbs(path) && c.dir != "" {
		path = filepath.Join(c.dir, path)
	}
	loaded, err := vars.LoadFile(path)
	if err != nil {
		return nil, err
	}
	for k, v := range loaded {
		out[k] = v
	}
	return out, nil
}

// ToRunnerConfig converts the configuration into executor settings.
func (c *Config) ToRunnerConfig() executor.RunnerConfig {
	rc := executor.DefaultConfig()
	rc.MinConfidence = c.MinConfidence
	rc.FilterAds = c.FilterAds
	rc.Timeout = seconds(c.Timeout)
	rc.Retries = c.Retries
	rc.RetryDelay = seconds(c.RetryDelay)
	rc.Backoff = c.Backoff
	rc.StepDelay = seconds(c.StepDelay)
	rc.StopOnFailure = c.StopOnFailure
	rc.ScreenshotOnFailure = c.ScreenshotOnFailure
	rc.MaxIterations = c.MaxIterations
	rc.PollInterval = seconds(c.PollInterval)
	rc.ArtifactsDir = c.OutputDir
	return rc
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
