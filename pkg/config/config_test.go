package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/flow"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "ditto.yaml")

	writeFile(t, configPath, `
device: emulator-5554
min_confidence: 0.5
timeout: 10
retries: 1
backoff: exponential
stop_on_failure: false
screenshot_on_failure: true
output_dir: out
variables:
  user: test
  attempts: 3
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Device != "emulator-5554" {
		t.Errorf("Device = %q", cfg.Device)
	}
	if cfg.MinConfidence != 0.5 || cfg.Timeout != 10 || cfg.Retries != 1 {
		t.Errorf("MinConfidence/Timeout/Retries = %v/%v/%v", cfg.MinConfidence, cfg.Timeout, cfg.Retries)
	}
	if cfg.Backoff != flow.BackoffExponential {
		t.Errorf("Backoff = %q", cfg.Backoff)
	}
	if cfg.StopOnFailure || !cfg.ScreenshotOnFailure {
		t.Errorf("StopOnFailure/ScreenshotOnFailure = %v/%v", cfg.StopOnFailure, cfg.ScreenshotOnFailure)
	}
	if cfg.OutputDir != "out" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if !cfg.Variables["user"].Equal(vars.String("test")) || !cfg.Variables["attempts"].Equal(vars.Int(3)) {
		t.Errorf("Variables = %v", cfg.Variables)
	}
	if cfg.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", cfg.Dir(), dir)
	}

	// Unset keys keep their defaults
	if cfg.RetryDelay != 1.0 || cfg.MaxIterations != 1000 || !cfg.FilterAds {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/ditto.yaml"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ditto.yaml")
	writeFile(t, path, "retries: [unclosed\n")

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"min_confidence: 1.5\n", "min_confidence"},
		{"backoff: linear\n", "backoff"},
		{"timeout: -1\n", "negative"},
		{"retries: -2\n", "retries"},
		{"max_iterations: 0\n", "max_iterations"},
	}
	for _, tt := range tests {
		path := filepath.Join(t.TempDir(), "ditto.yaml")
		writeFile(t, path, tt.content)

		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Load(%q) error = %v, want mention of %q", tt.content, err, tt.want)
		}
	}
}

func TestLoadFromDir(t *testing.T) {
	t.Run("yaml preferred", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "ditto.yaml"), "device: yaml\n")
		writeFile(t, filepath.Join(dir, "ditto.yml"), "device: yml\n")

		cfg, err := LoadFromDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Device != "yaml" {
			t.Errorf("Device = %q, want yaml", cfg.Device)
		}
	})

	t.Run("yml", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "ditto.yml"), "device: yml\n")

		cfg, err := LoadFromDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Device != "yml" {
			t.Errorf("Device = %q, want yml", cfg.Device)
		}
	})

	t.Run("no file", func(t *testing.T) {
		cfg, err := LoadFromDir(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Timeout != 5.0 || cfg.OutputDir != "reports" {
			t.Errorf("expected defaults, got %+v", cfg)
		}
	})
}

func TestFileVariables(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "vars.yaml"), "user: from_file\nenv: staging\n")
	writeFile(t, filepath.Join(dir, "ditto.yaml"), `
variables:
  user: from_config
  region: eu
variables_file: vars.yaml
`)

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := cfg.FileVariables()
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]vars.Value{
		"user":   vars.String("from_file"),
		"env":    vars.String("staging"),
		"region": vars.String("eu"),
	}
	if len(got) != len(want) {
		t.Fatalf("FileVariables() = %v", got)
	}
	for k, v := range want {
		if !got[k].Equal(v) {
			t.Errorf("%s = %v, want %v", k, got[k].Repr(), v.Repr())
		}
	}

	cfg.VariablesFile = "missing.yaml"
	if _, err := cfg.FileVariables(); err == nil {
		t.Error("expected error for missing variables file")
	}
}

func TestToRunnerConfig(t *testing.T) {
	cfg := Default()
	cfg.Timeout = 2.5
	cfg.StepDelay = 0
	cfg.PollInterval = 0.25
	cfg.ScreenshotOnFailure = true
	cfg.OutputDir = "artifacts"

	rc := cfg.ToRunnerConfig()

	if rc.Timeout != 2500*time.Millisecond {
		t.Errorf("Timeout = %v", rc.Timeout)
	}
	if rc.StepDelay != 0 {
		t.Errorf("StepDelay = %v, want 0", rc.StepDelay)
	}
	if rc.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", rc.PollInterval)
	}
	if rc.RetryDelay != time.Second || rc.Retries != 2 || rc.MaxIterations != 1000 {
		t.Errorf("RetryDelay/Retries/MaxIterations = %v/%d/%d", rc.RetryDelay, rc.Retries, rc.MaxIterations)
	}
	if !rc.StopOnFailure || !rc.ScreenshotOnFailure || !rc.FilterAds {
		t.Errorf("flags = %+v", rc)
	}
	if rc.ArtifactsDir != "artifacts" || rc.Sleep != nil {
		t.Errorf("ArtifactsDir = %q", rc.ArtifactsDir)
	}
}
