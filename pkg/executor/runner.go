// Package executor runs parsed scripts against a device: control flow,
// retries, failure policy and result collection.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/element"
	"github.com/devicelab-dev/ditto-runner/pkg/flow"
	"github.com/devicelab-dev/ditto-runner/pkg/logger"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// Defaults for RunnerConfig.
const (
	DefaultTimeout       = 5 * time.Second
	DefaultRetries       = 2
	DefaultRetryDelay    = time.Second
	DefaultStepDelay     = 300 * time.Millisecond
	DefaultMaxIterations = 1000
	DefaultPollInterval  = element.DefaultPollInterval
)

// RunnerConfig configures a run.
type RunnerConfig struct {
	MinConfidence       float64       // Locator threshold
	Timeout             time.Duration // Per-attempt timeout, bounds element search
	Retries             int           // Retries after the first attempt
	RetryDelay          time.Duration // Initial delay between attempts
	Backoff             string        // flow.BackoffFixed or flow.BackoffExponential
	StepDelay           time.Duration // Delay after each device action
	StopOnFailure       bool          // Halt on the first failed step
	ScreenshotOnFailure bool          // Capture a screenshot before recording a failure
	MaxIterations       int           // Default loop cap
	PollInterval        time.Duration // Element search polling interval
	FilterAds           bool          // Exclude ad-classified elements
	ArtifactsDir        string        // Where screenshots are written

	// Live progress callbacks
	OnStepStart    func(path string, step flow.Step)
	OnStepComplete func(result core.StepResult)

	// Sleep waits for d or until ctx is done. Defaults to a timer; tests
	// replace it to run without real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() RunnerConfig {
	return RunnerConfig{
		MinConfidence: element.DefaultMinConfidence,
		Timeout:       DefaultTimeout,
		Retries:       DefaultRetries,
		RetryDelay:    DefaultRetryDelay,
		Backoff:       flow.BackoffFixed,
		StepDelay:     DefaultStepDelay,
		StopOnFailure: true,
		MaxIterations: DefaultMaxIterations,
		PollInterval:  DefaultPollInterval,
		FilterAds:     true,
		ArtifactsDir:  "reports",
	}
}

// Seeds holds the variable layers applied over the script's declared
// defaults. Overrides win over File.
type Seeds struct {
	File      map[string]vars.Value
	Overrides map[string]vars.Value
}

// RunError is the error that halted a run, with its location in the script.
type RunError struct {
	Path   string // steps[2].loop_steps[0]
	Index  int    // index into RunResult.Steps, -1 when no step was recorded
	Action string
	Line   int
	Err    error
}

func (e *RunError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (%s, line %d): %v", e.Path, e.Action, e.Line, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s (%s): %v", e.Path, e.Action, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Err
}

// RunResult contains the outcome of a script run.
type RunResult struct {
	RunID      string
	Script     string
	SourcePath string
	StartTime  time.Time
	Duration   time.Duration
	Steps      []core.StepResult
	Summary    core.Summary
	Success    bool
	Variables  map[string]vars.Value // final store contents
	Err        *RunError             // first fatal or halting error
}

// Runner executes scripts against one device.
type Runner struct {
	config RunnerConfig
	source element.SnapshotSource
	sink   core.ActionSink
}

// New creates a Runner. Zero-valued limits in cfg fall back to defaults.
func New(source element.SnapshotSource, sink core.ActionSink, cfg RunnerConfig) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = element.DefaultMinConfidence
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff == "" {
		cfg.Backoff = flow.BackoffFixed
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Runner{
		config: cfg,
		source: source,
		sink:   sink,
	}
}

// Config returns the effective configuration.
func (r *Runner) Config() RunnerConfig {
	return r.config
}

// Run executes script. Step failures are reported in the result; the
// returned error is non-nil only when the run could not start.
func (r *Runner) Run(ctx context.Context, script *flow.Script, seeds Seeds) (*RunResult, error) {
	if script == nil {
		return nil, errors.New("no script to run")
	}

	start := time.Now()
	result := &RunResult{
		RunID:      uuid.NewString(),
		Script:     script.Name,
		SourcePath: script.SourcePath,
		StartTime:  start,
	}

	store := vars.Seed(script.Variables, seeds.File, seeds.Overrides)

	locator := element.NewLocator()
	locator.MinConfidence = r.config.MinConfidence
	locator.FilterAds = r.config.FilterAds
	provider := element.NewProvider(r.source, locator)
	provider.PollInterval = r.config.PollInterval

	sr := &scriptRunner{
		ctx:      ctx,
		config:   r.config,
		script:   NewScriptEngine(store, provider),
		provider: provider,
		sink:     r.sink,
	}

	logger.Info("Run %s: %s (%d steps)", result.RunID, script.Name, len(script.Steps))
	_, err := sr.runBlock("steps", script.Steps)

	result.Steps = sr.results
	result.Summary = core.Summarize(sr.results)
	result.Variables = store.Snapshot()
	result.Duration = time.Since(start)

	if err != nil {
		var runErr *RunError
		if !errors.As(err, &runErr) {
			runErr = &RunError{Index: -1, Err: err}
		}
		result.Err = runErr
	}
	result.Success = result.Err == nil && result.Summary.Failed == 0

	if result.Success {
		logger.Info("Run %s passed in %s", result.RunID, result.Duration)
	} else {
		logger.Warn("Run %s failed in %s: %d of %d steps failed", result.RunID, result.Duration,
			result.Summary.Failed, result.Summary.Total)
	}
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
