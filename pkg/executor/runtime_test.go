package executor

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/flow"
)

func TestRuntime_ExponentialBackoff(t *testing.T) {
	dev := newDevice(t)
	rec := &sleepRecorder{}

	result := runScript(t, dev, testConfig(t, rec), `
- action: tap
  text: Zzqx Nothing Here
  retries: 3
  retry_delay: 1
  backoff: exponential
  timeout: 0.02
`)

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if !reflect.DeepEqual(rec.delays, want) {
		t.Errorf("delays = %v, want %v", rec.delays, want)
	}

	step := result.Steps[0]
	if step.Attempts != 4 || step.MaxAttempts != 4 {
		t.Errorf("Attempts = %d/%d, want 4/4", step.Attempts, step.MaxAttempts)
	}
	if len(step.RetryErrors) != 3 {
		t.Errorf("RetryErrors = %v, want 3 entries", step.RetryErrors)
	}
	if step.Category != core.ErrCategoryElement {
		t.Errorf("Category = %v, want element", step.Category)
	}
	var notFound *core.ElementNotFoundError
	if !errors.As(result.Err, &notFound) {
		t.Errorf("Err = %v, want ElementNotFoundError", result.Err)
	}
}

func TestRuntime_FixedRetryThenSuccess(t *testing.T) {
	dev := newDevice(t)
	dev.Fail("tap", errors.New("adb hiccup"), errors.New("adb hiccup"))
	rec := &sleepRecorder{}

	result := runScript(t, dev, testConfig(t, rec), `
- action: tap
  text: Login
`)

	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}
	step := result.Steps[0]
	if step.Attempts != 3 || !step.Flaky {
		t.Errorf("Attempts = %d, Flaky = %v; want 3, true", step.Attempts, step.Flaky)
	}
	if result.Summary.Flaky != 1 {
		t.Errorf("Summary.Flaky = %d, want 1", result.Summary.Flaky)
	}
	// Two retry delays, then the inter-step delay after the tap.
	want := []time.Duration{time.Second, time.Second, DefaultStepDelay}
	if !reflect.DeepEqual(rec.delays, want) {
		t.Errorf("delays = %v, want %v", rec.delays, want)
	}
}

func TestRuntime_NoRetryForAssertions(t *testing.T) {
	dev := newDevice(t)
	rec := &sleepRecorder{}

	result := runScript(t, dev, testConfig(t, rec), `
- action: assert_exists
  text: Zzqx Nothing Here
  retries: 5
`)

	step := result.Steps[0]
	if step.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", step.Attempts)
	}
	if step.MaxAttempts != 6 {
		t.Errorf("MaxAttempts = %d, want 6", step.MaxAttempts)
	}
	if len(rec.delays) != 0 {
		t.Errorf("delays = %v, want none", rec.delays)
	}
	if n := dev.Count("snapshot"); n != 1 {
		t.Errorf("snapshots = %d, want exactly one check", n)
	}
}

func TestRuntime_RetriesZero(t *testing.T) {
	dev := newDevice(t)
	dev.Fail("open_app", errors.New("no such package"))
	rec := &sleepRecorder{}
	cfg := testConfig(t, rec)
	cfg.Retries = 0

	result := runScript(t, dev, cfg, `
- action: open
  app: com.missing
`)
	if result.Steps[0].Attempts != 1 || result.Steps[0].MaxAttempts != 1 {
		t.Errorf("Attempts = %d/%d, want 1/1", result.Steps[0].Attempts, result.Steps[0].MaxAttempts)
	}
	if result.Success {
		t.Error("Success = true, want false")
	}
}

func TestRuntime_TimeoutBecomesCommandTimeout(t *testing.T) {
	dev := newDevice(t)
	dev.Config.ActionDelay = 200 * time.Millisecond
	cfg := testConfig(t, &sleepRecorder{})
	cfg.Retries = 0

	result := runScript(t, dev, cfg, `
- action: press
  key: back
  timeout: 0.02
`)

	step := result.Steps[0]
	if step.Category != core.ErrCategoryTimeout {
		t.Errorf("Category = %v, want timeout", step.Category)
	}
	if !errors.Is(result.Err, core.ErrCommandTimeout) {
		t.Errorf("Err = %v, want ErrCommandTimeout", result.Err)
	}
}

func TestRuntime_WaitBeforeAndAfter(t *testing.T) {
	dev := newDevice(t)
	rec := &sleepRecorder{}

	runScript(t, dev, testConfig(t, rec), `
- action: tap
  text: Login
  wait_before: 0.5
  wait_after: 2
- action: log
  message: no delay after logs
- action: press
  key: back
`)

	want := []time.Duration{500 * time.Millisecond, 2 * time.Second, DefaultStepDelay}
	if !reflect.DeepEqual(rec.delays, want) {
		t.Errorf("delays = %v, want %v", rec.delays, want)
	}
}

func TestRuntime_WaitStep(t *testing.T) {
	dev := newDevice(t)
	rec := &sleepRecorder{}

	result := runScript(t, dev, testConfig(t, rec), `
- action: wait
  seconds: 1.5
`)
	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}
	want := []time.Duration{1500 * time.Millisecond}
	if !reflect.DeepEqual(rec.delays, want) {
		t.Errorf("delays = %v, want %v", rec.delays, want)
	}
}

func TestRuntime_ScreenshotOnFailure(t *testing.T) {
	dev := newDevice(t)
	cfg := testConfig(t, &sleepRecorder{})
	cfg.ScreenshotOnFailure = true

	result := runScript(t, dev, cfg, `
- action: log
  message: first
- action: assert
  condition: "1 > 2"
`)

	step := result.Steps[1]
	want := filepath.Join(cfg.ArtifactsDir, "failure_1_assert.png")
	if step.Screenshot != want {
		t.Errorf("Screenshot = %q, want %q", step.Screenshot, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("screenshot not written: %v", err)
	}
	if dev.Count("screenshot") != 1 {
		t.Errorf("screenshots = %d, want 1", dev.Count("screenshot"))
	}
}

func TestRuntime_ScreenshotFailureDoesNotMaskError(t *testing.T) {
	dev := newDevice(t)
	dev.Fail("screenshot", errors.New("screencap failed"))
	cfg := testConfig(t, &sleepRecorder{})
	cfg.ScreenshotOnFailure = true

	result := runScript(t, dev, cfg, `
- action: assert
  condition: "false"
`)
	step := result.Steps[0]
	if step.Screenshot != "" {
		t.Errorf("Screenshot = %q, want empty", step.Screenshot)
	}
	if step.Category != core.ErrCategoryAssertion {
		t.Errorf("Category = %v, want assertion", step.Category)
	}
}

func TestNewBackOff(t *testing.T) {
	fixed := newBackOff(flow.BackoffFixed, 500*time.Millisecond)
	for i := 0; i < 3; i++ {
		if got := fixed.NextBackOff(); got != 500*time.Millisecond {
			t.Errorf("fixed[%d] = %v, want 500ms", i, got)
		}
	}

	exp := newBackOff(flow.BackoffExponential, 250*time.Millisecond)
	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second}
	for i, w := range want {
		if got := exp.NextBackOff(); got != w {
			t.Errorf("exponential[%d] = %v, want %v", i, got, w)
		}
	}

	zero := newBackOff(flow.BackoffExponential, 0)
	if got := zero.NextBackOff(); got != 0 {
		t.Errorf("zero delay = %v, want 0", got)
	}
}

func TestIsDeviceAction(t *testing.T) {
	tests := []struct {
		typ  flow.StepType
		want bool
	}{
		{flow.StepTap, true},
		{flow.StepTypeText, true},
		{flow.StepOpen, true},
		{flow.StepLog, false},
		{flow.StepAssertExists, false},
		{flow.StepWait, false},
		{flow.StepSetVariable, false},
	}
	for _, tt := range tests {
		if got := isDeviceAction(tt.typ); got != tt.want {
			t.Errorf("isDeviceAction(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}
