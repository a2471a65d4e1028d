package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/flow"
	"github.com/devicelab-dev/ditto-runner/pkg/logger"
)

// attemptPolicy is the effective timing of one step.
type attemptPolicy struct {
	attempts  int
	timeout   time.Duration
	backoff   backoff.BackOff
	waitAfter time.Duration
}

// policyFor merges step overrides over the run configuration.
func (sr *scriptRunner) policyFor(step flow.Step) attemptPolicy {
	base := step.Base()
	p := attemptPolicy{
		attempts: sr.config.Retries + 1,
		timeout:  sr.config.Timeout,
	}
	if base.Retries != nil {
		p.attempts = *base.Retries + 1
	}
	if base.Timeout != nil {
		p.timeout = seconds(*base.Timeout)
	}

	delay := sr.config.RetryDelay
	if base.RetryDelay != nil {
		delay = seconds(*base.RetryDelay)
	}
	strategy := sr.config.Backoff
	if base.Backoff != "" {
		strategy = base.Backoff
	}
	p.backoff = newBackOff(strategy, delay)

	if isDeviceAction(step.Type()) {
		p.waitAfter = sr.config.StepDelay
	}
	if base.WaitAfter != nil {
		p.waitAfter = seconds(*base.WaitAfter)
	}
	return p
}

// newBackOff returns the inter-attempt schedule: constant, or doubling from
// delay without jitter.
func newBackOff(strategy string, delay time.Duration) backoff.BackOff {
	if strategy != flow.BackoffExponential || delay <= 0 {
		return backoff.NewConstantBackOff(delay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 64 * delay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// isDeviceAction reports whether the step acts on the device and is followed
// by the inter-step delay.
func isDeviceAction(t flow.StepType) bool {
	switch t {
	case flow.StepTap, flow.StepLongPress, flow.StepSwipe, flow.StepScroll,
		flow.StepTypeText, flow.StepPress, flow.StepOpen:
		return true
	}
	return false
}

// execute runs a leaf step with its timeout and retry policy and returns the
// final result. Non-retryable errors end the step on the first attempt.
func (sr *scriptRunner) execute(path string, step flow.Step) core.StepResult {
	start := time.Now()
	base := step.Base()
	policy := sr.policyFor(step)

	res := sr.newResult(path, step, start, core.StatusRunning, "")
	res.MaxAttempts = policy.attempts

	if base.WaitBefore > 0 {
		if err := sr.config.Sleep(sr.ctx, seconds(base.WaitBefore)); err != nil {
			return sr.finish(res, step, start, err)
		}
	}

	var err error
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		out := attemptOutput{}

		actx, cancel := sr.attemptContext(step, policy.timeout)
		err = sr.dispatch(actx, step, policy.timeout, &out)
		cancel()

		out.apply(&res)
		if err == nil {
			break
		}
		if ctxErr := sr.ctx.Err(); ctxErr != nil {
			err = ctxErr
			break
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = core.ErrCommandTimeout.WithMessage(fmt.Sprintf("%s timed out after %s", step.Type(), policy.timeout)).WithCause(err)
		}
		if !core.IsRetryable(err) || attempt >= policy.attempts {
			break
		}

		res.RetryErrors = append(res.RetryErrors, err.Error())
		delay := policy.backoff.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		logger.Step(path, res.Action).Debugf("attempt %d/%d failed: %v; retrying in %s", attempt, policy.attempts, err, delay)
		if sleepErr := sr.config.Sleep(sr.ctx, delay); sleepErr != nil {
			err = sleepErr
			break
		}
	}

	if err == nil && policy.waitAfter > 0 {
		err = sr.config.Sleep(sr.ctx, policy.waitAfter)
	}
	return sr.finish(res, step, start, err)
}

// attemptContext bounds one attempt by timeout. wait steps run to their own
// duration.
func (sr *scriptRunner) attemptContext(step flow.Step, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 || step.Type() == flow.StepWait {
		return context.WithCancel(sr.ctx)
	}
	return context.WithTimeout(sr.ctx, timeout)
}

// finish sets the final status, running the screenshot hook before a
// failure is recorded.
func (sr *scriptRunner) finish(res core.StepResult, step flow.Step, start time.Time, err error) core.StepResult {
	res.Duration = time.Since(start)
	if err == nil {
		res.Status = core.StatusSuccess
		res.Flaky = res.Attempts > 1
		return res
	}

	res.SetError(err)
	res.Status = core.StatusFailure
	if step.IsOptional() && !core.IsFatal(err) {
		res.Status = core.StatusWarned
	}
	if sr.config.ScreenshotOnFailure && sr.ctx.Err() == nil {
		if path, shotErr := sr.captureFailure(res); shotErr == nil {
			res.Screenshot = path
		} else {
			logger.Warn("failure screenshot for %s: %v", res.Path, shotErr)
		}
	}
	res.Duration = time.Since(start)
	return res
}
