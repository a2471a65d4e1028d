package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/element"
	"github.com/devicelab-dev/ditto-runner/pkg/flow"
	"github.com/devicelab-dev/ditto-runner/pkg/logger"
	"github.com/devicelab-dev/ditto-runner/pkg/report"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// Gesture defaults.
const (
	DefaultLongPress = time.Second
	DefaultSwipe     = 300 * time.Millisecond
	DefaultScroll    = 500 * time.Millisecond
)

// attemptOutput collects what one attempt reports.
type attemptOutput struct {
	match   *element.Match
	message string
}

func (o attemptOutput) apply(res *core.StepResult) {
	if o.match != nil {
		conf := o.match.Confidence
		res.Confidence = &conf
		res.Strategy = o.match.Strategy
		if o.match.Element != nil {
			res.Element = o.match.Element.Info()
		} else {
			res.Element = nil
		}
	}
	if o.message != "" {
		res.Message = o.message
	}
}

// dispatch performs one attempt of a leaf step.
//
//nolint:gocyclo
func (sr *scriptRunner) dispatch(ctx context.Context, step flow.Step, timeout time.Duration, out *attemptOutput) error {
	switch s := step.(type) {
	case *flow.TapStep:
		m, err := sr.locate(ctx, &s.Locator, timeout, out)
		if err != nil {
			return err
		}
		return sr.sink.Tap(ctx, m.X, m.Y)

	case *flow.LongPressStep:
		m, err := sr.locate(ctx, &s.Locator, timeout, out)
		if err != nil {
			return err
		}
		return sr.sink.LongPress(ctx, m.X, m.Y, millis(s.Duration, DefaultLongPress))

	case *flow.SwipeStep:
		return sr.swipe(ctx, s)

	case *flow.ScrollStep:
		dir := s.Direction
		if dir == "" {
			dir = "down"
		}
		return sr.gesture(ctx, scrollToSwipe(dir), millis(s.Duration, DefaultScroll))

	case *flow.TypeStep:
		return sr.typeText(ctx, s, timeout, out)

	case *flow.PressStep:
		key, err := sr.script.ExpandVariables(ctx, s.Key)
		if err != nil {
			return err
		}
		return sr.sink.PressKey(ctx, key)

	case *flow.OpenStep:
		app, err := sr.script.ExpandVariables(ctx, s.App)
		if err != nil {
			return err
		}
		return sr.sink.OpenApp(ctx, app)

	case *flow.WaitStep:
		return sr.config.Sleep(ctx, seconds(s.Seconds))

	case *flow.WaitForStep:
		return sr.waitFor(ctx, s, timeout, out)

	case *flow.AssertExistsStep:
		return sr.assertPresence(ctx, &s.Locator, s.Message, true, out)

	case *flow.AssertNotExistsStep:
		return sr.assertPresence(ctx, &s.Locator, s.Message, false, out)

	case *flow.AssertStep:
		return sr.assertCondition(ctx, s, out)

	case *flow.SetVariableStep:
		return sr.setVariable(ctx, s, out)

	case *flow.ExtractStep:
		return sr.extract(ctx, s, timeout, out)

	case *flow.LogStep:
		msg, err := sr.script.ExpandVariables(ctx, s.Message)
		if err != nil {
			return err
		}
		level := s.Level
		if level == "" {
			level = "info"
		}
		logger.Log(level, "%s", msg)
		out.message = msg
		return nil

	case *flow.ScreenshotStep:
		return sr.screenshot(ctx, s, out)
	}
	return fmt.Errorf("unsupported action: %s", step.Type())
}

func millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// locate resolves loc to an action point. Element criteria are polled until
// timeout; coordinates are used directly when given alone, or as the
// fallback when no element matches.
func (sr *scriptRunner) locate(ctx context.Context, loc *flow.Locator, timeout time.Duration, out *attemptOutput) (*element.Match, error) {
	c, err := sr.script.ExpandLocator(ctx, loc)
	if err != nil {
		return nil, err
	}
	if !c.HasText() && c.XPath == "" && c.Point != nil {
		m := &element.Match{Strategy: element.StrategyCoordinates, X: c.Point.X, Y: c.Point.Y}
		out.match = m
		return m, nil
	}

	wait := timeout
	if c.Point != nil {
		// keep part of the attempt deadline for the fallback tap
		wait -= timeout / 5
	}
	res, err := sr.provider.WaitFor(ctx, c, wait)
	if target := res.Target(); target != nil {
		out.match = target
		if target.Element == nil {
			logger.Debug("no element for %s (best %.2f), using coordinates (%d, %d)",
				c.Describe(), res.BestConfidence(), target.X, target.Y)
		}
		return target, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, &core.ElementNotFoundError{Locator: c.Describe(), BestConfidence: res.BestConfidence(), Threshold: res.Threshold}
}

// Finger movement for each swipe direction, as fractions of the screen.
var swipeVectors = map[string][4]float64{
	"up":    {0.5, 0.7, 0.5, 0.3},
	"down":  {0.5, 0.3, 0.5, 0.7},
	"left":  {0.8, 0.5, 0.2, 0.5},
	"right": {0.2, 0.5, 0.8, 0.5},
}

// scrollToSwipe maps a scroll direction (content moves toward it) to the
// finger movement.
func scrollToSwipe(dir string) string {
	switch strings.ToLower(dir) {
	case "up":
		return "down"
	case "left":
		return "right"
	case "right":
		return "left"
	}
	return "up"
}

func (sr *scriptRunner) gesture(ctx context.Context, dir string, d time.Duration) error {
	v, ok := swipeVectors[strings.ToLower(dir)]
	if !ok {
		return fmt.Errorf("invalid direction %q", dir)
	}
	w, h, err := sr.provider.ScreenSize(ctx)
	if err != nil {
		return err
	}
	at := func(f float64, size int) int { return int(math.Round(f * float64(size))) }
	return sr.sink.Swipe(ctx, at(v[0], w), at(v[1], h), at(v[2], w), at(v[3], h), d)
}

func (sr *scriptRunner) swipe(ctx context.Context, s *flow.SwipeStep) error {
	d := millis(s.Duration, DefaultSwipe)
	if s.From != nil && s.To != nil {
		return sr.sink.Swipe(ctx, s.From.X, s.From.Y, s.To.X, s.To.Y, d)
	}
	return sr.gesture(ctx, s.Direction, d)
}

func (sr *scriptRunner) typeText(ctx context.Context, s *flow.TypeStep, timeout time.Duration, out *attemptOutput) error {
	text, err := sr.script.ExpandVariables(ctx, s.Text)
	if err != nil {
		return err
	}
	if s.Element != nil {
		m, err := sr.locate(ctx, s.Element, timeout, out)
		if err != nil {
			return err
		}
		if err := sr.sink.Tap(ctx, m.X, m.Y); err != nil {
			return err
		}
	}
	if s.Clear {
		if err := sr.sink.PressKey(ctx, "clear"); err != nil {
			return err
		}
	}
	return sr.sink.Type(ctx, text)
}

func (sr *scriptRunner) waitFor(ctx context.Context, s *flow.WaitForStep, timeout time.Duration, out *attemptOutput) error {
	c, err := sr.script.ExpandLocator(ctx, &s.Locator)
	if err != nil {
		return err
	}
	p := sr.provider
	if s.Interval != nil && *s.Interval > 0 {
		cp := *sr.provider
		cp.PollInterval = seconds(*s.Interval)
		p = &cp
	}
	res, err := p.WaitFor(ctx, c, timeout)
	if err != nil {
		return err
	}
	out.match = res.Match
	return nil
}

// assertPresence checks the current screen once.
func (sr *scriptRunner) assertPresence(ctx context.Context, loc *flow.Locator, message string, present bool, out *attemptOutput) error {
	c, err := sr.script.ExpandLocator(ctx, loc)
	if err != nil {
		return err
	}
	res, err := sr.provider.Locate(ctx, c)
	if err != nil {
		return err
	}

	found := res.Match != nil
	if found {
		out.match = res.Match
	}
	if found == present {
		return nil
	}

	if message != "" {
		msg, err := sr.script.ExpandVariables(ctx, message)
		if err != nil {
			return err
		}
		return &core.AssertionFailedError{Message: msg}
	}
	if present {
		msg := "element not found: " + c.Describe()
		if best := res.BestConfidence(); best > 0 {
			msg += fmt.Sprintf(" (best %.2f < %.2f)", best, res.Threshold)
		}
		return &core.AssertionFailedError{Message: msg}
	}
	return &core.AssertionFailedError{Message: fmt.Sprintf("element is present: %s (%.2f)", c.Describe(), res.Match.Confidence)}
}

func (sr *scriptRunner) assertCondition(ctx context.Context, s *flow.AssertStep, out *attemptOutput) error {
	ok, err := sr.script.EvalCondition(ctx, s.Condition)
	if err != nil {
		return err
	}
	if ok {
		out.message = "condition holds: " + s.Condition
		return nil
	}
	msg := s.Message
	if msg == "" {
		msg = "condition is false: " + s.Condition
	} else if msg, err = sr.script.ExpandVariables(ctx, msg); err != nil {
		return err
	}
	return &core.AssertionFailedError{Message: msg}
}

func (sr *scriptRunner) setVariable(ctx context.Context, s *flow.SetVariableStep, out *attemptOutput) error {
	var v vars.Value
	var err error
	switch {
	case s.Expr != "":
		v, err = sr.script.Evaluate(ctx, s.Expr)
	case s.Value != nil:
		v, err = sr.script.ExpandValue(ctx, *s.Value)
	}
	if err != nil {
		return err
	}
	sr.script.SetVariable(s.Name, v)
	out.message = fmt.Sprintf("%s = %s", s.Name, v.Repr())
	return nil
}

func (sr *scriptRunner) screenshot(ctx context.Context, s *flow.ScreenshotStep, out *attemptOutput) error {
	data, err := sr.sink.Screenshot(ctx)
	if err != nil {
		return err
	}
	name := s.Name
	if name == "" {
		name = fmt.Sprintf("screenshot_%d", len(sr.results))
	} else if name, err = sr.script.ExpandVariables(ctx, name); err != nil {
		return err
	}
	path, err := report.SaveScreenshot(sr.config.ArtifactsDir, name, data)
	if err != nil {
		return err
	}
	out.message = "saved " + path
	return nil
}

// captureFailure saves failure_<index>_<action>.png for a failed step.
func (sr *scriptRunner) captureFailure(res core.StepResult) (string, error) {
	ctx, cancel := context.WithTimeout(sr.ctx, DefaultTimeout)
	defer cancel()
	data, err := sr.sink.Screenshot(ctx)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("empty screenshot")
	}
	return report.SaveScreenshot(sr.config.ArtifactsDir, fmt.Sprintf("failure_%d_%s", res.Index, res.Action), data)
}
