package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/element"
	"github.com/devicelab-dev/ditto-runner/pkg/flow"
	"github.com/devicelab-dev/ditto-runner/pkg/logger"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// signal is a pending loop-control request. Signals are returned values,
// never errors.
type signal int

const (
	signalNone signal = iota
	signalBreak
	signalContinue
)

// frame is one active loop.
type frame struct {
	kind      flow.StepType
	iteration int // 0-based
	limit     int
}

// scriptRunner interprets one script. It is single-threaded and owns the
// frame stack and the ordered results.
type scriptRunner struct {
	ctx      context.Context
	config   RunnerConfig
	script   *ScriptEngine
	provider *element.Provider
	sink     core.ActionSink

	frames  []*frame
	results []core.StepResult
}

// runBlock runs steps in order. It stops early on a signal, which the caller
// propagates to the innermost loop, or on a halting error.
func (sr *scriptRunner) runBlock(prefix string, steps []flow.Step) (signal, error) {
	for i, step := range steps {
		if err := sr.ctx.Err(); err != nil {
			return signalNone, &RunError{Path: indexPath(prefix, i), Index: -1, Action: string(step.Type()), Err: err}
		}
		sig, err := sr.runStep(indexPath(prefix, i), step)
		if err != nil {
			return signalNone, err
		}
		if sig != signalNone {
			return sig, nil
		}
	}
	return signalNone, nil
}

// runStep runs one step of any kind.
func (sr *scriptRunner) runStep(path string, step flow.Step) (signal, error) {
	base := step.Base()

	if base.When != "" {
		ok, err := sr.script.EvalCondition(sr.ctx, base.When)
		if err != nil {
			return signalNone, sr.fail(path, step, time.Now(), fmt.Errorf("when: %w", err))
		}
		if !ok {
			sr.record(sr.newResult(path, step, time.Now(), core.StatusSkipped, "when condition is false"))
			return signalNone, nil
		}
	}

	switch s := step.(type) {
	case *flow.IfStep:
		return sr.runIf(path, s)
	case *flow.ForStep:
		return signalNone, sr.runFor(path, s)
	case *flow.WhileStep:
		return signalNone, sr.runConditional(path, s, s.Condition, s.CounterVar, s.MaxIterations, s.Steps, false)
	case *flow.UntilStep:
		return signalNone, sr.runConditional(path, s, s.Condition, s.CounterVar, s.MaxIterations, s.Steps, true)
	case *flow.BreakStep:
		return sr.loopSignal(path, s, signalBreak)
	case *flow.ContinueStep:
		return sr.loopSignal(path, s, signalContinue)
	}

	if sr.config.OnStepStart != nil {
		sr.config.OnStepStart(path, step)
	}
	res := sr.execute(path, step)
	return signalNone, sr.settle(res, step)
}

func (sr *scriptRunner) loopSignal(path string, step flow.Step, sig signal) (signal, error) {
	if len(sr.frames) == 0 {
		return signalNone, sr.fail(path, step, time.Now(), &core.InvalidControlFlowError{Signal: string(step.Type())})
	}
	logger.Debug("%s: %s", path, step.Type())
	return sig, nil
}

func (sr *scriptRunner) runIf(path string, step *flow.IfStep) (signal, error) {
	start := time.Now()
	ok, err := sr.script.EvalCondition(sr.ctx, step.Condition)
	if err != nil {
		return signalNone, sr.fail(path, step, start, err)
	}
	if ok {
		return sr.runBlock(path+".then", step.Then)
	}
	for i, branch := range step.Elif {
		ok, err := sr.script.EvalCondition(sr.ctx, branch.Condition)
		if err != nil {
			return signalNone, sr.fail(indexPath(path+".elif", i), step, start, err)
		}
		if ok {
			return sr.runBlock(indexPath(path+".elif", i)+".then", branch.Then)
		}
	}
	if len(step.Else) > 0 {
		return sr.runBlock(path+".else", step.Else)
	}
	return signalNone, nil
}

func (sr *scriptRunner) loopLimit(limit int) int {
	if limit > 0 {
		return limit
	}
	return sr.config.MaxIterations
}

func (sr *scriptRunner) push(kind flow.StepType, limit int) *frame {
	f := &frame{kind: kind, limit: limit}
	sr.frames = append(sr.frames, f)
	return f
}

func (sr *scriptRunner) pop() {
	sr.frames = sr.frames[:len(sr.frames)-1]
}

// runFor iterates over items resolved once at loop entry. The cap is
// enforced lazily: it fails only when another item remains after limit
// iterations.
func (sr *scriptRunner) runFor(path string, step *flow.ForStep) error {
	start := time.Now()
	items, err := sr.script.EvalList(sr.ctx, step.Items)
	if err != nil {
		return sr.fail(path, step, start, err)
	}

	limit := sr.loopLimit(step.MaxIterations)
	f := sr.push(flow.StepFor, limit)
	defer sr.pop()

	for i, item := range items {
		if i >= limit {
			return sr.fail(path, step, start, &core.LoopLimitError{Loop: string(flow.StepFor), Limit: limit})
		}
		f.iteration = i
		sr.script.SetVariable(step.ItemVar, item)
		if step.IndexVar != "" {
			sr.script.SetVariable(step.IndexVar, vars.Int(int64(i)))
		}

		sig, err := sr.runBlock(path+".loop_steps", step.Steps)
		if err != nil {
			return err
		}
		if sig == signalBreak {
			break
		}
	}
	return nil
}

// runConditional runs a while loop, or an until loop when until is set.
// counterVar holds the number of completed iterations at every condition
// check.
func (sr *scriptRunner) runConditional(path string, step flow.Step, cond, counterVar string, maxIterations int, body []flow.Step, until bool) error {
	start := time.Now()
	limit := sr.loopLimit(maxIterations)
	f := sr.push(step.Type(), limit)
	defer sr.pop()

	for completed := 0; ; completed++ {
		if counterVar != "" {
			sr.script.SetVariable(counterVar, vars.Int(int64(completed)))
		}
		ok, err := sr.script.EvalCondition(sr.ctx, cond)
		if err != nil {
			return sr.fail(path, step, start, err)
		}
		if ok == until {
			return nil
		}
		if completed >= limit {
			return sr.fail(path, step, start, &core.LoopLimitError{Loop: string(step.Type()), Limit: limit})
		}

		f.iteration = completed
		sig, err := sr.runBlock(path+".loop_steps", body)
		if err != nil {
			return err
		}
		if sig == signalBreak {
			return nil
		}
		if err := sr.ctx.Err(); err != nil {
			return &RunError{Path: path, Index: -1, Action: string(step.Type()), Err: err}
		}
	}
}

// newResult starts a result for step.
func (sr *scriptRunner) newResult(path string, step flow.Step, start time.Time, status core.StepStatus, msg string) core.StepResult {
	desc := step.Label()
	if desc == "" {
		desc = step.Describe()
	}
	res := core.StepResult{
		Index:       len(sr.results),
		Path:        path,
		Action:      string(step.Type()),
		Description: desc,
		Status:      status,
		StartTime:   start,
		Duration:    time.Since(start),
		Message:     msg,
	}
	if n := len(sr.frames); n > 0 {
		res.Iteration = sr.frames[n-1].iteration
	}
	return res
}

// fail records a failure of a control-flow step or a guard and applies the
// failure policy.
func (sr *scriptRunner) fail(path string, step flow.Step, start time.Time, err error) error {
	res := sr.newResult(path, step, start, core.StatusFailure, "")
	res.SetError(err)
	res.Attempts = 1
	res.MaxAttempts = 1
	if step.IsOptional() && !core.IsFatal(err) {
		res.Status = core.StatusWarned
	}
	return sr.settle(res, step)
}

func (sr *scriptRunner) record(res core.StepResult) {
	res.Index = len(sr.results)
	sr.results = append(sr.results, res)

	entry := logger.Step(res.Path, res.Action)
	switch res.Status {
	case core.StatusFailure:
		entry.Errorf("%s failed: %s", res.Description, res.Error)
	case core.StatusWarned:
		entry.Warnf("%s failed (optional): %s", res.Description, res.Error)
	case core.StatusSkipped:
		entry.Debugf("%s skipped: %s", res.Description, res.Message)
	default:
		entry.Debugf("%s passed in %s", res.Description, res.Duration)
	}

	if sr.config.OnStepComplete != nil {
		sr.config.OnStepComplete(res)
	}
}

// settle records res and decides whether the run halts. Fatal errors always
// halt; other failures halt when the step or the run says stop.
func (sr *scriptRunner) settle(res core.StepResult, step flow.Step) error {
	sr.record(res)
	if res.Status != core.StatusFailure {
		return nil
	}

	stop := sr.config.StopOnFailure
	switch step.Base().OnFailure {
	case flow.OnFailureStop:
		stop = true
	case flow.OnFailureContinue:
		stop = false
	}
	if !stop && !core.IsFatal(res.Err) && !isCanceled(sr.ctx, res.Err) {
		return nil
	}
	return &RunError{
		Path:   res.Path,
		Index:  res.Index,
		Action: res.Action,
		Line:   step.Base().Line,
		Err:    res.Err,
	}
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func indexPath(prefix string, i int) string {
	return fmt.Sprintf("%s[%d]", prefix, i)
}
