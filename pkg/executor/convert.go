package executor

import (
	"encoding/json"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/report"
)

// Report converts the result into a report document.
func (r *RunResult) Report(device *report.Device) *report.Run {
	end := r.StartTime.Add(r.Duration)
	duration := r.Duration.Milliseconds()

	run := &report.Run{
		Version:    report.Version,
		RunID:      r.RunID,
		Script:     r.Script,
		SourceFile: r.SourcePath,
		Device:     device,
		Status:     report.StatusPassed,
		StartTime:  r.StartTime,
		EndTime:    &end,
		Duration:   &duration,
		Summary:    r.Summary,
		Steps:      make([]report.Step, len(r.Steps)),
		Variables:  variablesToJSON(r),
	}
	if !r.Success {
		run.Status = report.StatusFailed
	}
	for i, step := range r.Steps {
		run.Steps[i] = report.StepFrom(step)
	}
	if r.Err != nil {
		run.Error = runErrorToReport(r.Err)
	}
	return run
}

func runErrorToReport(e *RunError) *report.Error {
	out := report.ErrorFrom(core.CategoryOf(e.Err), e.Err.Error())
	out.Path = e.Path
	out.Line = e.Line
	return out
}

func variablesToJSON(r *RunResult) map[string]json.RawMessage {
	if len(r.Variables) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(r.Variables))
	for name, v := range r.Variables {
		data, err := v.MarshalJSON()
		if err != nil {
			continue
		}
		out[name] = data
	}
	return out
}
