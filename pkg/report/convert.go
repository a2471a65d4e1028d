package report

import (
	"github.com/devicelab-dev/ditto-runner/pkg/core"
)

// StepFrom converts a step result into its report form.
func StepFrom(r core.StepResult) Step {
	step := Step{
		Index:       r.Index,
		Path:        r.Path,
		Action:      r.Action,
		Label:       r.Description,
		Iteration:   r.Iteration,
		Status:      StatusOf(r.Status),
		StartTime:   r.StartTime,
		Duration:    r.Duration.Milliseconds(),
		Message:     r.Message,
		Confidence:  r.Confidence,
		Strategy:    r.Strategy,
		Element:     elementFrom(r.Element),
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		RetryErrors: r.RetryErrors,
		Flaky:       r.Flaky,
		Screenshot:  r.Screenshot,
	}
	if r.Error != "" {
		step.Error = ErrorFrom(r.Category, r.Error)
	}
	return step
}

func elementFrom(e *core.Element) *Element {
	if e == nil {
		return nil
	}
	return &Element{
		ID:          e.ID,
		Text:        e.Text,
		ContentDesc: e.ContentDesc,
		Class:       e.Class,
		Bounds: &Bounds{
			X:      e.Bounds.X,
			Y:      e.Bounds.Y,
			Width:  e.Bounds.Width,
			Height: e.Bounds.Height,
		},
	}
}

// ErrorFrom builds a report error with a hint for the category.
func ErrorFrom(category core.ErrorCategory, message string) *Error {
	return &Error{
		Type:       category.String(),
		Message:    message,
		Suggestion: suggestion(category),
	}
}

func suggestion(category core.ErrorCategory) string {
	switch category {
	case core.ErrCategoryElement:
		return "Check the locator with 'ditto find', or lower --min-confidence"
	case core.ErrCategoryTimeout:
		return "Raise timeout on the step or --timeout for the run"
	case core.ErrCategoryTransport:
		return "Check the device connection with 'ditto devices'"
	case core.ErrCategoryVariable:
		return "Declare the variable, pass it with --var, or give the placeholder a default"
	case core.ErrCategoryExpression:
		return "Run 'ditto validate' to check expressions before running"
	case core.ErrCategoryControlFlow:
		return "Raise max_iterations or fix the loop condition"
	default:
		return ""
	}
}
