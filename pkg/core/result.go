package core

import (
	"time"
)

// StepResult captures the complete outcome of executing a single step
type StepResult struct {
	// Identity
	Index       int    `json:"index"`                 // 0-based position in the run
	Path        string `json:"path"`                  // Nesting path: steps[2].loop_steps[0]
	Action      string `json:"action"`                // tap, extract, assert, ...
	Description string `json:"description,omitempty"` // Step label or generated description
	Iteration   int    `json:"iteration,omitempty"`   // 0-based iteration of the innermost loop

	// Status
	Status   StepStatus    `json:"status"`
	Category ErrorCategory `json:"errorCategory,omitempty"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Output
	Message    string   `json:"message,omitempty"`    // Human-readable explanation
	Confidence *float64 `json:"confidence,omitempty"` // Locator confidence for element actions
	Strategy   string   `json:"strategy,omitempty"`   // Winning locator strategy
	Element    *Element `json:"element,omitempty"`    // Element interacted with

	// Error Details
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"` // Technical error message

	// Retry Tracking
	Attempts    int      `json:"attempts"`              // Attempts made (1-based)
	MaxAttempts int      `json:"maxAttempts"`           // Configured retries + 1
	RetryErrors []string `json:"retryErrors,omitempty"` // Errors from previous attempts
	Flaky       bool     `json:"flaky,omitempty"`       // True if passed after retry

	// Debug Artifacts
	Screenshot string `json:"screenshot,omitempty"` // Failure screenshot path
}

// Element is the reported view of an element a step acted on
type Element struct {
	ID          string `json:"id,omitempty"`
	Text        string `json:"text,omitempty"`
	ContentDesc string `json:"contentDesc,omitempty"`
	Class       string `json:"class,omitempty"`
	Bounds      Bounds `json:"bounds"`
}

// SetError records err on the result along with its category.
func (r *StepResult) SetError(err error) {
	r.Err = err
	if err == nil {
		r.Error = ""
		r.Category = ErrCategoryNone
		return
	}
	r.Error = err.Error()
	r.Category = CategoryOf(err)
}

// Summary holds step counts for a run
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Warned  int `json:"warned"`
	Flaky   int `json:"flaky,omitempty"` // Steps that passed after retry
}

// Summarize calculates step counts from results
func Summarize(steps []StepResult) Summary {
	s := Summary{Total: len(steps)}
	for _, step := range steps {
		switch step.Status {
		case StatusSuccess:
			s.Passed++
		case StatusFailure:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusWarned:
			s.Warned++
		}
		if step.Flaky {
			s.Flaky++
		}
	}
	return s
}

// HasFailure checks if any step in the slice has failed
func HasFailure(steps []StepResult) bool {
	for _, step := range steps {
		if step.Status == StatusFailure {
			return true
		}
	}
	return false
}
