package core

// StepStatus represents the execution status of a step
type StepStatus int

const (
	StatusPending StepStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusSuccess                   // Completed successfully
	StatusFailure                   // Failed after exhausting retries
	StatusSkipped                   // Guard condition was false
	StatusWarned                    // Optional step failed (non-blocking)
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusSkipped:
		return "skipped"
	case StatusWarned:
		return "warned"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in reports.
func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusSkipped, StatusWarned:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the status does not fail the run
func (s StepStatus) IsSuccess() bool {
	return s == StatusSuccess || s == StatusSkipped || s == StatusWarned
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone        ErrorCategory = iota // No error
	ErrCategoryAssertion                        // assert, assert_exists, assert_not_exists
	ErrCategoryTimeout                          // Device command timed out
	ErrCategoryTransport                        // Device command failed or device missing
	ErrCategoryElement                          // Locator found nothing above threshold
	ErrCategoryExpression                       // Malformed or unsafe expression
	ErrCategoryVariable                         // Unresolved variable reference
	ErrCategoryControlFlow                      // Loop limit, break/continue outside a loop
	ErrCategoryUnknown                          // Anything else
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryTransport:
		return "transport"
	case ErrCategoryElement:
		return "element"
	case ErrCategoryExpression:
		return "expression"
	case ErrCategoryVariable:
		return "variable"
	case ErrCategoryControlFlow:
		return "control_flow"
	default:
		return "unknown"
	}
}

// MarshalText renders the category by name in reports.
func (c ErrorCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
