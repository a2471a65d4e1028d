package core

import (
	"errors"
	"fmt"
	"strings"
)

// ExecutionError represents a structured transport or device error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: command_failed, command_timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches predefined errors by code so that copies made by WithCause
// and friends still satisfy errors.Is(err, ErrCommandFailed).
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined transport errors
var (
	ErrCommandFailed = &ExecutionError{
		Category: ErrCategoryTransport,
		Code:     "command_failed",
		Message:  "device command failed",
	}
	ErrCommandTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "command_timeout",
		Message:  "device command timed out",
	}
	ErrDeviceNotFound = &ExecutionError{
		Category: ErrCategoryTransport,
		Code:     "device_not_found",
		Message:  "no device connected",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// ============================================
// Script errors
// ============================================

// ExpressionError reports a malformed expression or a failure while evaluating one.
// Syntax is true when the expression could not be parsed at all.
type ExpressionError struct {
	Expr    string
	Pos     int
	Message string
	Syntax  bool
}

func (e *ExpressionError) Error() string {
	if e.Syntax {
		return fmt.Sprintf("syntax error in %q at position %d: %s", e.Expr, e.Pos, e.Message)
	}
	return fmt.Sprintf("cannot evaluate %q: %s", e.Expr, e.Message)
}

// Category returns ErrCategoryExpression.
func (e *ExpressionError) Category() ErrorCategory { return ErrCategoryExpression }

// UnsafeExpressionError reports an identifier, attribute or call outside the allow-list.
type UnsafeExpressionError struct {
	Expr   string
	Name   string
	Reason string
}

func (e *UnsafeExpressionError) Error() string {
	return fmt.Sprintf("unsafe expression %q: %s", e.Expr, e.Reason)
}

// Category returns ErrCategoryExpression.
func (e *UnsafeExpressionError) Category() ErrorCategory { return ErrCategoryExpression }

// VariableNotFoundError reports a reference to a variable that is not set.
type VariableNotFoundError struct {
	Name string
}

func (e *VariableNotFoundError) Error() string {
	return fmt.Sprintf("variable not found: %s", e.Name)
}

// Category returns ErrCategoryVariable.
func (e *VariableNotFoundError) Category() ErrorCategory { return ErrCategoryVariable }

// ErrControlFlow matches every control-flow error with errors.Is.
var ErrControlFlow = errors.New("control flow error")

// LoopLimitError reports a loop that hit max_iterations without terminating.
type LoopLimitError struct {
	Loop  string // for, while, until
	Limit int
}

func (e *LoopLimitError) Error() string {
	return fmt.Sprintf("%s loop exceeded max_iterations (%d)", e.Loop, e.Limit)
}

// Is makes LoopLimitError match ErrControlFlow.
func (e *LoopLimitError) Is(target error) bool { return target == ErrControlFlow }

// Category returns ErrCategoryControlFlow.
func (e *LoopLimitError) Category() ErrorCategory { return ErrCategoryControlFlow }

// InvalidControlFlowError reports break or continue outside any loop.
type InvalidControlFlowError struct {
	Signal string
}

func (e *InvalidControlFlowError) Error() string {
	return fmt.Sprintf("%s outside of a loop", e.Signal)
}

// Is makes InvalidControlFlowError match ErrControlFlow.
func (e *InvalidControlFlowError) Is(target error) bool { return target == ErrControlFlow }

// Category returns ErrCategoryControlFlow.
func (e *InvalidControlFlowError) Category() ErrorCategory { return ErrCategoryControlFlow }

// AssertionFailedError reports a failed assert, assert_exists or assert_not_exists.
type AssertionFailedError struct {
	Message string
}

func (e *AssertionFailedError) Error() string {
	return "assertion failed: " + e.Message
}

// Category returns ErrCategoryAssertion.
func (e *AssertionFailedError) Category() ErrorCategory { return ErrCategoryAssertion }

// ElementNotFoundError reports that no candidate reached the confidence threshold.
type ElementNotFoundError struct {
	Locator        string
	BestConfidence float64
	Threshold      float64
}

func (e *ElementNotFoundError) Error() string {
	var b strings.Builder
	b.WriteString("element not found")
	if e.Locator != "" {
		b.WriteString(": ")
		b.WriteString(e.Locator)
	}
	if e.BestConfidence > 0 {
		fmt.Fprintf(&b, " (best %.2f < %.2f)", e.BestConfidence, e.Threshold)
	}
	return b.String()
}

// Category returns ErrCategoryElement.
func (e *ElementNotFoundError) Category() ErrorCategory { return ErrCategoryElement }

// ============================================
// Classification
// ============================================

// CategoryOf returns the category of err, ErrCategoryNone for nil and
// ErrCategoryUnknown for errors outside the taxonomy.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var categorized interface{ Category() ErrorCategory }
	if errors.As(err, &categorized) {
		return categorized.Category()
	}
	var exec *ExecutionError
	if errors.As(err, &exec) {
		return exec.Category
	}
	return ErrCategoryUnknown
}

// IsFatal reports whether err indicates a malformed script. Fatal errors abort
// the run regardless of the failure policy.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var unsafe *UnsafeExpressionError
	if errors.As(err, &unsafe) {
		return true
	}
	if errors.Is(err, ErrControlFlow) {
		return true
	}
	var expr *ExpressionError
	return errors.As(err, &expr) && expr.Syntax
}

// IsRetryable reports whether another attempt could change the outcome.
// Assertions and script errors are definitive; element lookups and transport
// failures are not.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	switch CategoryOf(err) {
	case ErrCategoryAssertion, ErrCategoryExpression, ErrCategoryVariable, ErrCategoryControlFlow:
		return false
	}
	return true
}
