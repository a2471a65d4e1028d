// Package flow handles parsing and representation of automation scripts.
package flow

import (
	"fmt"

	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// StepType represents the type of step.
type StepType string

// Step type constants.
const (
	// Interaction
	StepTap       StepType = "tap"
	StepLongPress StepType = "long_press"
	StepSwipe     StepType = "swipe"
	StepScroll    StepType = "scroll"
	StepTypeText  StepType = "type"
	StepPress     StepType = "press"
	StepOpen      StepType = "open"

	// Waiting
	StepWait    StepType = "wait"
	StepWaitFor StepType = "wait_for"

	// Assertions
	StepAssertExists    StepType = "assert_exists"
	StepAssertNotExists StepType = "assert_not_exists"
	StepAssert          StepType = "assert"

	// Data
	StepSetVariable StepType = "set_variable"
	StepExtract     StepType = "extract"
	StepLog         StepType = "log"
	StepScreenshot  StepType = "screenshot"

	// Control flow
	StepIf       StepType = "if"
	StepFor      StepType = "for"
	StepWhile    StepType = "while"
	StepUntil    StepType = "until"
	StepBreak    StepType = "break"
	StepContinue StepType = "continue"
)

// AllStepTypes lists every action in declaration order.
var AllStepTypes = []StepType{
	StepTap, StepLongPress, StepSwipe, StepScroll, StepTypeText, StepPress, StepOpen,
	StepWait, StepWaitFor,
	StepAssertExists, StepAssertNotExists, StepAssert,
	StepSetVariable, StepExtract, StepLog, StepScreenshot,
	StepIf, StepFor, StepWhile, StepUntil, StepBreak, StepContinue,
}

// IsControlFlow reports whether the step type is a block or loop signal.
func (t StepType) IsControlFlow() bool {
	switch t {
	case StepIf, StepFor, StepWhile, StepUntil, StepBreak, StepContinue:
		return true
	}
	return false
}

// Failure policy overrides.
const (
	OnFailureStop     = "stop"
	OnFailureContinue = "continue"
)

// Backoff strategies.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Step is the interface for all script steps. The set of implementations is
// closed: every step embeds BaseStep.
type Step interface {
	Type() StepType
	Base() *BaseStep
	IsOptional() bool
	Label() string
	Describe() string
}

// BaseStep contains common fields for all steps.
type BaseStep struct {
	StepType    StepType `yaml:"-"`
	Line        int      `yaml:"-"` // source line of the step mapping
	Description string   `yaml:"description"`
	Optional    bool     `yaml:"optional"`
	OnFailure   string   `yaml:"on_failure"`  // "", stop, continue
	Timeout     *float64 `yaml:"timeout"`     // seconds
	Retries     *int     `yaml:"retries"`     // retries after the first attempt
	RetryDelay  *float64 `yaml:"retry_delay"` // seconds
	Backoff     string   `yaml:"backoff"`     // fixed, exponential
	WaitBefore  float64  `yaml:"wait_before"` // seconds
	WaitAfter   *float64 `yaml:"wait_after"`  // seconds, default is the run step delay
	When        string   `yaml:"when"`        // guard expression
}

// Type returns the step type.
func (b *BaseStep) Type() StepType { return b.StepType }

// Base returns the common fields.
func (b *BaseStep) Base() *BaseStep { return b }

// IsOptional returns whether the step is optional.
func (b *BaseStep) IsOptional() bool { return b.Optional }

// Label returns the step description.
func (b *BaseStep) Label() string { return b.Description }

// Describe returns a human-readable description.
func (b *BaseStep) Describe() string { return string(b.StepType) }

// ============================================
// Interaction Steps
// ============================================

// TapStep taps on an element or a point.
type TapStep struct {
	BaseStep `yaml:",inline"`
	Locator  Locator `yaml:",inline"` // named so Locator.UnmarshalYAML is not promoted
}

// Describe returns a human-readable description.
func (s *TapStep) Describe() string {
	return fmt.Sprintf("tap %s", s.Locator.DescribeQuoted())
}

// LongPressStep long-presses on an element or a point.
type LongPressStep struct {
	BaseStep `yaml:",inline"`
	Locator  Locator `yaml:",inline"`
	Duration int     `yaml:"duration"` // ms, default 1000
}

// Describe returns a human-readable description.
func (s *LongPressStep) Describe() string {
	return fmt.Sprintf("long press %s", s.Locator.DescribeQuoted())
}

// Point is an explicit screen coordinate.
type Point struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// SwipeStep swipes in a direction or between two points.
type SwipeStep struct {
	BaseStep  `yaml:",inline"`
	Direction string `yaml:"direction"` // up, down, left, right
	From      *Point `yaml:"from"`
	To        *Point `yaml:"to"`
	Duration  int    `yaml:"duration"` // ms, default 300
}

// Describe returns a human-readable description.
func (s *SwipeStep) Describe() string {
	if s.From != nil && s.To != nil {
		return fmt.Sprintf("swipe (%d,%d) -> (%d,%d)", s.From.X, s.From.Y, s.To.X, s.To.Y)
	}
	return "swipe " + s.Direction
}

// ScrollStep scrolls the content in a direction.
type ScrollStep struct {
	BaseStep  `yaml:",inline"`
	Direction string `yaml:"direction"` // default down
	Duration  int    `yaml:"duration"`  // ms, default 500
}

// Describe returns a human-readable description.
func (s *ScrollStep) Describe() string {
	if s.Direction == "" {
		return "scroll down"
	}
	return "scroll " + s.Direction
}

// TypeStep types text, tapping an element first when one is given.
type TypeStep struct {
	BaseStep `yaml:",inline"`
	Text     string   `yaml:"text"`
	Element  *Locator `yaml:"element"`
	Clear    bool     `yaml:"clear"` // select-all and delete before typing
}

// Describe returns a human-readable description.
func (s *TypeStep) Describe() string {
	if s.Element != nil {
		return fmt.Sprintf("type %q into %s", s.Text, s.Element.Describe())
	}
	return fmt.Sprintf("type %q", s.Text)
}

// PressStep presses a device key.
type PressStep struct {
	BaseStep `yaml:",inline"`
	Key      string `yaml:"key"`
}

// Describe returns a human-readable description.
func (s *PressStep) Describe() string { return "press " + s.Key }

// OpenStep opens an app by name or package.
type OpenStep struct {
	BaseStep `yaml:",inline"`
	App      string `yaml:"app"`
}

// Describe returns a human-readable description.
func (s *OpenStep) Describe() string { return "open " + s.App }

// ============================================
// Waiting Steps
// ============================================

// WaitStep sleeps.
type WaitStep struct {
	BaseStep `yaml:",inline"`
	Seconds  float64 `yaml:"seconds"`
}

// Describe returns a human-readable description.
func (s *WaitStep) Describe() string { return fmt.Sprintf("wait %gs", s.Seconds) }

// WaitForStep polls until an element appears. The step timeout bounds the wait.
type WaitForStep struct {
	BaseStep `yaml:",inline"`
	Locator  Locator  `yaml:",inline"`
	Interval *float64 `yaml:"interval"` // poll interval, seconds
}

// Describe returns a human-readable description.
func (s *WaitForStep) Describe() string {
	return fmt.Sprintf("wait for %s", s.Locator.DescribeQuoted())
}

// ============================================
// Assertion Steps
// ============================================

// AssertExistsStep asserts that an element is on screen now.
type AssertExistsStep struct {
	BaseStep `yaml:",inline"`
	Locator  Locator `yaml:",inline"`
	Message  string  `yaml:"message"`
}

// Describe returns a human-readable description.
func (s *AssertExistsStep) Describe() string {
	return fmt.Sprintf("assert exists %s", s.Locator.DescribeQuoted())
}

// AssertNotExistsStep asserts that an element is not on screen now.
type AssertNotExistsStep struct {
	BaseStep `yaml:",inline"`
	Locator  Locator `yaml:",inline"`
	Message  string  `yaml:"message"`
}

// Describe returns a human-readable description.
func (s *AssertNotExistsStep) Describe() string {
	return fmt.Sprintf("assert not exists %s", s.Locator.DescribeQuoted())
}

// AssertStep asserts that a condition holds.
type AssertStep struct {
	BaseStep  `yaml:",inline"`
	Condition string `yaml:"condition"`
	Message   string `yaml:"message"`
}

// Describe returns a human-readable description.
func (s *AssertStep) Describe() string { return "assert " + s.Condition }

// ============================================
// Data Steps
// ============================================

// SetVariableStep sets a variable from an expression or a literal value.
type SetVariableStep struct {
	BaseStep `yaml:",inline"`
	Name     string      `yaml:"name"`
	Value    *vars.Value `yaml:"value"`
	Expr     string      `yaml:"expr"`
}

// Describe returns a human-readable description.
func (s *SetVariableStep) Describe() string {
	if s.Expr != "" {
		return fmt.Sprintf("set %s = %s", s.Name, s.Expr)
	}
	if s.Value != nil {
		return fmt.Sprintf("set %s = %s", s.Name, s.Value.Repr())
	}
	return "set " + s.Name
}

// Extract sources.
const (
	SourceText        = "text"
	SourceAttribute   = "attribute"
	SourceBounds      = "bounds"
	SourceResourceID  = "resource_id"
	SourceContentDesc = "content_desc"
	SourceClass       = "class"
)

// ExtractStep stores data read from a matched element into a variable.
type ExtractStep struct {
	BaseStep  `yaml:",inline"`
	Locator   Locator     `yaml:",inline"`
	Variable  string      `yaml:"variable"`
	Source    string      `yaml:"source"`    // default text
	Attribute string      `yaml:"attribute"` // for source: attribute
	Regex     string      `yaml:"regex"`
	Group     *int        `yaml:"group"`
	Default   *vars.Value `yaml:"default"`
}

// Describe returns a human-readable description.
func (s *ExtractStep) Describe() string {
	src := s.Source
	if src == "" {
		src = SourceText
	}
	return fmt.Sprintf("extract %s of %s into %s", src, s.Locator.Describe(), s.Variable)
}

// LogStep logs a message.
type LogStep struct {
	BaseStep `yaml:",inline"`
	Message  string `yaml:"message"`
	Level    string `yaml:"level"` // debug, info, warn, error
}

// Describe returns a human-readable description.
func (s *LogStep) Describe() string { return "log " + s.Message }

// ScreenshotStep saves a screenshot into the artifacts directory.
type ScreenshotStep struct {
	BaseStep `yaml:",inline"`
	Name     string `yaml:"name"`
}

// Describe returns a human-readable description.
func (s *ScreenshotStep) Describe() string {
	if s.Name == "" {
		return "screenshot"
	}
	return "screenshot " + s.Name
}

// ============================================
// Control Flow Steps
// ============================================

// ElifBranch is one elif clause of an if step.
type ElifBranch struct {
	Condition string
	Then      []Step
	Line      int
}

// IfStep runs the first branch whose condition holds.
type IfStep struct {
	BaseStep  `yaml:",inline"`
	Condition string       `yaml:"condition"`
	Then      []Step       `yaml:"-"`
	Elif      []ElifBranch `yaml:"-"`
	Else      []Step       `yaml:"-"`
}

// Describe returns a human-readable description.
func (s *IfStep) Describe() string { return "if " + s.Condition }

// ForStep iterates over a list.
type ForStep struct {
	BaseStep      `yaml:",inline"`
	Items         vars.Value `yaml:"items"` // list literal or expression string
	ItemVar       string     `yaml:"item_var"`
	IndexVar      string     `yaml:"index_var"`
	MaxIterations int        `yaml:"max_iterations"`
	Steps         []Step     `yaml:"-"`
}

// Describe returns a human-readable description.
func (s *ForStep) Describe() string {
	return fmt.Sprintf("for %s in %s", s.ItemVar, s.Items.Repr())
}

// WhileStep repeats while a condition holds.
type WhileStep struct {
	BaseStep      `yaml:",inline"`
	Condition     string `yaml:"condition"`
	CounterVar    string `yaml:"counter_var"`
	MaxIterations int    `yaml:"max_iterations"`
	Steps         []Step `yaml:"-"`
}

// Describe returns a human-readable description.
func (s *WhileStep) Describe() string { return "while " + s.Condition }

// UntilStep repeats until a condition holds.
type UntilStep struct {
	BaseStep      `yaml:",inline"`
	Condition     string `yaml:"condition"`
	CounterVar    string `yaml:"counter_var"`
	MaxIterations int    `yaml:"max_iterations"`
	Steps         []Step `yaml:"-"`
}

// Describe returns a human-readable description.
func (s *UntilStep) Describe() string { return "until " + s.Condition }

// BreakStep exits the innermost loop.
type BreakStep struct {
	BaseStep `yaml:",inline"`
}

// ContinueStep skips to the next iteration of the innermost loop.
type ContinueStep struct {
	BaseStep `yaml:",inline"`
}
