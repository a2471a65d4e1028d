// Package report writes run results as JSON documents, with a static HTML
// view and a styled console summary.
//
// Layout of an output directory:
//   - report.json: the run document, rewritten atomically after every step
//   - report.html: optional static view of report.json
//   - *.png: failure and screenshot-step captures
package report

import (
	"encoding/json"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusWarned  Status = "warned"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s != StatusRunning && s != ""
}

// StatusOf maps a step status onto the report vocabulary.
func StatusOf(s core.StepStatus) Status {
	switch s {
	case core.StatusSuccess:
		return StatusPassed
	case core.StatusFailure:
		return StatusFailed
	case core.StatusSkipped:
		return StatusSkipped
	case core.StatusWarned:
		return StatusWarned
	default:
		return StatusRunning
	}
}

// Run is the report document for one script run.
type Run struct {
	Version     string                     `json:"version"`
	RunID       string                     `json:"runId"`
	Script      string                     `json:"script"`
	SourceFile  string                     `json:"sourceFile,omitempty"`
	Device      *Device                    `json:"device,omitempty"`
	Status      Status                     `json:"status"`
	StartTime   time.Time                  `json:"startTime"`
	EndTime     *time.Time                 `json:"endTime,omitempty"`
	Duration    *int64                     `json:"duration,omitempty"` // milliseconds
	LastUpdated time.Time                  `json:"lastUpdated"`
	Summary     core.Summary               `json:"summary"`
	Steps       []Step                     `json:"steps"`
	Variables   map[string]json.RawMessage `json:"variables,omitempty"`
	Error       *Error                     `json:"error,omitempty"`
}

// Device identifies the device a run used.
type Device struct {
	ID           string `json:"id"`
	Platform     string `json:"platform"` // android, mock
	ScreenWidth  int    `json:"screenWidth,omitempty"`
	ScreenHeight int    `json:"screenHeight,omitempty"`
}

// Step is one recorded step outcome.
type Step struct {
	Index       int       `json:"index"`
	Path        string    `json:"path"`
	Action      string    `json:"action"`
	Label       string    `json:"label,omitempty"`
	Iteration   int       `json:"iteration,omitempty"`
	Status      Status    `json:"status"`
	StartTime   time.Time `json:"startTime"`
	Duration    int64     `json:"duration"` // milliseconds
	Message     string    `json:"message,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
	Strategy    string    `json:"strategy,omitempty"`
	Element     *Element  `json:"element,omitempty"`
	Error       *Error    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	RetryErrors []string  `json:"retryErrors,omitempty"`
	Flaky       bool      `json:"flaky,omitempty"`
	Screenshot  string    `json:"screenshot,omitempty"`
}

// Element contains information about the element a step acted on.
type Element struct {
	ID          string  `json:"id,omitempty"`
	Text        string  `json:"text,omitempty"`
	ContentDesc string  `json:"contentDesc,omitempty"`
	Class       string  `json:"class,omitempty"`
	Bounds      *Bounds `json:"bounds,omitempty"`
}

// Bounds represents element bounds.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Error contains error details.
type Error struct {
	Type       string `json:"type"` // assertion, timeout, element, expression, ...
	Message    string `json:"message"`
	Path       string `json:"path,omitempty"`
	Line       int    `json:"line,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}
