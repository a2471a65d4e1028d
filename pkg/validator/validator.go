// Package validator checks ditto scripts before execution.
//
// A script goes through three phases: schema (the JSON schema generated from
// the script document types), structure (the step parser) and semantics
// (expression allow-list and break/continue placement). Nothing is executed
// and no device is needed.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/ditto-runner/pkg/expression"
	"github.com/devicelab-dev/ditto-runner/pkg/flow"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// Validation phases.
const (
	PhaseSchema    = "schema"
	PhaseStructure = "structure"
	PhaseSemantic  = "semantic"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Phase   string
	Path    string // step path, e.g. steps[2].then[0]
	Line    int
	Message string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.File)
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d", e.Line)
	}
	if e.Path != "" {
		b.WriteString(": " + e.Path)
	}
	b.WriteString(": " + e.Message)
	return b.String()
}

// Result contains the validation result.
type Result struct {
	// Files is the list of script paths that were checked.
	Files []string
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator validates script files.
type Validator struct {
	schema *sjsonschema.Schema
}

// New creates a Validator with the compiled script schema.
func New() (*Validator, error) {
	data, err := flow.Schema()
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource(flow.SchemaID, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(flow.SchemaID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: sch}, nil
}

// Validate validates a file or every script in a directory.
func (v *Validator) Validate(path string) *Result {
	result := &Result{}

	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    path,
			Phase:   PhaseStructure,
			Message: fmt.Sprintf("cannot access: %v", err),
		})
		return result
	}

	files := []string{path}
	if info.IsDir() {
		files, err = collectScriptFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Phase:   PhaseStructure,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			return result
		}
	}

	for _, file := range files {
		result.Files = append(result.Files, file)
		result.Errors = append(result.Errors, v.ValidateFile(file)...)
	}
	return result
}

// ValidateFile validates one script file.
func (v *Validator) ValidateFile(path string) []error {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided script file
	if err != nil {
		return []error{&ValidationError{File: path, Phase: PhaseStructure, Message: err.Error()}}
	}
	return v.ValidateBytes(data, path)
}

// ValidateBytes validates script content. Later phases run only when the
// earlier ones pass.
func (v *Validator) ValidateBytes(data []byte, name string) []error {
	if errs := v.validateSchema(data, name); len(errs) > 0 {
		return errs
	}

	script, err := flow.Parse(data, name)
	if err != nil {
		out := &ValidationError{File: name, Phase: PhaseStructure, Message: err.Error()}
		var pe *flow.ParseError
		if errors.As(err, &pe) {
			out.Line = pe.Line
			out.Message = pe.Message
		}
		return []error{out}
	}
	return CheckScript(script)
}

// validateSchema checks the raw document against the script JSON schema. A
// bare list of steps is checked as {"steps": [...]}.
func (v *Validator) validateSchema(data []byte, name string) []error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return []error{&ValidationError{File: name, Phase: PhaseSchema, Message: fmt.Sprintf("invalid YAML: %v", err)}}
	}
	if list, ok := raw.([]interface{}); ok {
		raw = map[string]interface{}{"steps": list}
	}

	// Round-trip through JSON so the instance only holds JSON types.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return []error{&ValidationError{File: name, Phase: PhaseSchema, Message: fmt.Sprintf("not representable as JSON: %v", err)}}
	}
	var doc interface{}
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return []error{&ValidationError{File: name, Phase: PhaseSchema, Message: err.Error()}}
	}

	err = v.schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *sjsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []error{&ValidationError{File: name, Phase: PhaseSchema, Message: err.Error()}}
	}
	var errs []error
	for _, cause := range flattenValidationErrors(ve) {
		errs = append(errs, &ValidationError{
			File:    name,
			Phase:   PhaseSchema,
			Path:    instancePath(cause.InstanceLocation),
			Message: fmt.Sprintf("%v", cause.ErrorKind),
		})
	}
	return errs
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// instancePath renders a JSON pointer as a step path: steps/2/then/0/text
// becomes steps[2].then[0].text.
func instancePath(loc []string) string {
	var b strings.Builder
	for _, seg := range loc {
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

// CheckScript runs the semantic checks over a parsed script: every
// expression and template must pass the allow-list, and break/continue must
// sit inside a loop. Variables are only known at run time, so undefined
// names are accepted.
func CheckScript(script *flow.Script) []error {
	c := &semanticChecker{file: script.SourcePath}
	c.steps("steps", script.Steps, 0)
	return c.errs
}

type semanticChecker struct {
	file string
	errs []error
}

func (c *semanticChecker) add(path string, line int, format string, args ...interface{}) {
	c.errs = append(c.errs, &ValidationError{
		File:    c.file,
		Phase:   PhaseSemantic,
		Path:    path,
		Line:    line,
		Message: fmt.Sprintf(format, args...),
	})
}

func (c *semanticChecker) steps(prefix string, steps []flow.Step, loopDepth int) {
	for i, step := range steps {
		path := fmt.Sprintf("%s[%d]", prefix, i)
		c.step(path, step, loopDepth)

		depth := loopDepth
		if flow.IsLoop(step) {
			depth++
		}
		for _, child := range flow.Children(step) {
			c.steps(path+"."+child.Field, child.Steps, depth)
		}
	}
}

func (c *semanticChecker) step(path string, step flow.Step, loopDepth int) {
	base := step.Base()
	line := base.Line
	c.condition(path, line, "when", base.When)

	switch s := step.(type) {
	case *flow.BreakStep, *flow.ContinueStep:
		if loopDepth == 0 {
			c.add(path, line, "%s outside of a loop", step.Type())
		}
	case *flow.IfStep:
		c.condition(path, line, "condition", s.Condition)
		for i, b := range s.Elif {
			c.condition(fmt.Sprintf("%s.elif[%d]", path, i), b.Line, "condition", b.Condition)
		}
	case *flow.WhileStep:
		c.condition(path, line, "condition", s.Condition)
	case *flow.UntilStep:
		c.condition(path, line, "condition", s.Condition)
	case *flow.AssertStep:
		c.condition(path, line, "condition", s.Condition)
		c.template(path, line, "message", s.Message)
	case *flow.ForStep:
		if src, ok := s.Items.AsString(); ok {
			c.condition(path, line, "items", src)
		}
	case *flow.SetVariableStep:
		c.condition(path, line, "expr", s.Expr)
		if s.Value != nil {
			if str, ok := s.Value.AsString(); ok {
				c.template(path, line, "value", str)
			}
		}
	case *flow.TapStep:
		c.locator(path, line, &s.Locator)
	case *flow.LongPressStep:
		c.locator(path, line, &s.Locator)
	case *flow.WaitForStep:
		c.locator(path, line, &s.Locator)
	case *flow.AssertExistsStep:
		c.locator(path, line, &s.Locator)
		c.template(path, line, "message", s.Message)
	case *flow.AssertNotExistsStep:
		c.locator(path, line, &s.Locator)
		c.template(path, line, "message", s.Message)
	case *flow.ExtractStep:
		c.locator(path, line, &s.Locator)
		c.template(path, line, "regex", s.Regex)
	case *flow.TypeStep:
		c.template(path, line, "text", s.Text)
		if s.Element != nil {
			c.locator(path, line, s.Element)
		}
	case *flow.PressStep:
		c.template(path, line, "key", s.Key)
	case *flow.OpenStep:
		c.template(path, line, "app", s.App)
	case *flow.LogStep:
		c.template(path, line, "message", s.Message)
	case *flow.ScreenshotStep:
		c.template(path, line, "name", s.Name)
	}
}

// condition checks an expression field. Fields mixing placeholders with
// expression text are checked placeholder by placeholder.
func (c *semanticChecker) condition(path string, line int, field, src string) {
	if strings.TrimSpace(src) == "" {
		return
	}
	s := expression.StripBraces(src)
	if vars.HasTemplate(s) {
		c.template(path, line, field, s)
		return
	}
	if err := expression.Check(s, checkOptions); err != nil {
		c.add(path, line, "%s: %v", field, err)
	}
}

func (c *semanticChecker) template(path string, line int, field, text string) {
	for _, expr := range vars.Placeholders(text) {
		if expr == "" {
			c.add(path, line, "%s: empty placeholder", field)
			continue
		}
		if err := expression.Check(expr, checkOptions); err != nil {
			c.add(path, line, "%s: %v", field, err)
		}
	}
}

func (c *semanticChecker) locator(path string, line int, loc *flow.Locator) {
	c.template(path, line, "text", loc.Text)
	c.template(path, line, "id", loc.ID)
	c.template(path, line, "desc", loc.Desc)
	c.template(path, line, "xpath", loc.XPath)
}

var checkOptions = expression.CheckOptions{AllowUnknownNames: true}

// collectScriptFiles finds all script files in a directory.
func collectScriptFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if flow.IsScriptFile(path) && !isConfigFile(path) {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// isConfigFile reports whether path is a ditto.yaml run configuration.
func isConfigFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	return base == "ditto.yaml" || base == "ditto.yml"
}
