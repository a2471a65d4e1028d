package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// actionAliases maps accepted alternative action names to their canonical form.
var actionAliases = map[string]StepType{
	"press_key":          StepPress,
	"key":                StepPress,
	"open_app":           StepOpen,
	"launch":             StepOpen,
	"launch_app":         StepOpen,
	"type_text":          StepTypeText,
	"input":              StepTypeText,
	"input_text":         StepTypeText,
	"sleep":              StepWait,
	"wait_for_element":   StepWaitFor,
	"assert_visible":     StepAssertExists,
	"assert_not_visible": StepAssertNotExists,
	"set":                StepSetVariable,
	"set_var":            StepSetVariable,
	"take_screenshot":    StepScreenshot,
	"long_tap":           StepLongPress,
}

// keyAliases renames alternative step keys before decoding.
var keyAliases = map[string]string{
	"resource_id":  "id",
	"content_desc": "desc",
	"steps":        "loop_steps",
	"package":      "app",
	"expression":   "expr",
}

// NormalizeAction returns the canonical step type for an action name:
// lower case, '-' and ' ' become '_', aliases resolved.
func NormalizeAction(action string) (StepType, bool) {
	name := strings.ToLower(strings.TrimSpace(action))
	name = strings.NewReplacer("-", "_", " ", "_").Replace(name)
	if t, ok := actionAliases[name]; ok {
		return t, true
	}
	for _, t := range AllStepTypes {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

// ParseFile parses a script file (YAML or JSON).
func ParseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided script file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses script content. The document is either a mapping with a
// steps list or a bare list of steps.
func Parse(data []byte, sourcePath string) (*Script, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid script: %v", err)}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty script"}
	}

	p := &parser{path: sourcePath}
	script := &Script{
		SourcePath: sourcePath,
		Name:       strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath)),
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		steps, err := p.parseSteps(root)
		if err != nil {
			return nil, err
		}
		script.Steps = steps
	case yaml.MappingNode:
		if err := p.parseHeader(root, script); err != nil {
			return nil, err
		}
	default:
		return nil, p.errorf(root, "script must be a mapping with steps or a list of steps")
	}
	return script, nil
}

type parser struct {
	path string
}

func (p *parser) errorf(node *yaml.Node, format string, args ...interface{}) error {
	return &ParseError{Path: p.path, Line: node.Line, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parseHeader(root *yaml.Node, script *Script) error {
	var stepsNode *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "name":
			script.Name = value.Value
		case "description":
			script.Description = value.Value
		case "variables":
			if value.Kind != yaml.MappingNode {
				if value.ShortTag() == "!!null" {
					continue
				}
				return p.errorf(value, "variables must be a mapping")
			}
			v, err := vars.FromNode(value)
			if err != nil {
				return p.errorf(value, "invalid variables: %v", err)
			}
			script.Variables = vars.ToGoMap(v)
		case "steps":
			stepsNode = value
		default:
			return p.errorf(key, "unknown script field %q", key.Value)
		}
	}
	if stepsNode == nil {
		return p.errorf(root, "script has no steps")
	}
	steps, err := p.parseSteps(stepsNode)
	if err != nil {
		return err
	}
	script.Steps = steps
	return nil
}

func (p *parser) parseSteps(node *yaml.Node) ([]Step, error) {
	if node.ShortTag() == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, p.errorf(node, "steps must be a list")
	}
	steps := make([]Step, 0, len(node.Content))
	for _, item := range node.Content {
		step, err := p.parseStep(item)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// mappingValue returns the value node for key, or nil.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// normalizeKeys renames alias keys in a step mapping in place.
func (p *parser) normalizeKeys(node *yaml.Node) error {
	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if canonical, ok := keyAliases[key.Value]; ok {
			key.Value = canonical
		}
		if seen[key.Value] {
			return p.errorf(key, "duplicate field %q", key.Value)
		}
		seen[key.Value] = true
	}
	return nil
}

func (p *parser) parseStep(node *yaml.Node) (Step, error) {
	if node.Kind != yaml.MappingNode {
		return nil, p.errorf(node, "step must be a mapping with an action")
	}
	actionNode := mappingValue(node, "action")
	if actionNode == nil || actionNode.Kind != yaml.ScalarNode || actionNode.Value == "" {
		return nil, p.errorf(node, "step has no action")
	}
	stepType, ok := NormalizeAction(actionNode.Value)
	if !ok {
		return nil, p.errorf(actionNode, "unknown action: %s", actionNode.Value)
	}
	if err := p.normalizeKeys(node); err != nil {
		return nil, err
	}

	step, err := p.decodeStep(stepType, node)
	if err != nil {
		return nil, err
	}
	base := step.Base()
	base.StepType = stepType
	base.Line = node.Line
	if err := p.validateBase(node, base); err != nil {
		return nil, err
	}
	return step, nil
}

//nolint:gocyclo
func (p *parser) decodeStep(stepType StepType, node *yaml.Node) (Step, error) {
	switch stepType {
	case StepTap:
		var s TapStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		return &s, p.requireLocator(node, &s.Locator)

	case StepLongPress:
		var s LongPressStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		return &s, p.requireLocator(node, &s.Locator)

	case StepSwipe:
		var s SwipeStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		if (s.From == nil) != (s.To == nil) {
			return nil, p.errorf(node, "swipe needs both from and to")
		}
		if s.From == nil {
			if err := p.checkDirection(node, s.Direction, true); err != nil {
				return nil, err
			}
		}
		return &s, nil

	case StepScroll:
		var s ScrollStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		return &s, p.checkDirection(node, s.Direction, false)

	case StepTypeText:
		var s TypeStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		if mappingValue(node, "text") == nil {
			return nil, p.errorf(node, "type needs text")
		}
		return &s, nil

	case StepPress:
		var s PressStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		if s.Key == "" {
			return nil, p.errorf(node, "press needs a key")
		}
		return &s, nil

	case StepOpen:
		var s OpenStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		if s.App == "" {
			return nil, p.errorf(node, "open needs an app")
		}
		return &s, nil

	case StepWait:
		var s WaitStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		if s.Seconds < 0 {
			return nil, p.errorf(node, "wait seconds must not be negative")
		}
		return &s, nil

	case StepWaitFor:
		var s WaitForStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		return &s, p.requireElement(node, &s.Locator)

	case StepAssertExists:
		var s AssertExistsStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		return &s, p.requireElement(node, &s.Locator)

	case StepAssertNotExists:
		var s AssertNotExistsStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		return &s, p.requireElement(node, &s.Locator)

	case StepAssert:
		var s AssertStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		if s.Condition == "" {
			return nil, p.errorf(node, "assert needs a condition")
		}
		return &s, nil

	case StepSetVariable:
		var s SetVariableStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		if s.Name == "" {
			return nil, p.errorf(node, "set_variable needs a name")
		}
		if mappingValue(node, "value") == nil && s.Expr == "" {
			return nil, p.errorf(node, "set_variable needs value or expr")
		}
		if mappingValue(node, "value") != nil && s.Value == nil {
			null := vars.Null
			s.Value = &null
		}
		return &s, nil

	case StepExtract:
		return p.parseExtract(node)

	case StepLog:
		var s LogStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		switch s.Level {
		case "", "debug", "info", "warn", "warning", "error":
		default:
			return nil, p.errorf(node, "invalid log level %q", s.Level)
		}
		return &s, nil

	case StepScreenshot:
		var s ScreenshotStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		return &s, nil

	case StepIf:
		return p.parseIf(node)

	case StepFor:
		return p.parseFor(node)

	case StepWhile:
		var s WhileStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		steps, err := p.parseLoopBody(node, s.Condition, s.MaxIterations)
		if err != nil {
			return nil, err
		}
		s.Steps = steps
		return &s, nil

	case StepUntil:
		var s UntilStep
		if err := p.decode(node, &s); err != nil {
			return nil, err
		}
		steps, err := p.parseLoopBody(node, s.Condition, s.MaxIterations)
		if err != nil {
			return nil, err
		}
		s.Steps = steps
		return &s, nil

	case StepBreak:
		var s BreakStep
		return &s, p.decode(node, &s)

	case StepContinue:
		var s ContinueStep
		return &s, p.decode(node, &s)
	}
	return nil, p.errorf(node, "unsupported action: %s", stepType)
}

func (p *parser) decode(node *yaml.Node, out interface{}) error {
	if err := node.Decode(out); err != nil {
		return wrapParseError(p.path, node.Line, err)
	}
	return nil
}

func (p *parser) requireLocator(node *yaml.Node, l *Locator) error {
	if (l.X == nil) != (l.Y == nil) {
		return p.errorf(node, "coordinates need both x and y")
	}
	if l.IsEmpty() {
		return p.errorf(node, "step needs one of text, id, desc, xpath or x/y")
	}
	return p.checkLocator(node, l)
}

func (p *parser) requireElement(node *yaml.Node, l *Locator) error {
	if !l.HasElement() {
		return p.errorf(node, "step needs one of text, id, desc or xpath")
	}
	return p.checkLocator(node, l)
}

func (p *parser) checkLocator(node *yaml.Node, l *Locator) error {
	if l.MinConfidence != nil && (*l.MinConfidence < 0 || *l.MinConfidence > 1) {
		return p.errorf(node, "min_confidence must be between 0 and 1")
	}
	return nil
}

func (p *parser) checkDirection(node *yaml.Node, dir string, required bool) error {
	switch strings.ToLower(dir) {
	case "up", "down", "left", "right":
		return nil
	case "":
		if !required {
			return nil
		}
	}
	return p.errorf(node, "invalid direction %q (want up, down, left or right)", dir)
}

func (p *parser) validateBase(node *yaml.Node, b *BaseStep) error {
	switch b.OnFailure {
	case "", OnFailureStop, OnFailureContinue:
	default:
		return p.errorf(node, "invalid on_failure %q (want stop or continue)", b.OnFailure)
	}
	switch b.Backoff {
	case "", BackoffFixed, BackoffExponential:
	default:
		return p.errorf(node, "invalid backoff %q (want fixed or exponential)", b.Backoff)
	}
	if b.Retries != nil && *b.Retries < 0 {
		return p.errorf(node, "retries must not be negative")
	}
	if b.Timeout != nil && *b.Timeout < 0 {
		return p.errorf(node, "timeout must not be negative")
	}
	return nil
}

func (p *parser) parseExtract(node *yaml.Node) (Step, error) {
	var s ExtractStep
	if err := p.decode(node, &s); err != nil {
		return nil, err
	}
	if s.Variable == "" {
		return nil, p.errorf(node, "extract needs a variable")
	}
	if err := p.requireElement(node, &s.Locator); err != nil {
		return nil, err
	}
	switch s.Source {
	case "", SourceText, SourceBounds, SourceResourceID, SourceContentDesc, SourceClass:
	case SourceAttribute:
		if s.Attribute == "" {
			return nil, p.errorf(node, "extract source attribute needs an attribute name")
		}
	default:
		return nil, p.errorf(node, "invalid extract source %q", s.Source)
	}
	if s.Group != nil && *s.Group < 0 {
		return nil, p.errorf(node, "regex group must not be negative")
	}
	if mappingValue(node, "default") != nil && s.Default == nil {
		null := vars.Null
		s.Default = &null
	}
	return &s, nil
}

func (p *parser) parseIf(node *yaml.Node) (Step, error) {
	var s IfStep
	if err := p.decode(node, &s); err != nil {
		return nil, err
	}
	if s.Condition == "" {
		return nil, p.errorf(node, "if needs a condition")
	}

	var err error
	if s.Then, err = p.childSteps(node, "then"); err != nil {
		return nil, err
	}
	if s.Else, err = p.childSteps(node, "else"); err != nil {
		return nil, err
	}

	elifNode := mappingValue(node, "elif")
	if elifNode == nil || elifNode.ShortTag() == "!!null" {
		return &s, nil
	}
	if elifNode.Kind != yaml.SequenceNode {
		return nil, p.errorf(elifNode, "elif must be a list of {condition, then}")
	}
	for _, item := range elifNode.Content {
		if item.Kind != yaml.MappingNode {
			return nil, p.errorf(item, "elif entry must be a mapping")
		}
		cond := mappingValue(item, "condition")
		if cond == nil || cond.Value == "" {
			return nil, p.errorf(item, "elif needs a condition")
		}
		then, err := p.childSteps(item, "then")
		if err != nil {
			return nil, err
		}
		s.Elif = append(s.Elif, ElifBranch{Condition: cond.Value, Then: then, Line: item.Line})
	}
	return &s, nil
}

func (p *parser) parseFor(node *yaml.Node) (Step, error) {
	var s ForStep
	if err := p.decode(node, &s); err != nil {
		return nil, err
	}
	itemsNode := mappingValue(node, "items")
	if itemsNode == nil || s.Items.IsNull() {
		return nil, p.errorf(node, "for needs items")
	}
	if k := s.Items.Kind(); k != vars.KindList && k != vars.KindString {
		return nil, p.errorf(itemsNode, "for items must be a list or an expression")
	}
	if s.ItemVar == "" {
		s.ItemVar = "item"
	}
	if s.MaxIterations < 0 {
		return nil, p.errorf(node, "max_iterations must not be negative")
	}
	steps, err := p.childSteps(node, "loop_steps")
	if err != nil {
		return nil, err
	}
	s.Steps = steps
	return &s, nil
}

func (p *parser) parseLoopBody(node *yaml.Node, condition string, maxIterations int) ([]Step, error) {
	if condition == "" {
		return nil, p.errorf(node, "loop needs a condition")
	}
	if maxIterations < 0 {
		return nil, p.errorf(node, "max_iterations must not be negative")
	}
	return p.childSteps(node, "loop_steps")
}

func (p *parser) childSteps(node *yaml.Node, key string) ([]Step, error) {
	child := mappingValue(node, key)
	if child == nil {
		return nil, nil
	}
	return p.parseSteps(child)
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}

// ParseDirectory parses all script files in a directory, sorted by path.
func ParseDirectory(dir string) ([]*Script, error) {
	var scripts []*Script

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !IsScriptFile(path) {
			return nil
		}
		script, err := ParseFile(path)
		if err != nil {
			return err
		}
		scripts = append(scripts, script)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scripts, nil
}

// IsScriptFile reports whether path has a script extension.
func IsScriptFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
