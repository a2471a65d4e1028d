package flow

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// RawScript is the document shape of a script file, used to generate the
// JSON schema. Parsing goes through Parse, not through this type.
type RawScript struct {
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Variables   map[string]interface{} `json:"variables,omitempty"`
	Steps       []RawStep              `json:"steps" jsonschema:"required"`
}

// RawStep is the document shape of a single step, aliases included.
type RawStep struct {
	Action      string   `json:"action" jsonschema:"required,minLength=1"`
	Description string   `json:"description,omitempty"`
	Optional    bool     `json:"optional,omitempty"`
	OnFailure   string   `json:"on_failure,omitempty" jsonschema:"enum=stop,enum=continue"`
	Timeout     *float64 `json:"timeout,omitempty" jsonschema:"minimum=0"`
	Retries     *int     `json:"retries,omitempty" jsonschema:"minimum=0"`
	RetryDelay  *float64 `json:"retry_delay,omitempty" jsonschema:"minimum=0"`
	Backoff     string   `json:"backoff,omitempty" jsonschema:"enum=fixed,enum=exponential"`
	WaitBefore  *float64 `json:"wait_before,omitempty" jsonschema:"minimum=0"`
	WaitAfter   *float64 `json:"wait_after,omitempty" jsonschema:"minimum=0"`
	When        string   `json:"when,omitempty"`

	// Locator
	Text          string   `json:"text,omitempty"`
	ID            string   `json:"id,omitempty"`
	ResourceID    string   `json:"resource_id,omitempty"`
	Desc          string   `json:"desc,omitempty"`
	ContentDesc   string   `json:"content_desc,omitempty"`
	XPath         string   `json:"xpath,omitempty"`
	X             *int     `json:"x,omitempty"`
	Y             *int     `json:"y,omitempty"`
	Fuzzy         *bool    `json:"fuzzy,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty" jsonschema:"minimum=0,maximum=1"`

	// Action parameters
	Duration  *int        `json:"duration,omitempty" jsonschema:"minimum=0"`
	Direction string      `json:"direction,omitempty" jsonschema:"enum=up,enum=down,enum=left,enum=right"`
	From      *RawPoint   `json:"from,omitempty"`
	To        *RawPoint   `json:"to,omitempty"`
	Element   interface{} `json:"element,omitempty" jsonschema:"oneof_type=string;object"`
	Clear     bool        `json:"clear,omitempty"`
	Key       string      `json:"key,omitempty"`
	App       string      `json:"app,omitempty"`
	Package   string      `json:"package,omitempty"`
	Seconds   *float64    `json:"seconds,omitempty" jsonschema:"minimum=0"`
	Interval  *float64    `json:"interval,omitempty" jsonschema:"minimum=0"`
	Message   string      `json:"message,omitempty"`
	Level     string      `json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=warning,enum=error"`

	// Data
	Name       string      `json:"name,omitempty"`
	Value      interface{} `json:"value,omitempty"`
	Expr       string      `json:"expr,omitempty"`
	Expression string      `json:"expression,omitempty"`
	Variable   string      `json:"variable,omitempty"`
	Source     string      `json:"source,omitempty" jsonschema:"enum=text,enum=attribute,enum=bounds,enum=resource_id,enum=content_desc,enum=class"`
	Attribute  string      `json:"attribute,omitempty"`
	Regex      string      `json:"regex,omitempty"`
	Group      *int        `json:"group,omitempty" jsonschema:"minimum=0"`
	Default    interface{} `json:"default,omitempty"`

	// Control flow
	Condition     string      `json:"condition,omitempty"`
	Then          []RawStep   `json:"then,omitempty"`
	Elif          []RawElif   `json:"elif,omitempty"`
	Else          []RawStep   `json:"else,omitempty"`
	Items         interface{} `json:"items,omitempty" jsonschema:"oneof_type=string;array"`
	ItemVar       string      `json:"item_var,omitempty"`
	IndexVar      string      `json:"index_var,omitempty"`
	CounterVar    string      `json:"counter_var,omitempty"`
	MaxIterations *int        `json:"max_iterations,omitempty" jsonschema:"minimum=0"`
	LoopSteps     []RawStep   `json:"loop_steps,omitempty"`
	Steps         []RawStep   `json:"steps,omitempty"`
}

// RawElif is one elif clause.
type RawElif struct {
	Condition string    `json:"condition" jsonschema:"required,minLength=1"`
	Then      []RawStep `json:"then,omitempty"`
}

// RawPoint is an explicit coordinate.
type RawPoint struct {
	X int `json:"x" jsonschema:"required"`
	Y int `json:"y" jsonschema:"required"`
}

// SchemaID is the $id of the generated schema.
const SchemaID = "https://github.com/devicelab-dev/ditto-runner/schemas/script.json"

// Schema returns the JSON schema (Draft 2020-12) for script documents.
func Schema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&RawScript{})
	s.ID = SchemaID
	s.Title = "ditto script"
	s.Description = "Schema for ditto automation scripts (YAML or JSON)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
