package validator

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/ditto-runner/pkg/flow"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	require.NoError(t, err)
	return v
}

// validationErrors unwraps errs into *ValidationError values.
func validationErrors(t *testing.T, errs []error) []*ValidationError {
	t.Helper()
	out := make([]*ValidationError, 0, len(errs))
	for _, err := range errs {
		var ve *ValidationError
		require.True(t, errors.As(err, &ve), "unexpected error type %T", err)
		out = append(out, ve)
	}
	return out
}

const validScript = `
name: checkout
variables:
  user: alice
  items: [a, b]
steps:
  - action: open
    app: com.example
  - action: tap
    text: "Hello {{user}}"
    when: "not logged_in"
  - action: for
    items: "{{items}}"
    loop_steps:
      - action: if
        condition: "item == 'b'"
        then:
          - action: break
      - action: type
        text: "{{item.upper()}}"
  - action: while
    condition: "{{count|0}} < 3"
    loop_steps:
      - action: set_variable
        name: count
        expr: "count + 1"
      - action: continue
  - action: assert
    condition: "len(user) > 0"
    message: "user is {{user}}"
`

func TestValidateBytes_Valid(t *testing.T) {
	v := newValidator(t)
	assert.Empty(t, v.ValidateBytes([]byte(validScript), "checkout.yaml"))
}

func TestValidateBytes_BareList(t *testing.T) {
	v := newValidator(t)
	errs := v.ValidateBytes([]byte(`
- action: tap
  text: Login
- action: press
  key: back
`), "list.yaml")
	assert.Empty(t, errs)
}

func TestValidateBytes_JSON(t *testing.T) {
	v := newValidator(t)
	errs := v.ValidateBytes([]byte(`{"steps": [{"action": "tap", "id": "login"}]}`), "script.json")
	assert.Empty(t, errs)
}

func TestValidateBytes_SchemaErrors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantPath string
	}{
		{
			name:     "missing action",
			content:  "- text: Login\n",
			wantPath: "steps[0]",
		},
		{
			name:     "unknown field",
			content:  "- action: tap\n  text: Login\n  colour: red\n",
			wantPath: "steps[0]",
		},
		{
			name:     "bad enum",
			content:  "- action: tap\n  text: Login\n  backoff: linear\n",
			wantPath: "steps[0].backoff",
		},
		{
			name:     "nested step",
			content:  "- action: if\n  condition: 'true'\n  then:\n    - action: tap\n      retries: -1\n",
			wantPath: "steps[0].then[0].retries",
		},
		{
			name:     "top-level type",
			content:  "name: x\nsteps: nope\n",
			wantPath: "steps",
		},
	}

	v := newValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validationErrors(t, v.ValidateBytes([]byte(tt.content), "bad.yaml"))
			require.NotEmpty(t, errs)

			var paths []string
			for _, e := range errs {
				assert.Equal(t, PhaseSchema, e.Phase)
				paths = append(paths, e.Path)
			}
			assert.Contains(t, paths, tt.wantPath)
		})
	}
}

func TestValidateBytes_InvalidYAML(t *testing.T) {
	v := newValidator(t)
	errs := validationErrors(t, v.ValidateBytes([]byte("- action: [tap\n"), "bad.yaml"))
	require.Len(t, errs, 1)
	assert.Equal(t, PhaseSchema, errs[0].Phase)
	assert.Contains(t, errs[0].Message, "invalid YAML")
}

func TestValidateBytes_StructureErrors(t *testing.T) {
	v := newValidator(t)

	errs := validationErrors(t, v.ValidateBytes([]byte(`
- action: log
  message: hi
- action: fly
`), "bad.yaml"))
	require.Len(t, errs, 1)
	assert.Equal(t, PhaseStructure, errs[0].Phase)
	assert.Equal(t, 4, errs[0].Line)
	assert.Contains(t, errs[0].Message, "unknown action: fly")

	errs = validationErrors(t, v.ValidateBytes([]byte(`
- action: tap
`), "bad.yaml"))
	require.Len(t, errs, 1)
	assert.Equal(t, PhaseStructure, errs[0].Phase)
}

func TestValidateBytes_SemanticErrors(t *testing.T) {
	v := newValidator(t)

	errs := validationErrors(t, v.ValidateBytes([]byte(`
- action: if
  condition: "true"
  then:
    - action: break
- action: tap
  text: "{{open('/etc/passwd')}}"
- action: log
  message: ok
  when: "__import__('os')"
- action: continue
- action: set_variable
  name: x
  expr: "1 +"
`), "bad.yaml"))

	require.Len(t, errs, 5)
	for _, e := range errs {
		assert.Equal(t, PhaseSemantic, e.Phase)
	}

	assert.Equal(t, "steps[0].then[0]", errs[0].Path)
	assert.Equal(t, 5, errs[0].Line)
	assert.Contains(t, errs[0].Message, "break outside of a loop")

	assert.Equal(t, "steps[1]", errs[1].Path)
	assert.Contains(t, errs[1].Message, "text:")

	assert.Equal(t, "steps[2]", errs[2].Path)
	assert.Contains(t, errs[2].Message, "when:")

	assert.Equal(t, "steps[3]", errs[3].Path)
	assert.Contains(t, errs[3].Message, "continue outside of a loop")

	assert.Equal(t, "steps[4]", errs[4].Path)
	assert.Contains(t, errs[4].Message, "expr:")
}

func TestCheckScript_NestedLoops(t *testing.T) {
	script, err := flow.Parse([]byte(`
- action: for
  items: [1, 2]
  loop_steps:
    - action: if
      condition: "item == 2"
      elif:
        - condition: "item == 3"
          then:
            - action: continue
      else:
        - action: break
`), "nested.yaml")
	require.NoError(t, err)
	assert.Empty(t, CheckScript(script))
}

func TestCheckScript_ElifCondition(t *testing.T) {
	script, err := flow.Parse([]byte(`
- action: if
  condition: "a == 1"
  then:
    - action: log
      message: one
  elif:
    - condition: "eval('2')"
      then:
        - action: log
          message: two
`), "elif.yaml")
	require.NoError(t, err)

	errs := validationErrors(t, CheckScript(script))
	require.Len(t, errs, 1)
	assert.Equal(t, "steps[0].elif[0]", errs[0].Path)
}

func TestValidate_Directory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"good.yaml":       "- action: tap\n  text: Login\n",
		"sub/also.yml":    "- action: press\n  key: back\n",
		"bad.yaml":        "- action: fly\n",
		"ditto.yaml":      "retries: 3\n",
		"notes/README.md": "not a script",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	result := newValidator(t).Validate(dir)

	assert.Len(t, result.Files, 3)
	assert.False(t, result.IsValid())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "bad.yaml")
}

func TestValidate_SingleFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(file, []byte(validScript), 0o644))

	result := newValidator(t).Validate(file)
	assert.True(t, result.IsValid(), "errors: %v", result.Errors)
	assert.Equal(t, []string{file}, result.Files)
}

func TestValidate_NonExistent(t *testing.T) {
	result := newValidator(t).Validate("/nonexistent/script.yaml")
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.Contains(result.Errors[0].Error(), "cannot access"))
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{File: "a.yaml", Line: 4, Path: "steps[1]", Message: "boom"}, "a.yaml:4: steps[1]: boom"},
		{ValidationError{File: "a.yaml", Path: "steps[1]", Message: "boom"}, "a.yaml: steps[1]: boom"},
		{ValidationError{File: "a.yaml", Message: "boom"}, "a.yaml: boom"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestInstancePath(t *testing.T) {
	assert.Equal(t, "", instancePath(nil))
	assert.Equal(t, "steps", instancePath([]string{"steps"}))
	assert.Equal(t, "steps[2].then[0].text", instancePath([]string{"steps", "2", "then", "0", "text"}))
	assert.Equal(t, "steps[0].elif[1].condition", instancePath([]string{"steps", "0", "elif", "1", "condition"}))
}
