package executor

import (
	"context"
	"fmt"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/element"
	"github.com/devicelab-dev/ditto-runner/pkg/expression"
	"github.com/devicelab-dev/ditto-runner/pkg/flow"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// ScriptEngine resolves templates and evaluates expressions for a run. It
// owns the run's variable store.
type ScriptEngine struct {
	store *vars.Store
	eval  *expression.Evaluator
}

// NewScriptEngine creates an engine over store. elements answers element_*
// calls and may be nil.
func NewScriptEngine(store *vars.Store, elements expression.ElementQuerier) *ScriptEngine {
	if store == nil {
		store = vars.NewStore()
	}
	return &ScriptEngine{
		store: store,
		eval:  expression.New(store, elements),
	}
}

// Store returns the variable store.
func (se *ScriptEngine) Store() *vars.Store {
	return se.store
}

// SetVariable sets a top-level variable.
func (se *ScriptEngine) SetVariable(name string, v vars.Value) {
	se.store.Set(name, v)
}

// GetVariable returns a variable or VariableNotFoundError.
func (se *ScriptEngine) GetVariable(name string) (vars.Value, error) {
	return se.store.GetVariable(name)
}

// ExpandVariables resolves every {{ }} placeholder in text.
func (se *ScriptEngine) ExpandVariables(ctx context.Context, text string) (string, error) {
	if !vars.HasTemplate(text) {
		return text, nil
	}
	return se.store.ResolveTemplate(ctx, text, se.eval)
}

// ExpandValue resolves placeholders inside v, keeping types for strings that
// are a single placeholder.
func (se *ScriptEngine) ExpandValue(ctx context.Context, v vars.Value) (vars.Value, error) {
	return se.store.ResolveValues(ctx, v, se.eval)
}

// Evaluate evaluates an expression. Placeholders mixed with expression text
// are replaced by value literals first.
func (se *ScriptEngine) Evaluate(ctx context.Context, src string) (vars.Value, error) {
	s := expression.StripBraces(src)
	if vars.HasTemplate(s) {
		expanded, err := se.store.ResolveExpression(ctx, s, se.eval)
		if err != nil {
			return vars.Null, err
		}
		s = expanded
	}
	return se.eval.Evaluate(ctx, s)
}

// EvalCondition evaluates a condition to a bool.
func (se *ScriptEngine) EvalCondition(ctx context.Context, cond string) (bool, error) {
	return se.eval.EvaluateCondition(ctx, cond)
}

// EvalList evaluates a for-loop items source: a list literal whose string
// elements may hold placeholders, or an expression producing a list.
func (se *ScriptEngine) EvalList(ctx context.Context, items vars.Value) ([]vars.Value, error) {
	var v vars.Value
	var err error
	if src, ok := items.AsString(); ok {
		v, err = se.Evaluate(ctx, src)
	} else {
		v, err = se.ExpandValue(ctx, items)
	}
	if err != nil {
		return nil, err
	}
	list, ok := v.AsList()
	if !ok {
		return nil, &core.ExpressionError{
			Expr:    items.Text(),
			Message: fmt.Sprintf("for items must be a list, got %s", v.Kind()),
		}
	}
	return list, nil
}

// ExpandLocator resolves placeholders in a locator and converts it into
// element criteria.
func (se *ScriptEngine) ExpandLocator(ctx context.Context, loc *flow.Locator) (element.Criteria, error) {
	var c element.Criteria
	fuzzy := loc.IsFuzzy()

	expand := func(s string) (string, error) { return se.ExpandVariables(ctx, s) }

	text, err := expand(loc.Text)
	if err != nil {
		return c, err
	}
	id, err := expand(loc.ID)
	if err != nil {
		return c, err
	}
	desc, err := expand(loc.Desc)
	if err != nil {
		return c, err
	}
	xpath, err := expand(loc.XPath)
	if err != nil {
		return c, err
	}

	c.Text = element.Query{Value: text, Fuzzy: fuzzy}
	c.ID = element.Query{Value: id, Fuzzy: fuzzy}
	c.Desc = element.Query{Value: desc, Fuzzy: fuzzy}
	c.XPath = xpath
	if loc.HasPoint() {
		c.Point = &element.Point{X: *loc.X, Y: *loc.Y}
	}
	c.MinConfidence = loc.MinConfidence
	return c, nil
}
