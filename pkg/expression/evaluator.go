// Package expression implements the sandboxed expression language used in
// conditions, set_variable expressions and {{...}} templates.
//
// Expressions are parsed into a syntax tree, checked against an allow-list
// of names, functions and string methods, and only then evaluated. Nothing
// outside the allow-list is reachable: there are no imports, no attribute
// access beyond map keys, and no calls other than the listed builtins,
// string methods and element queries.
package expression

import (
	"context"
	"errors"
	"strings"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
	"github.com/devicelab-dev/ditto-runner/pkg/element"
	"github.com/devicelab-dev/ditto-runner/pkg/vars"
)

// ElementQuerier answers element_* function calls. *element.Provider
// implements it.
type ElementQuerier interface {
	Locate(ctx context.Context, c element.Criteria) (element.Result, error)
	FindAll(ctx context.Context, c element.Criteria) ([]element.Match, error)
	ScreenSize(ctx context.Context) (width, height int, err error)
}

// Program is a parsed expression.
type Program struct {
	Source string
	root   Node
}

// Root returns the syntax tree.
func (p *Program) Root() Node { return p.root }

// Check runs the allow-list pass over the program.
func (p *Program) Check(opts CheckOptions) error {
	return CheckNode(p.Source, p.root, opts)
}

// StripBraces removes a {{ }} wrapper around a whole expression.
func StripBraces(src string) string {
	s := strings.TrimSpace(src)
	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") && strings.Count(s, "{{") == 1 {
		return strings.TrimSpace(s[2 : len(s)-2])
	}
	return s
}

// Compile parses src. A {{ }} wrapper is stripped first.
func Compile(src string) (*Program, error) {
	s := StripBraces(src)
	root, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return &Program{Source: s, root: root}, nil
}

// Check parses src and runs the allow-list pass without evaluating it.
func Check(src string, opts CheckOptions) error {
	p, err := Compile(src)
	if err != nil {
		return err
	}
	return p.Check(opts)
}

// Evaluator evaluates expressions against a variable store. It is owned by a
// single run and is not safe for concurrent use.
type Evaluator struct {
	store    *vars.Store
	elements ElementQuerier
	cache    map[string]*Program
}

// New creates an evaluator. elements may be nil, in which case element_*
// calls fail.
func New(store *vars.Store, elements ElementQuerier) *Evaluator {
	if store == nil {
		store = vars.NewStore()
	}
	return &Evaluator{
		store:    store,
		elements: elements,
		cache:    make(map[string]*Program),
	}
}

// Store returns the variable store.
func (ev *Evaluator) Store() *vars.Store { return ev.store }

func (ev *Evaluator) compile(src string) (*Program, error) {
	if p, ok := ev.cache[src]; ok {
		return p, nil
	}
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	ev.cache[src] = p
	return p, nil
}

// Evaluate parses, checks and evaluates src.
func (ev *Evaluator) Evaluate(ctx context.Context, src string) (vars.Value, error) {
	p, err := ev.compile(src)
	if err != nil {
		return vars.Null, err
	}
	if err := p.Check(CheckOptions{Known: ev.store.Has}); err != nil {
		return vars.Null, err
	}
	e := &env{
		ctx:      ctx,
		src:      p.Source,
		lookup:   func(name string) (vars.Value, bool) { return ev.store.Lookup(name) },
		elements: ev.elements,
	}
	return e.eval(p.root)
}

// EvaluateBool evaluates src and applies truthiness.
func (ev *Evaluator) EvaluateBool(ctx context.Context, src string) (bool, error) {
	v, err := ev.Evaluate(ctx, src)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// EvaluateCondition evaluates a condition that is either an expression or a
// template such as "{{count}} > 3". Each placeholder is replaced by the
// literal of its value and the result is evaluated as an expression.
func (ev *Evaluator) EvaluateCondition(ctx context.Context, cond string) (bool, error) {
	s := StripBraces(cond)
	if vars.HasTemplate(s) {
		resolved, err := ev.store.ResolveExpression(ctx, s, ev)
		if err != nil {
			return false, err
		}
		s = resolved
	}
	return ev.EvaluateBool(ctx, s)
}

var _ vars.Evaluator = (*Evaluator)(nil)

// IsSyntaxError reports whether err is an expression syntax error.
func IsSyntaxError(err error) bool {
	var ee *core.ExpressionError
	return errors.As(err, &ee) && ee.Syntax
}
